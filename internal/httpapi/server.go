// Package httpapi exposes the kaudio server over HTTP and WebSocket.
//
// Routes:
//
//	GET  /                                welcome message
//	GET  /health, /healthz, /readyz       health probes
//	GET  /metrics                         Prometheus scrape endpoint
//	WS   /v1/audio/transcriptions/ws      streaming transcription
//	POST /v1/audio/transcriptions         one-shot file transcription
//	POST /v1/audio/speech                 speech synthesis relay
//	GET  /v1/audio/voices                 voice listing relay
//	POST /v1/summarizations               transcript summary
//	POST /v1/chat/completions             chat completion proxy
//	GET  /v1/sessions                     running streaming sessions
//	GET  /v1/transcripts/{session_id}     stored transcript of a session
//
// Errors are answered as {"detail": "..."}.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MrWong99/kaudio/internal/health"
	"github.com/MrWong99/kaudio/internal/observe"
	"github.com/MrWong99/kaudio/internal/proxy"
	"github.com/MrWong99/kaudio/internal/session"
	"github.com/MrWong99/kaudio/internal/store"
	"github.com/MrWong99/kaudio/internal/summarize"
	"github.com/MrWong99/kaudio/internal/translate"
	"github.com/MrWong99/kaudio/pkg/provider/llm"
	"github.com/MrWong99/kaudio/pkg/provider/stt"
	"github.com/MrWong99/kaudio/pkg/provider/vad"
)

// Model is the transcription model as seen by the handlers.
type Model interface {
	stt.Provider
	Loaded() bool
	LoadError() error
}

// Deps are the collaborators of a [Server]. Optional fields may be nil; the
// routes depending on them answer 503.
type Deps struct {
	// Model and Transcriber are required.
	Model       Model
	Transcriber session.Transcriber

	// VAD creates one classifier per streaming connection. Required.
	VAD       vad.Engine
	VADConfig vad.Config

	// SilenceFrames ends an utterance. Required.
	SilenceFrames int

	// MaxTranslations caps concurrent translations per connection.
	MaxTranslations int

	Translator translate.Translator
	Summarizer summarize.Summarizer

	// LLM serves the chat proxy; ChatModel is used when a request names none.
	LLM       llm.Provider
	ChatModel string

	TTS   *proxy.Client
	Store store.Store

	Sessions *session.Manager
	Health   *health.Handler
	Metrics  *observe.Metrics

	// MetricsHandler is mounted at MetricsPath when set.
	MetricsHandler http.Handler
	MetricsPath    string
}

// Server holds the handlers. Build its router with [Server.Handler].
type Server struct {
	d Deps
}

// New returns a server over d.
func New(d Deps) *Server {
	if d.Metrics == nil {
		d.Metrics = observe.DefaultMetrics()
	}
	if d.Sessions == nil {
		d.Sessions = session.NewManager()
	}
	if d.Health == nil {
		d.Health = health.New(d.Model)
	}
	if d.MetricsPath == "" {
		d.MetricsPath = "/metrics"
	}
	return &Server{d: d}
}

// Handler builds the chi router with the observability middleware.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(observe.Middleware(s.d.Metrics))

	r.Get("/", s.handleRoot)
	s.d.Health.Register(r)
	if s.d.MetricsHandler != nil {
		r.Handle(s.d.MetricsPath, s.d.MetricsHandler)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/audio/transcriptions/ws", s.handleStream)
		r.Post("/audio/transcriptions", s.handleFileTranscription)
		r.Post("/audio/speech", s.handleSpeech)
		r.Get("/audio/voices", s.handleVoices)
		r.Post("/summarizations", s.handleSummarize)
		r.Post("/chat/completions", s.handleChat)
		r.Get("/sessions", s.handleSessions)
		r.Get("/transcripts/{session_id}", s.handleTranscript)
	})
	return r
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Welcome to K.audio API Server!"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type detail struct {
	Detail string `json:"detail"`
}

func writeDetail(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, detail{Detail: msg})
}
