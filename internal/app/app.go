// Package app wires all kaudio server subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until the context is cancelled, and Shutdown
// tears everything down in order.
//
// For testing, inject doubles via functional options (WithStore,
// WithMetrics, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/MrWong99/kaudio/internal/config"
	"github.com/MrWong99/kaudio/internal/health"
	"github.com/MrWong99/kaudio/internal/httpapi"
	"github.com/MrWong99/kaudio/internal/observe"
	"github.com/MrWong99/kaudio/internal/proxy"
	"github.com/MrWong99/kaudio/internal/session"
	"github.com/MrWong99/kaudio/internal/store"
	"github.com/MrWong99/kaudio/internal/store/memory"
	"github.com/MrWong99/kaudio/internal/store/postgres"
	"github.com/MrWong99/kaudio/internal/store/sqlite"
	"github.com/MrWong99/kaudio/internal/summarize"
	"github.com/MrWong99/kaudio/internal/transcribe"
	"github.com/MrWong99/kaudio/internal/translate"
	"github.com/MrWong99/kaudio/pkg/provider/llm"
	"github.com/MrWong99/kaudio/pkg/provider/vad"
)

// Providers holds the provider slots. Populated by main.go via the config
// registry.
type Providers struct {
	// LLM serves chat, summarization and translation. Nil disables all three.
	LLM llm.Provider

	// STT constructs the transcription model. It is invoked once by New; a
	// failure leaves the server running with the model reported as unloaded.
	STT transcribe.Loader

	// VAD creates one classifier per streaming connection. Required.
	VAD vad.Engine
}

// App owns all subsystem lifetimes of the kaudio server.
type App struct {
	cfg       *config.Config
	providers *Providers

	model      *transcribe.ModelService
	worker     *transcribe.Worker
	store      store.Store
	tts        *proxy.Client
	sessions   *session.Manager
	metrics    *observe.Metrics
	metricsH   http.Handler
	listener   net.Listener
	handler    http.Handler
	server     *http.Server
	translator translate.Translator
	summarizer summarize.Summarizer

	// closers are called in order during Shutdown, after the HTTP server
	// has stopped.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a transcript store instead of opening one from config.
func WithStore(s store.Store) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics injects the metric instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler mounts h at the configured metrics path.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsH = h }
}

// WithListener makes Run serve on l instead of listening on
// server.listen_addr.
func WithListener(l net.Listener) Option {
	return func(a *App) { a.listener = l }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. A model load failure
// is logged and leaves streaming disabled; every other failure is returned.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.VAD == nil {
		return nil, errors.New("app: a VAD engine is required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		sessions:  session.NewManager(),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Transcription model + worker pool ─────────────────────────────
	a.initModel()

	// ── 2. Transcript store ──────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 3. LLM-backed services ───────────────────────────────────────────
	if providers.LLM != nil {
		a.translator = translate.New(providers.LLM, translate.WithMetrics(a.metrics))
		a.summarizer = summarize.New(providers.LLM, cfg.LLM.Model, a.metrics)
	} else {
		slog.Warn("no LLM configured; chat, summarization and translation are disabled")
	}

	// ── 4. Speech relay ──────────────────────────────────────────────────
	if err := a.initTTS(); err != nil {
		return nil, fmt.Errorf("app: init tts relay: %w", err)
	}

	// ── 5. HTTP surface ──────────────────────────────────────────────────
	a.handler = httpapi.New(httpapi.Deps{
		Model:       a.model,
		Transcriber: a.worker,
		VAD:         providers.VAD,
		VADConfig: vad.Config{
			SampleRate:      cfg.Streaming.SampleRate,
			FrameSizeMs:     cfg.Streaming.FrameMs,
			SpeechThreshold: cfg.Streaming.VADThreshold,
		},
		SilenceFrames:   cfg.Streaming.SilenceFrames(),
		MaxTranslations: cfg.Streaming.TranslationLimit(),
		Translator:      a.translator,
		Summarizer:      a.summarizer,
		LLM:             providers.LLM,
		ChatModel:       cfg.LLM.Model,
		TTS:             a.tts,
		Store:           a.store,
		Sessions:        a.sessions,
		Health:          health.New(a.model, a.checkers()...),
		Metrics:         a.metrics,
		MetricsHandler:  a.metricsH,
		MetricsPath:     cfg.Telemetry.MetricsPath,
	}).Handler()

	a.server = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initModel loads the STT model and builds the bounded worker pool over it.
func (a *App) initModel() {
	a.model = transcribe.NewModelService(a.providers.STT)
	if err := a.model.Load(); err != nil {
		slog.Error("stt model failed to load; streaming and file transcription are unavailable", "err", err)
	} else {
		slog.Info("stt model loaded", "provider", a.cfg.STT.Name, "model", a.cfg.STT.Model)
	}
	a.closers = append(a.closers, a.model.Close)

	a.worker = transcribe.NewWorker(a.model, a.cfg.STT.Workers,
		transcribe.WithMetrics(a.metrics),
		transcribe.WithFilter(FilterConfig(a.cfg.Streaming)),
	)
}

// initStore opens the configured transcript store unless one was injected.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}

	var (
		st  store.Store
		err error
	)
	switch a.cfg.Storage.Driver {
	case config.StorageNone:
		slog.Info("transcript storage disabled")
		return nil
	case config.StorageMemory:
		st = memory.New()
	case config.StorageSQLite:
		st, err = sqlite.Open(ctx, a.cfg.Storage.DSN)
	case config.StoragePostgres:
		st, err = postgres.NewStore(ctx, a.cfg.Storage.DSN)
	default:
		return fmt.Errorf("unknown storage driver %q", a.cfg.Storage.Driver)
	}
	if err != nil {
		return err
	}
	a.store = st
	a.closers = append(a.closers, st.Close)
	slog.Info("transcript storage ready", "driver", a.cfg.Storage.Driver)
	return nil
}

// initTTS builds the speech relay client. The configured timeout bounds the
// wait for response headers so long streamed bodies are not cut off.
func (a *App) initTTS() error {
	if a.cfg.TTS.BaseURL == "" {
		return nil
	}
	client := &http.Client{Transport: &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		ResponseHeaderTimeout: a.cfg.TTS.Timeout,
	}}
	c, err := proxy.New(a.cfg.TTS.BaseURL,
		proxy.WithHTTPClient(client),
		proxy.WithVoicesTimeout(a.cfg.TTS.VoicesTimeout),
		proxy.WithMetrics(a.metrics),
	)
	if err != nil {
		return err
	}
	a.tts = c
	return nil
}

type backendChecker interface {
	Check(ctx context.Context) error
}

// checkers returns the readiness checks for /readyz.
func (a *App) checkers() []health.Checker {
	cs := []health.Checker{{
		Name: "stt_model",
		Check: func(context.Context) error {
			if a.model.Loaded() {
				return nil
			}
			if err := a.model.LoadError(); err != nil {
				return err
			}
			return errors.New("model not loaded")
		},
	}}
	if a.store != nil {
		cs = append(cs, health.Checker{Name: "storage", Check: a.store.Ping})
	}
	// Failover chains report unready once every backend's breaker is open.
	if c, ok := a.providers.LLM.(backendChecker); ok {
		cs = append(cs, health.Checker{Name: "llm_backends", Check: c.Check})
	}
	return cs
}

// FilterConfig derives the confidence filter from the streaming settings.
func FilterConfig(s config.StreamingConfig) transcribe.FilterConfig {
	return transcribe.FilterConfig{
		NoSpeechThreshold:    s.NoSpeechThreshold,
		LogProbThreshold:     s.LogProbThreshold,
		HallucinationPhrases: append([]string(nil), s.HallucinationPhrases...),
	}
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Handler returns the HTTP handler serving every route.
func (a *App) Handler() http.Handler { return a.handler }

// Sessions returns the registry of running streaming sessions.
func (a *App) Sessions() *session.Manager { return a.sessions }

// ─── Reload ──────────────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable parts of next. Sections that need a
// restart are only logged.
func (a *App) ApplyConfig(d config.ConfigDiff, next *config.Config) {
	if d.FilterChanged {
		f := FilterConfig(next.Streaming)
		a.worker.SetFilter(f)
		slog.Info("confidence filter updated",
			"no_speech_threshold", f.NoSpeechThreshold,
			"logprob_threshold", f.LogProbThreshold,
			"hallucination_phrases", len(f.HallucinationPhrases),
		)
	}
	for _, section := range d.RestartRequired {
		slog.Warn("config change requires a restart", "section", section)
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP and blocks until ctx is cancelled or the server fails.
// When ctx is done, Run returns context.Canceled (or the underlying cause);
// call Shutdown afterwards to drain sessions.
func (a *App) Run(ctx context.Context) error {
	ln := a.listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", a.cfg.Server.ListenAddr)
		if err != nil {
			return fmt.Errorf("app: listen: %w", err)
		}
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.server.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.Serve(ln)
		}
		errCh <- err
	}()

	slog.Info("app running", "addr", ln.Addr().String(), "tls", a.cfg.Server.TLS != nil)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops streaming sessions first, then the HTTP server, then the
// remaining subsystems. It respects the context deadline: if ctx expires
// before all closers finish, remaining closers are skipped and the context
// error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "sessions", a.sessions.Len(), "closers", len(a.closers))

		if err := a.sessions.Shutdown(ctx); err != nil {
			slog.Warn("sessions did not finish before the deadline", "err", err)
			shutdownErr = err
		}
		if err := a.server.Shutdown(ctx); err != nil {
			slog.Warn("http server shutdown error", "err", err)
			shutdownErr = errors.Join(shutdownErr, err)
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = errors.Join(shutdownErr, ctx.Err())
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
