package client

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/MrWong99/kaudio/internal/protocol"
)

// defaultQueueSize bounds pending router work.
const defaultQueueSize = 256

// Router serializes every client state update through a single queue. The
// receiver and background HTTP tasks post into it; Run drains it on one
// goroutine, so handlers never need their own locking against each other.
type Router struct {
	queue chan func()
	done  chan struct{}
	once  sync.Once

	out        io.Writer
	transcript *Transcript
	orch       *Orchestrator

	// OnSummary receives summary_result text; optional.
	OnSummary func(summary string)
}

// NewRouter returns a router printing to out and appending finals to t.
// The orchestrator may be attached later with [Router.SetOrchestrator].
func NewRouter(out io.Writer, t *Transcript) *Router {
	return &Router{
		queue:      make(chan func(), defaultQueueSize),
		done:       make(chan struct{}),
		out:        out,
		transcript: t,
	}
}

// SetOrchestrator attaches the conversation orchestrator. Call before Run.
func (r *Router) SetOrchestrator(o *Orchestrator) { r.orch = o }

// Post schedules msg for handling. Messages posted after the router stopped
// are dropped.
func (r *Router) Post(msg protocol.Message) {
	r.Do(func() { r.Handle(msg) })
}

// Do schedules fn on the router goroutine.
func (r *Router) Do(fn func()) {
	select {
	case <-r.done:
		slog.Debug("router stopped, dropping update")
	case r.queue <- fn:
	}
}

// Run drains the queue until ctx is done, then runs whatever is still
// queued and returns.
func (r *Router) Run(ctx context.Context) {
	defer r.once.Do(func() { close(r.done) })
	for {
		select {
		case fn := <-r.queue:
			fn()
		case <-ctx.Done():
			for {
				select {
				case fn := <-r.queue:
					fn()
				default:
					return
				}
			}
		}
	}
}

// Handle applies one message. It must run on the router goroutine, or
// before Run has started.
func (r *Router) Handle(msg protocol.Message) {
	switch m := msg.(type) {
	case protocol.Final:
		text := m.Text
		if text == "" {
			return
		}
		lang := m.Language
		if lang == "" {
			lang = "?"
		}
		r.printf("Transcript (%s): %s\n", lang, text)
		r.transcript.Append(text)
		if r.orch != nil {
			r.orch.OnFinal(text)
		}
	case protocol.Translation:
		r.printf("Translation (%s->%s): %s\n", m.SourceLang, m.TargetLang, m.TranslatedText)
	case protocol.Info:
		r.printf("Info: %s\n", m.Message)
	case protocol.Error:
		r.printf("Error: %s\n", m.Message)
	case protocol.LLMResponse:
		if m.Text != "" {
			r.printf("Assistant: %s\n", m.Text)
		}
		if r.orch != nil {
			r.orch.OnReply(m.Text)
		}
	case protocol.TTSStatus:
		r.printf("TTS: %s\n", m.Message)
		if r.orch != nil {
			r.orch.OnTTSStatus(m)
		}
	case protocol.FileTranscriptionResult:
		r.printf("File transcription (%s):\n%s\n", m.FilePath, m.Text)
	case protocol.FileTranscriptionError:
		r.printf("File transcription failed (%s): %s\n", m.FilePath, m.Error)
	case protocol.SummaryResult:
		r.printf("Summary:\n%s\n", m.Summary)
		if r.OnSummary != nil {
			r.OnSummary(m.Summary)
		}
	default:
		slog.Warn("unhandled message", "type", msg.MessageType())
	}
}

func (r *Router) printf(format string, args ...any) {
	if r.out == nil {
		return
	}
	fmt.Fprintf(r.out, format, args...)
}
