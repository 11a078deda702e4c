// Package session runs the server side of one streaming transcription
// connection.
//
// A [Session] reads binary PCM frames and text control messages from a
// [Conn], feeds audio through a [segment.Segmenter], transcribes every
// finalized utterance and sends the results back as [protocol.Message]
// values. Its lifecycle is Connected, then Draining once the client sent
// STREAM_END or disconnected, then Closed.
//
// Utterances are processed one at a time: the next inbound message is not
// read until the current one, including any transcription it triggered, has
// been fully handled. This serializes segment handling per connection and
// applies backpressure to a client that sends faster than the model
// transcribes. Translations are the exception and run as background tasks
// tracked by a [TaskRegistry].
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MrWong99/kaudio/internal/observe"
	"github.com/MrWong99/kaudio/internal/protocol"
	"github.com/MrWong99/kaudio/internal/segment"
	"github.com/MrWong99/kaudio/internal/store"
	"github.com/MrWong99/kaudio/internal/transcribe"
	"github.com/MrWong99/kaudio/internal/translate"
	"github.com/MrWong99/kaudio/pkg/provider/stt"
)

// StreamEnd is the text message a client sends after its last audio frame.
const StreamEnd = "STREAM_END"

// DefaultDrainTimeout bounds how long a closing session waits for its
// in-flight translations.
const DefaultDrainTimeout = 30 * time.Second

// Conn is the transport of one streaming connection.
type Conn interface {
	// Read blocks for the next inbound message. binary is true for audio.
	Read(ctx context.Context) (binary bool, data []byte, err error)

	// Send writes one control message.
	Send(ctx context.Context, msg protocol.Message) error
}

// Transcriber turns one finalized segment into a filtered result. A nil
// result with a nil error means the segment filtered to nothing.
type Transcriber interface {
	Transcribe(ctx context.Context, seg *segment.Segment, opts stt.Options) (*transcribe.Result, error)
}

// State is the lifecycle phase of a session.
type State int

const (
	StateConnected State = iota
	StateDraining
	StateClosed
)

// String implements [fmt.Stringer].
func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Config carries the collaborators shared by every session.
type Config struct {
	// Transcriber is required.
	Transcriber Transcriber

	// Translator handles translate=true connections. Nil disables
	// translation; such requests are answered with an info message.
	Translator translate.Translator

	// Store receives every final result. May be nil.
	Store store.Appender

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// MaxTranslations caps in-flight translations; zero is unbounded.
	MaxTranslations int

	// DrainTimeout defaults to [DefaultDrainTimeout].
	DrainTimeout time.Duration
}

// Session is the state of one streaming connection. Run must be called
// exactly once.
type Session struct {
	id   string
	conn Conn
	seg  *segment.Segmenter
	opts Options
	cfg  Config

	tasks *TaskRegistry

	// sendMu serializes writes from the receive loop and translation tasks.
	sendMu sync.Mutex
	gone   bool

	stateMu sync.Mutex
	state   State

	seq int
}

// New creates a session. The segmenter is owned by the session from now on.
func New(id string, conn Conn, seg *segment.Segmenter, opts Options, cfg Config) *Session {
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = DefaultDrainTimeout
	}
	return &Session{id: id, conn: conn, seg: seg, opts: opts, cfg: cfg}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle phase.
func (s *Session) State() State {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.stateMu.Lock()
	s.state = st
	s.stateMu.Unlock()
}

// connError marks a failure of the connection itself.
type connError struct{ err error }

func (e *connError) Error() string { return "session: connection: " + e.err.Error() }
func (e *connError) Unwrap() error { return e.err }

// Run serves the connection until the client ends the stream or
// disconnects, then flushes the final utterance and waits for outstanding
// translations. It returns nil on a clean end of stream and the connection
// error otherwise.
func (s *Session) Run(ctx context.Context) error {
	ctx = observe.WithLogAttrs(ctx, "session_id", s.id)
	log := observe.Logger(ctx)

	s.cfg.Metrics.ActiveSessions.Add(ctx, 1)
	defer s.cfg.Metrics.ActiveSessions.Add(ctx, -1)

	s.tasks = NewTaskRegistry(ctx, s.cfg.MaxTranslations)
	defer s.tasks.Shutdown()
	defer func() {
		if err := s.seg.Close(); err != nil {
			log.Warn("closing vad session", "err", err)
		}
		s.setState(StateClosed)
	}()

	log.Info("streaming session started",
		"language", s.opts.Language,
		"translate", s.opts.Translate,
		"target_lang", s.opts.TargetLang,
	)
	if err := s.send(ctx, protocol.Info{Message: fmt.Sprintf("Session %s started", s.id)}); err != nil {
		return err
	}
	if s.opts.Translate && s.cfg.Translator == nil {
		if err := s.send(ctx, protocol.Info{Message: "Translation is not available on this server"}); err != nil {
			return err
		}
	}

	runErr := s.receive(ctx)

	s.setState(StateDraining)
	// The request context may already be gone when the peer disconnected;
	// the last utterance is still transcribed and stored.
	drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.DrainTimeout)
	defer cancel()
	if err := s.flush(drainCtx); err != nil && runErr == nil {
		runErr = err
	}
	if err := s.tasks.Drain(drainCtx); err != nil {
		log.Warn("translations did not finish before close", "err", err)
	}
	log.Info("streaming session finished", "frames", s.seg.FramesProcessed(), "finals", s.seq)
	return runErr
}

func (s *Session) receive(ctx context.Context) error {
	log := observe.Logger(ctx)
	for {
		binary, data, err := s.conn.Read(ctx)
		if err != nil {
			log.Info("connection closed by peer", "err", err)
			s.markGone()
			return &connError{err: err}
		}

		if !binary && string(data) == StreamEnd {
			log.Info("received stream end signal")
			return nil
		}

		if err := s.handle(ctx, binary, data); err != nil {
			var ce *connError
			if errors.As(err, &ce) {
				return err
			}
			log.Error("error while handling message", "err", err)
			if err := s.send(ctx, protocol.Error{Message: "Server error: " + err.Error()}); err != nil {
				return err
			}
		}
	}
}

// handle processes one inbound message. A panic is turned into an error so
// that a single bad message never ends the session.
func (s *Session) handle(ctx context.Context, binary bool, data []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	if !binary {
		return s.send(ctx, protocol.Info{Message: "Received unknown text message: " + string(data)})
	}
	return s.handleAudio(ctx, data)
}

func (s *Session) handleAudio(ctx context.Context, data []byte) error {
	before := s.seg.FramesProcessed()
	events := s.seg.Push(data)
	if n := s.seg.FramesProcessed() - before; n > 0 {
		s.cfg.Metrics.FramesReceived.Add(ctx, int64(n))
	}

	for _, ev := range events {
		switch ev.Kind {
		case segment.SpeechStarted:
			if err := s.send(ctx, protocol.Info{Message: "Speech detected"}); err != nil {
				return err
			}
		case segment.SegmentEnded:
			if err := s.process(ctx, ev.Segment); err != nil {
				return err
			}
			if err := s.send(ctx, protocol.Info{Message: "Silence detected"}); err != nil {
				return err
			}
		}
	}
	return nil
}

// flush finalizes the utterance in progress at end of stream.
func (s *Session) flush(ctx context.Context) error {
	seg := s.seg.Flush()
	if seg == nil {
		return nil
	}
	observe.Logger(ctx).Info("transcribing final segment", "frames", seg.Frames)
	err := s.process(ctx, seg)
	var ce *connError
	if errors.As(err, &ce) && s.isGone() {
		return nil
	}
	return err
}

// process transcribes seg and dispatches the result. Only connection
// failures are returned; a transcription failure is reported to the client.
func (s *Session) process(ctx context.Context, seg *segment.Segment) error {
	res, err := s.cfg.Transcriber.Transcribe(ctx, seg, stt.Options{
		Language: s.opts.Language,
		Prompt:   s.opts.Prompt,
	})
	if err != nil {
		observe.Logger(ctx).Error("segment transcription failed", "start", seg.Start, "err", err)
		return s.send(ctx, protocol.Error{Message: "Transcription error: " + err.Error()})
	}
	if res == nil {
		return nil
	}
	return s.dispatch(ctx, res)
}

// dispatch sends the final message for res, records it and only then
// starts a translation task for its text.
func (s *Session) dispatch(ctx context.Context, res *transcribe.Result) error {
	final := res.Final()
	sendErr := s.send(ctx, final)

	s.seq++
	if s.cfg.Store != nil {
		err := s.cfg.Store.Append(ctx, store.Entry{
			SessionID:           s.id,
			Seq:                 s.seq,
			Text:                final.Text,
			Start:               final.Start,
			End:                 final.End,
			Language:            final.Language,
			LanguageProbability: final.LanguageProbability,
			CreatedAt:           time.Now(),
		})
		if err != nil {
			observe.Logger(ctx).Error("storing transcript entry", "seq", s.seq, "err", err)
		}
	}
	if sendErr != nil {
		return sendErr
	}

	s.startTranslation(ctx, final.Text, res.Language)
	return nil
}

func (s *Session) startTranslation(ctx context.Context, text, detected string) {
	if !s.opts.Translate || s.cfg.Translator == nil {
		return
	}
	log := observe.Logger(ctx)
	src := s.opts.translationSource(detected)
	if src == "" {
		log.Warn("skipping translation, source language unknown")
		return
	}
	target := s.opts.TargetLang

	started := s.tasks.Go(func(tctx context.Context) {
		s.cfg.Metrics.TranslationsInFlight.Add(tctx, 1)
		defer s.cfg.Metrics.TranslationsInFlight.Add(context.WithoutCancel(tctx), -1)

		out, err := s.cfg.Translator.Translate(tctx, text, src, target)
		if err != nil {
			log.Warn("translation failed", "source", src, "target", target, "err", err)
			return
		}
		err = s.send(tctx, protocol.Translation{
			OriginalText:   text,
			TranslatedText: out,
			SourceLang:     src,
			TargetLang:     target,
		})
		if err != nil {
			log.Debug("translation not delivered", "err", err)
		}
	})
	if !started {
		log.Debug("session closing, translation dropped")
	}
}

// send writes msg unless the connection is known to be gone.
func (s *Session) send(ctx context.Context, msg protocol.Message) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.gone {
		return &connError{err: errors.New("connection closed")}
	}
	if err := s.conn.Send(ctx, msg); err != nil {
		s.gone = true
		observe.Logger(ctx).Debug("send failed", "type", msg.MessageType(), "err", err)
		return &connError{err: err}
	}
	return nil
}

func (s *Session) markGone() {
	s.sendMu.Lock()
	s.gone = true
	s.sendMu.Unlock()
}

func (s *Session) isGone() bool {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return s.gone
}
