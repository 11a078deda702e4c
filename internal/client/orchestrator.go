package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/MrWong99/kaudio/internal/protocol"
	"github.com/MrWong99/kaudio/pkg/audio"
)

// ConversationState is the microphone phase of a recording session.
type ConversationState int

const (
	// Stopped means no recording session is running.
	Stopped ConversationState = iota
	// Listening means the mic is capturing and frames flow to the server.
	Listening
	// MicPausedForReply means the capture stream is stopped while a reply is
	// generated and played.
	MicPausedForReply
)

func (s ConversationState) String() string {
	switch s {
	case Listening:
		return "listening"
	case MicPausedForReply:
		return "mic_paused_for_reply"
	default:
		return "stopped"
	}
}

// Chatter produces an assistant reply for a transcript line.
type Chatter interface {
	Chat(ctx context.Context, text string) (string, error)
}

// Speaker synthesizes text to a WAV byte stream.
type Speaker interface {
	Speech(ctx context.Context, text, voice string) (io.ReadCloser, error)
}

// Orchestrator runs "final transcript, chat reply, synthesize, play, resume
// mic". The capture stream is active exactly when the state is Listening.
//
// OnFinal, OnReply and OnTTSStatus are called from the router goroutine.
// Chat and TTS requests run in background goroutines that report back
// through the router.
type Orchestrator struct {
	router       *Router
	chat         Chatter
	speech       Speaker
	player       AudioPlayer
	voices       *VoiceSet
	conversation bool

	mu        sync.Mutex
	mic       audio.CaptureStream
	state     ConversationState
	recording bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// OrchestratorConfig wires an [Orchestrator].
type OrchestratorConfig struct {
	Router *Router
	Mic    audio.CaptureStream

	// Conversation enables chat replies to final transcripts.
	Conversation bool
	Chat         Chatter
	Speech       Speaker
	Player       AudioPlayer
	Voices       *VoiceSet
}

// NewOrchestrator returns an orchestrator in the Stopped state and attaches
// it to cfg.Router.
func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	voices := cfg.Voices
	if voices == nil {
		voices = NewVoiceSet()
	}
	o := &Orchestrator{
		router:       cfg.Router,
		chat:         cfg.Chat,
		speech:       cfg.Speech,
		player:       cfg.Player,
		voices:       voices,
		conversation: cfg.Conversation,
		mic:          cfg.Mic,
		ctx:          ctx,
		cancel:       cancel,
	}
	if cfg.Router != nil {
		cfg.Router.SetOrchestrator(o)
	}
	return o
}

// State returns the current phase.
func (o *Orchestrator) State() ConversationState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Recording reports whether a recording session is running.
func (o *Orchestrator) Recording() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.recording
}

// Start begins a recording session and starts the capture stream.
func (o *Orchestrator) Start() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.mic != nil && !o.mic.Active() {
		if err := o.mic.Start(); err != nil {
			return fmt.Errorf("client: start microphone: %w", err)
		}
	}
	o.recording = true
	o.state = Listening
	return nil
}

// Stop ends the recording session. A reply still in flight finishes playing
// but will not resume the mic.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.recording = false
	o.state = Stopped
	if o.mic != nil && o.mic.Active() {
		if err := o.mic.Stop(); err != nil {
			slog.Warn("failed to stop microphone", "err", err)
		}
	}
}

// Close cancels background requests and waits for them.
func (o *Orchestrator) Close() {
	o.cancel()
	o.wg.Wait()
}

// Wait blocks until background requests have finished.
func (o *Orchestrator) Wait() { o.wg.Wait() }

// OnFinal issues a chat request for text when conversation mode is on.
func (o *Orchestrator) OnFinal(text string) {
	if !o.conversation || o.chat == nil || text == "" {
		return
	}
	o.goAsync(func(ctx context.Context) {
		reply, err := o.chat.Chat(ctx, text)
		if err != nil {
			slog.Error("chat request failed", "err", err)
			o.router.Post(protocol.TTSStatus{Message: llmErrorMessage(err)})
			return
		}
		o.router.Post(protocol.LLMResponse{Text: strings.TrimSpace(reply)})
	})
}

// OnReply pauses the mic and speaks text, or resumes the mic right away when
// there is nothing to say.
func (o *Orchestrator) OnReply(text string) {
	if text == "" {
		o.maybeResume()
		return
	}
	o.pause()
	if o.speech == nil || o.player == nil {
		slog.Warn("no speech synthesizer configured, skipping reply playback")
		o.maybeResume()
		return
	}
	o.goAsync(func(ctx context.Context) {
		defer o.router.Do(o.maybeResume)
		o.speak(ctx, text)
	})
}

// OnTTSStatus resumes the mic after a successful playback.
func (o *Orchestrator) OnTTSStatus(st protocol.TTSStatus) {
	if st.Done && !strings.Contains(st.Message, "Error") {
		o.maybeResume()
	}
}

func (o *Orchestrator) speak(ctx context.Context, text string) {
	o.router.Post(protocol.TTSStatus{Message: "Receiving audio stream..."})
	body, err := o.speech.Speech(ctx, text, o.voices.String())
	if err != nil {
		slog.Error("speech request failed", "err", err)
		var se *StatusError
		if errors.As(err, &se) {
			o.router.Post(protocol.TTSStatus{Message: fmt.Sprintf("TTS Server Error: %d", se.StatusCode), Done: true})
		} else {
			o.router.Post(protocol.TTSStatus{Message: "Error: " + err.Error(), Done: true})
		}
		return
	}
	defer body.Close()

	o.router.Post(protocol.TTSStatus{Message: "Playing audio stream..."})
	if err := o.player.Play(ctx, body); err != nil {
		slog.Error("playback failed", "err", err)
		msg := "Error: playback failed - " + err.Error()
		if errors.Is(err, ErrIncompleteHeader) {
			msg = "Error: Invalid audio data - " + err.Error()
		}
		o.router.Post(protocol.TTSStatus{Message: msg, Done: true})
		return
	}
	o.router.Post(protocol.TTSStatus{Message: "TTS stream finished.", Done: true})
}

func (o *Orchestrator) pause() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != Listening || o.mic == nil || !o.mic.Active() {
		return
	}
	if err := o.mic.Stop(); err != nil {
		slog.Warn("failed to pause microphone", "err", err)
		return
	}
	o.state = MicPausedForReply
	slog.Debug("microphone paused for reply")
}

// maybeResume restarts capture only while recording and only from the
// paused state. It is idempotent.
func (o *Orchestrator) maybeResume() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.recording || o.state != MicPausedForReply || o.mic == nil {
		return
	}
	if !o.mic.Active() {
		if err := o.mic.Start(); err != nil {
			slog.Error("failed to resume microphone", "err", err)
			return
		}
	}
	o.state = Listening
	slog.Debug("microphone resumed")
}

func (o *Orchestrator) goAsync(fn func(ctx context.Context)) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		fn(o.ctx)
	}()
}

func llmErrorMessage(err error) string {
	var se *StatusError
	if errors.As(err, &se) {
		return fmt.Sprintf("LLM Server Error: %d", se.StatusCode)
	}
	return "LLM Error: " + err.Error()
}
