// Package segment turns a raw PCM16 byte stream into utterances using a
// per-frame voice activity classifier.
//
// The [Segmenter] is a two-state machine (idle, speaking) driven one frame at
// a time. Incoming bytes that do not fill a whole frame are buffered until the
// next call. A classification error is treated as non-speech and never
// surfaces to the caller.
//
// A Segmenter belongs to exactly one connection and is not safe for
// concurrent use.
package segment

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/kaudio/pkg/audio"
	"github.com/MrWong99/kaudio/pkg/provider/vad"
)

// Config controls frame geometry and the end-of-utterance rule.
type Config struct {
	// FrameBytes is the size of one classified frame. Defaults to
	// [audio.FrameBytes].
	FrameBytes int

	// FrameDuration is the playback length of one frame. Defaults to
	// [audio.FrameDuration].
	FrameDuration time.Duration

	// SilenceFrames is the number of consecutive non-speech frames that ends
	// an utterance. Must be positive.
	SilenceFrames int
}

// Segment is one finalized utterance.
type Segment struct {
	// PCM holds every frame of the utterance including trailing silence.
	PCM []byte

	// Start is the offset of the first speech frame from the stream start.
	Start time.Duration

	// FirstFrame is the stream index of the first speech frame.
	FirstFrame int

	// Frames is the number of frames in PCM.
	Frames int
}

// Samples converts the utterance to normalized float32 samples.
func (s *Segment) Samples() []float32 {
	return audio.ToFloat32(s.PCM)
}

// EventKind distinguishes the events produced by [Segmenter.Push].
type EventKind int

const (
	// SpeechStarted fires on the idle to speaking transition.
	SpeechStarted EventKind = iota + 1

	// SegmentEnded fires when enough trailing silence was observed.
	SegmentEnded
)

// Event is one state transition observed while consuming audio.
type Event struct {
	Kind EventKind

	// FrameIndex is the index of the frame that caused the transition.
	FrameIndex int

	// Segment is set for SegmentEnded.
	Segment *Segment
}

// Segmenter implements the idle/speaking state machine.
type Segmenter struct {
	cfg Config
	vad vad.SessionHandle
	log *slog.Logger

	pending  []byte
	frameIdx int

	speaking   bool
	buf        []byte
	start      int
	frames     int
	silenceRun int
}

// New returns a Segmenter classifying frames with handle. The handle is
// closed by [Segmenter.Close].
func New(cfg Config, handle vad.SessionHandle, log *slog.Logger) (*Segmenter, error) {
	if handle == nil {
		return nil, errors.New("segment: nil vad session")
	}
	if cfg.FrameBytes == 0 {
		cfg.FrameBytes = audio.FrameBytes
	}
	if cfg.FrameDuration == 0 {
		cfg.FrameDuration = audio.FrameDuration
	}
	if cfg.FrameBytes < 0 || cfg.FrameBytes%audio.BytesPerSample != 0 {
		return nil, fmt.Errorf("segment: invalid frame size %d", cfg.FrameBytes)
	}
	if cfg.SilenceFrames <= 0 {
		return nil, fmt.Errorf("segment: silence frames must be positive, got %d", cfg.SilenceFrames)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Segmenter{cfg: cfg, vad: handle, log: log}, nil
}

// Push consumes chunk and returns the transitions it caused, in order.
// Trailing bytes that do not complete a frame are kept for the next call.
func (s *Segmenter) Push(chunk []byte) []Event {
	s.pending = append(s.pending, chunk...)

	var events []Event
	off := 0
	for len(s.pending)-off >= s.cfg.FrameBytes {
		frame := s.pending[off : off+s.cfg.FrameBytes]
		off += s.cfg.FrameBytes
		if ev, ok := s.step(frame); ok {
			events = append(events, ev)
		}
	}

	// Compact so pending never holds a consumed frame.
	n := copy(s.pending, s.pending[off:])
	s.pending = s.pending[:n]
	return events
}

func (s *Segmenter) step(frame []byte) (Event, bool) {
	idx := s.frameIdx
	s.frameIdx++

	speech := s.classify(frame, idx)

	if !s.speaking {
		if !speech {
			return Event{}, false
		}
		s.speaking = true
		s.start = idx
		s.buf = append(s.buf[:0], frame...)
		s.frames = 1
		s.silenceRun = 0
		s.log.Debug("speech segment started", "frame", idx, "start", s.frameStart(idx))
		return Event{Kind: SpeechStarted, FrameIndex: idx}, true
	}

	s.buf = append(s.buf, frame...)
	s.frames++
	if speech {
		s.silenceRun = 0
		return Event{}, false
	}

	s.silenceRun++
	if s.silenceRun < s.cfg.SilenceFrames {
		return Event{}, false
	}
	s.log.Debug("silence threshold reached", "frame", idx, "frames", s.frames)
	return Event{Kind: SegmentEnded, FrameIndex: idx, Segment: s.take()}, true
}

func (s *Segmenter) classify(frame []byte, idx int) bool {
	res, err := s.vad.ProcessFrame(frame)
	if err != nil {
		s.log.Warn("vad error on frame, treating as non-speech", "frame", idx, "err", err)
		return false
	}
	return res.IsSpeech()
}

// take hands off the current utterance and resets to idle.
func (s *Segmenter) take() *Segment {
	seg := &Segment{
		PCM:        s.buf,
		Start:      s.frameStart(s.start),
		FirstFrame: s.start,
		Frames:     s.frames,
	}
	s.buf = nil
	s.frames = 0
	s.silenceRun = 0
	s.speaking = false
	return seg
}

func (s *Segmenter) frameStart(idx int) time.Duration {
	return time.Duration(idx) * s.cfg.FrameDuration
}

// Flush finalizes the utterance in progress regardless of trailing silence.
// It returns nil when idle. Buffered partial-frame bytes are discarded.
func (s *Segmenter) Flush() *Segment {
	s.pending = s.pending[:0]
	if !s.speaking || s.frames == 0 {
		return nil
	}
	return s.take()
}

// Speaking reports whether an utterance is in progress.
func (s *Segmenter) Speaking() bool { return s.speaking }

// FramesProcessed returns the number of whole frames classified so far.
func (s *Segmenter) FramesProcessed() int { return s.frameIdx }

// Close releases the VAD session.
func (s *Segmenter) Close() error {
	return s.vad.Close()
}
