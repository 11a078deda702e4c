// Package vad defines the Engine interface for Voice Activity Detection backends.
//
// A VAD engine classifies single fixed-size PCM frames as speech or
// non-speech. Each session keeps its own detector state so that concurrent
// connections are classified independently.
//
// VAD is synchronous: ProcessFrame returns immediately, which keeps it usable
// inline in a connection's receive loop. A classification error is an
// explicit result for the caller to interpret; the segmenter treats it as
// non-speech.
//
// Engines must be safe for concurrent use across different sessions. A single
// SessionHandle must not be shared across goroutines.
package vad

import "errors"

// ErrFrameSize is returned by ProcessFrame when the frame length does not
// match the configured frame duration.
var ErrFrameSize = errors.New("vad: frame size does not match session config")

// Config holds the parameters for a VAD session.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Must match the rate of the
	// PCM frames passed to ProcessFrame.
	SampleRate int

	// FrameSizeMs is the duration of each audio frame in milliseconds.
	FrameSizeMs int

	// SpeechThreshold is the probability at or above which a frame is
	// classified as speech. Range: [0.0, 1.0]. Typical: 0.5.
	SpeechThreshold float64
}

// FrameBytes returns the expected PCM16 mono frame length for cfg.
func (c Config) FrameBytes() int {
	return c.SampleRate * c.FrameSizeMs / 1000 * 2
}

// SessionHandle represents an active VAD session for a single audio stream.
type SessionHandle interface {
	// ProcessFrame classifies one frame of little-endian PCM16 mono audio.
	ProcessFrame(frame []byte) (Result, error)

	// Reset clears accumulated detector state without closing the session.
	Reset()

	// Close releases the session. Calling Close more than once is safe.
	Close() error
}

// Engine is the factory for VAD sessions.
type Engine interface {
	// NewSession creates a session ready to accept frames. Returns an error if
	// cfg is invalid for this engine.
	NewSession(cfg Config) (SessionHandle, error)
}
