// Package stt defines the Provider interface for batch Speech-to-Text backends.
//
// A provider wraps a loaded transcription model (whisper.cpp in-process, or a
// whisper-server reachable over HTTP) and turns one finalized utterance of
// 16 kHz mono float32 samples into a [Transcription]: an ordered list of
// sub-segments, each carrying its own confidence scores, plus the detected
// language.
//
// Implementations must be safe for concurrent use. The model is a process-wide
// resource shared by every connection's transcription worker.
package stt

import (
	"context"
	"errors"
)

// ErrModelNotLoaded is returned when transcription is requested before a
// model has been loaded or after it has been unloaded.
var ErrModelNotLoaded = errors.New("stt: model not loaded")

// Options carries per-call recognition hints.
type Options struct {
	// Language is an ISO 639-1 hint ("en", "de"). Empty means auto-detect.
	Language string

	// Prompt is optional initial context that biases decoding (names, jargon).
	Prompt string
}

// Provider is the abstraction over any batch STT backend.
type Provider interface {
	// Transcribe runs inference on samples (16 kHz mono, [-1, 1]) and returns
	// every raw sub-segment the model produced, unfiltered.
	Transcribe(ctx context.Context, samples []float32, opts Options) (*Transcription, error)

	// Close releases the model. Transcribe must not be called afterwards.
	Close() error
}
