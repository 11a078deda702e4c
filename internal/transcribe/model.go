// Package transcribe turns finalized speech segments into filtered
// transcription results.
//
// It owns three concerns:
//
//   - [ModelService] wraps the process-wide STT model with an explicit
//     load/unload lifecycle.
//   - [Filter] is the pure confidence filter applied to raw sub-segments.
//   - [Worker] runs inference on a bounded pool so that a slow model call
//     never blocks more than its own connection.
//
// Response formatting for one-shot uploads (SRT, WebVTT, verbose JSON) lives
// in format.go.
package transcribe

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/kaudio/pkg/provider/stt"
)

// Loader constructs the underlying STT provider. It is called by
// [ModelService.Load].
type Loader func() (stt.Provider, error)

// ModelService holds the loaded model. Transcribe calls run concurrently;
// Unload waits for in-flight calls to finish.
//
// ModelService implements [stt.Provider] so it can be handed to anything that
// expects a plain provider. Its Close is Unload.
type ModelService struct {
	load Loader

	mu       sync.RWMutex
	provider stt.Provider
	loadErr  error
}

var _ stt.Provider = (*ModelService)(nil)

// NewModelService returns an unloaded service.
func NewModelService(load Loader) *ModelService {
	return &ModelService{load: load}
}

// Load constructs the model if it is not loaded yet. A failure is remembered
// and reported by [ModelService.LoadError] until the next successful Load.
func (s *ModelService) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.provider != nil {
		return nil
	}
	if s.load == nil {
		s.loadErr = fmt.Errorf("transcribe: no model loader configured")
		return s.loadErr
	}
	p, err := s.load()
	if err != nil {
		s.loadErr = fmt.Errorf("transcribe: load model: %w", err)
		slog.Error("STT model failed to load", "err", err)
		return s.loadErr
	}
	if p == nil {
		s.loadErr = fmt.Errorf("transcribe: load model: %w", stt.ErrModelNotLoaded)
		return s.loadErr
	}
	s.provider = p
	s.loadErr = nil
	slog.Info("STT model loaded")
	return nil
}

// Unload releases the model. It is a no-op when nothing is loaded.
func (s *ModelService) Unload() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.provider == nil {
		return nil
	}
	err := s.provider.Close()
	s.provider = nil
	slog.Info("STT model unloaded")
	if err != nil {
		return fmt.Errorf("transcribe: unload model: %w", err)
	}
	return nil
}

// Loaded reports whether the model is ready for inference.
func (s *ModelService) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.provider != nil
}

// LoadError returns the last load failure, or nil.
func (s *ModelService) LoadError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadErr
}

// Transcribe runs inference on the loaded model. It returns
// [stt.ErrModelNotLoaded] when nothing is loaded.
func (s *ModelService) Transcribe(ctx context.Context, samples []float32, opts stt.Options) (*stt.Transcription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.provider == nil {
		return nil, stt.ErrModelNotLoaded
	}
	return s.provider.Transcribe(ctx, samples, opts)
}

// Close implements [stt.Provider] by unloading the model.
func (s *ModelService) Close() error { return s.Unload() }
