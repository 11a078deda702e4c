// Package energy provides an RMS-energy voice activity detector.
//
// The detector maps a frame's root-mean-square level to a speech probability
// by dividing it by a reference level and clamping to [0, 1]. With the default
// reference of 600 and a speech threshold of 0.5, frames louder than an RMS of
// 300 (near-silence for 16-bit audio) count as speech.
package energy

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/MrWong99/kaudio/pkg/provider/vad"
)

const defaultReferenceRMS = 600.0

// Engine implements [vad.Engine] using frame energy.
type Engine struct {
	referenceRMS float64
}

var _ vad.Engine = (*Engine)(nil)

// Option configures an [Engine].
type Option func(*Engine)

// WithReferenceRMS sets the RMS level mapped to probability 1.0.
func WithReferenceRMS(rms float64) Option {
	return func(e *Engine) {
		if rms > 0 {
			e.referenceRMS = rms
		}
	}
}

// New returns an energy-based VAD engine.
func New(opts ...Option) *Engine {
	e := &Engine{referenceRMS: defaultReferenceRMS}
	for _, o := range opts {
		o(e)
	}
	return e
}

// NewSession implements [vad.Engine].
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.SampleRate <= 0 || cfg.FrameSizeMs <= 0 {
		return nil, fmt.Errorf("energy: invalid config: sample rate %d, frame %d ms", cfg.SampleRate, cfg.FrameSizeMs)
	}
	if cfg.SpeechThreshold < 0 || cfg.SpeechThreshold > 1 {
		return nil, fmt.Errorf("energy: speech threshold %.2f out of range [0, 1]", cfg.SpeechThreshold)
	}
	return &session{
		frameBytes: cfg.FrameBytes(),
		threshold:  cfg.SpeechThreshold,
		reference:  e.referenceRMS,
	}, nil
}

type session struct {
	frameBytes int
	threshold  float64
	reference  float64

	mu     sync.Mutex
	closed bool
}

func (s *session) ProcessFrame(frame []byte) (vad.Result, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return vad.Result{}, fmt.Errorf("energy: session closed")
	}
	if len(frame) != s.frameBytes {
		return vad.Result{}, fmt.Errorf("energy: got %d bytes, want %d: %w", len(frame), s.frameBytes, vad.ErrFrameSize)
	}

	p := math.Min(1, RMS(frame)/s.reference)
	res := vad.Result{Class: vad.NonSpeech, Probability: p}
	if p >= s.threshold {
		res.Class = vad.Speech
	}
	return res, nil
}

func (s *session) Reset() {}

func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// RMS returns the root-mean-square level of a PCM16 little-endian buffer in
// sample units (0–32767). Returns 0 for buffers shorter than one sample.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		v := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}
