// Package mock holds scripted voice activity detectors for tests.
//
//	sess := &mock.Session{Script: mock.Repeat(mock.Step{Result: mock.SpeechResult}, 40)}
//	eng := &mock.Engine{Session: sess}
package mock

import (
	"sync"

	"github.com/MrWong99/kaudio/pkg/provider/vad"
)

var (
	SpeechResult    = vad.Result{Class: vad.Speech, Probability: 0.9}
	NonSpeechResult = vad.Result{Class: vad.NonSpeech, Probability: 0.1}
)

// Engine hands out Session, or a fresh silent [Session] when it is nil.
type Engine struct {
	Session vad.SessionHandle
	Err     error
}

var _ vad.Engine = (*Engine)(nil)

func (e *Engine) NewSession(vad.Config) (vad.SessionHandle, error) {
	switch {
	case e.Err != nil:
		return nil, e.Err
	case e.Session != nil:
		return e.Session, nil
	}
	return &Session{}, nil
}

// Step is the outcome of one ProcessFrame call.
type Step struct {
	Result vad.Result
	Err    error
}

// Repeat builds a script of n identical steps.
func Repeat(s Step, n int) []Step {
	out := make([]Step, n)
	for i := range out {
		out[i] = s
	}
	return out
}

// Session classifies frames with Classify when set, otherwise by popping
// Script. An empty script yields the zero result, which is non-speech.
// Every frame is copied into Frames.
type Session struct {
	Script   []Step
	Classify func(frame []byte) (vad.Result, error)

	mu             sync.Mutex
	Frames         [][]byte
	Resets         int
	CloseCallCount int
}

var _ vad.SessionHandle = (*Session)(nil)

func (s *Session) ProcessFrame(frame []byte) (vad.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Frames = append(s.Frames, append([]byte(nil), frame...))
	if s.Classify != nil {
		return s.Classify(frame)
	}
	if len(s.Script) == 0 {
		return vad.Result{}, nil
	}
	next := s.Script[0]
	s.Script = s.Script[1:]
	return next.Result, next.Err
}

func (s *Session) Reset() {
	s.mu.Lock()
	s.Resets++
	s.mu.Unlock()
}

func (s *Session) Close() error {
	s.mu.Lock()
	s.CloseCallCount++
	s.mu.Unlock()
	return nil
}

// FrameCount is len(Frames) under the lock.
func (s *Session) FrameCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Frames)
}
