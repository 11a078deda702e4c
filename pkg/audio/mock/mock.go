// Package mock provides in-memory implementations of [audio.Platform],
// [audio.CaptureStream] and [audio.PlaybackStream] for unit tests.
//
// All mocks are safe for concurrent use. Tests drive capture by calling
// [CaptureStream.Emit], which forwards the frame to the registered callback
// only while the stream is started, mirroring a real device.
//
//	platform := &mock.Platform{}
//	stream, _ := platform.OpenCapture(audio.DefaultDevice, cb)
//	_ = stream.Start()
//	platform.Capture().Emit(frame)
package mock

import (
	"bytes"
	"errors"
	"sync"

	"github.com/MrWong99/kaudio/pkg/audio"
)

// ErrClosed is returned by operations on a closed mock stream.
var ErrClosed = errors.New("mock: stream closed")

// ─── CaptureStream ───────────────────────────────────────────────────────────

// CaptureStream is a mock [audio.CaptureStream].
type CaptureStream struct {
	mu     sync.Mutex
	cb     audio.FrameCallback
	active bool
	closed bool

	// StartErr is returned by Start when non-nil.
	StartErr error

	StartCalls int
	StopCalls  int
	CloseCalls int
}

var _ audio.CaptureStream = (*CaptureStream)(nil)

// Start implements [audio.CaptureStream].
func (s *CaptureStream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.StartCalls++
	if s.closed {
		return ErrClosed
	}
	if s.StartErr != nil {
		return s.StartErr
	}
	s.active = true
	return nil
}

// Stop implements [audio.CaptureStream].
func (s *CaptureStream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.StopCalls++
	s.active = false
	return nil
}

// Active implements [audio.CaptureStream].
func (s *CaptureStream) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Close implements [audio.CaptureStream].
func (s *CaptureStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCalls++
	s.closed = true
	s.active = false
	return nil
}

// Emit simulates the driver delivering frame. It reports whether the frame
// reached the callback.
func (s *CaptureStream) Emit(frame []byte) bool {
	s.mu.Lock()
	cb, ok := s.cb, s.active
	s.mu.Unlock()
	if !ok || cb == nil {
		return false
	}
	cb(append([]byte(nil), frame...))
	return true
}

// ─── PlaybackStream ──────────────────────────────────────────────────────────

// PlaybackStream is a mock [audio.PlaybackStream] that records written audio.
type PlaybackStream struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool

	// Format is the format the stream was opened with.
	Format audio.Format
}

var _ audio.PlaybackStream = (*PlaybackStream)(nil)

// Write implements [io.Writer].
func (p *PlaybackStream) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, ErrClosed
	}
	return p.buf.Write(b)
}

// Close implements [io.Closer].
func (p *PlaybackStream) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// Bytes returns a copy of everything written so far.
func (p *PlaybackStream) Bytes() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return bytes.Clone(p.buf.Bytes())
}

// Closed reports whether Close was called.
func (p *PlaybackStream) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// ─── Platform ────────────────────────────────────────────────────────────────

// Platform is a mock [audio.Platform].
type Platform struct {
	mu sync.Mutex

	// DevicesResult is returned by Devices.
	DevicesResult []audio.DeviceInfo

	// OpenCaptureErr and OpenPlaybackErr make the respective call fail.
	OpenCaptureErr  error
	OpenPlaybackErr error

	capture   *CaptureStream
	playbacks []*PlaybackStream
}

var _ audio.Platform = (*Platform)(nil)

// Devices implements [audio.Platform].
func (p *Platform) Devices() ([]audio.DeviceInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.DevicesResult, nil
}

// OpenCapture implements [audio.Platform].
func (p *Platform) OpenCapture(_ int, cb audio.FrameCallback) (audio.CaptureStream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.OpenCaptureErr != nil {
		return nil, p.OpenCaptureErr
	}
	p.capture = &CaptureStream{cb: cb}
	return p.capture, nil
}

// OpenPlayback implements [audio.Platform].
func (p *Platform) OpenPlayback(_ int, f audio.Format) (audio.PlaybackStream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.OpenPlaybackErr != nil {
		return nil, p.OpenPlaybackErr
	}
	s := &PlaybackStream{Format: f}
	p.playbacks = append(p.playbacks, s)
	return s, nil
}

// Capture returns the most recently opened capture stream, or nil.
func (p *Platform) Capture() *CaptureStream {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.capture
}

// Playbacks returns every playback stream opened so far.
func (p *Platform) Playbacks() []*PlaybackStream {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*PlaybackStream(nil), p.playbacks...)
}
