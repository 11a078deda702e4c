// Package device implements [audio.Platform] on top of PortAudio.
//
// The PortAudio runtime is initialised by [New] and released by
// [Platform.Close]. Capture streams use the callback API so frames arrive on
// the driver's thread; playback streams use the blocking API.
package device

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/kaudio/pkg/audio"
)

// playbackFrames is the number of sample frames per blocking write.
const playbackFrames = 1024

// Platform is a PortAudio-backed [audio.Platform].
type Platform struct {
	closeOnce sync.Once
}

var _ audio.Platform = (*Platform)(nil)

// New initialises PortAudio. Call Close when finished.
func New() (*Platform, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("device: initialise portaudio: %w", err)
	}
	return &Platform{}, nil
}

// Close terminates the PortAudio runtime.
func (p *Platform) Close() error {
	var err error
	p.closeOnce.Do(func() { err = portaudio.Terminate() })
	return err
}

// Devices implements [audio.Platform].
func (p *Platform) Devices() ([]audio.DeviceInfo, error) {
	devs, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("device: list: %w", err)
	}
	out := make([]audio.DeviceInfo, 0, len(devs))
	for i, d := range devs {
		out = append(out, audio.DeviceInfo{
			Index:             i,
			Name:              d.Name,
			MaxInputChannels:  d.MaxInputChannels,
			MaxOutputChannels: d.MaxOutputChannels,
			DefaultSampleRate: d.DefaultSampleRate,
		})
	}
	return out, nil
}

func lookup(index int, input bool) (*portaudio.DeviceInfo, error) {
	if index == audio.DefaultDevice {
		if input {
			return portaudio.DefaultInputDevice()
		}
		return portaudio.DefaultOutputDevice()
	}
	devs, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(devs) {
		return nil, fmt.Errorf("device index %d out of range [0, %d)", index, len(devs))
	}
	return devs[index], nil
}

// OpenCapture implements [audio.Platform].
func (p *Platform) OpenCapture(device int, cb audio.FrameCallback) (audio.CaptureStream, error) {
	info, err := lookup(device, true)
	if err != nil {
		return nil, fmt.Errorf("device: capture: %w", err)
	}
	if info.MaxInputChannels < audio.Channels {
		return nil, fmt.Errorf("device: %q has no input channels", info.Name)
	}

	params := portaudio.LowLatencyParameters(info, nil)
	params.Input.Channels = audio.Channels
	params.SampleRate = audio.SampleRate
	params.FramesPerBuffer = audio.FrameSamples

	stream, err := portaudio.OpenStream(params, func(in []int16) {
		frame := make([]byte, len(in)*2)
		for i, s := range in {
			binary.LittleEndian.PutUint16(frame[i*2:], uint16(s))
		}
		cb(frame)
	})
	if err != nil {
		return nil, fmt.Errorf("device: open capture on %q: %w", info.Name, err)
	}
	return &captureStream{stream: stream}, nil
}

type captureStream struct {
	mu     sync.Mutex
	stream *portaudio.Stream
	active bool
	closed bool
}

func (c *captureStream) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("device: capture stream closed")
	}
	if c.active {
		return nil
	}
	if err := c.stream.Start(); err != nil {
		return fmt.Errorf("device: start capture: %w", err)
	}
	c.active = true
	return nil
}

func (c *captureStream) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return nil
	}
	c.active = false
	if err := c.stream.Stop(); err != nil {
		return fmt.Errorf("device: stop capture: %w", err)
	}
	return nil
}

func (c *captureStream) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

func (c *captureStream) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.active {
		c.active = false
		_ = c.stream.Stop()
	}
	return c.stream.Close()
}

// OpenPlayback implements [audio.Platform].
func (p *Platform) OpenPlayback(device int, f audio.Format) (audio.PlaybackStream, error) {
	info, err := lookup(device, false)
	if err != nil {
		return nil, fmt.Errorf("device: playback: %w", err)
	}
	params := portaudio.HighLatencyParameters(nil, info)
	params.Output.Channels = f.Channels
	params.SampleRate = float64(f.SampleRate)
	params.FramesPerBuffer = playbackFrames

	buf := make([]int16, playbackFrames*f.Channels)
	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		return nil, fmt.Errorf("device: open playback on %q: %w", info.Name, err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("device: start playback: %w", err)
	}
	return &playbackStream{stream: stream, buf: buf}, nil
}

// playbackStream adapts the blocking PortAudio API to io.WriteCloser. Bytes
// that do not fill a whole buffer are carried over to the next Write and
// zero-padded on Close.
type playbackStream struct {
	stream  *portaudio.Stream
	buf     []int16
	n       int
	pending []byte
}

func (s *playbackStream) Write(b []byte) (int, error) {
	written := len(b)
	if len(s.pending) > 0 {
		b = append(s.pending, b...)
		s.pending = nil
	}
	for len(b) >= 2 {
		s.buf[s.n] = int16(binary.LittleEndian.Uint16(b))
		s.n++
		b = b[2:]
		if s.n == len(s.buf) {
			if err := s.stream.Write(); err != nil {
				return 0, fmt.Errorf("device: write playback: %w", err)
			}
			s.n = 0
		}
	}
	if len(b) == 1 {
		s.pending = []byte{b[0]}
	}
	return written, nil
}

func (s *playbackStream) Close() error {
	var errs []error
	if s.n > 0 {
		clear(s.buf[s.n:])
		if err := s.stream.Write(); err != nil {
			errs = append(errs, err)
		}
		s.n = 0
	}
	if err := s.stream.Stop(); err != nil {
		errs = append(errs, err)
	}
	if err := s.stream.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
