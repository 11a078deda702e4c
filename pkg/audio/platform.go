// Package audio defines the PCM frame geometry shared by client and server,
// WAV container helpers, format conversion, and the device interfaces the
// client uses for capture and playback.
//
// The two device abstractions are:
//
//   - [Platform] enumerates local devices and opens streams on them.
//   - [CaptureStream] delivers fixed-size frames from a driver-owned thread
//     through a callback and can be stopped and restarted without being closed.
//
// Concrete implementations live in sub-packages (audio/device for PortAudio,
// audio/mock for tests).
package audio

import "io"

// DefaultDevice selects the host's default input or output device.
const DefaultDevice = -1

// DeviceInfo describes one audio device known to the host.
type DeviceInfo struct {
	Index             int
	Name              string
	MaxInputChannels  int
	MaxOutputChannels int
	DefaultSampleRate float64
}

// FrameCallback receives one captured frame. It runs on the driver's thread
// and must not block; the slice is owned by the callee.
type FrameCallback func(frame []byte)

// CaptureStream is an open input stream. Stop pauses delivery without
// releasing the device so Start can resume it later.
type CaptureStream interface {
	Start() error
	Stop() error
	Active() bool
	Close() error
}

// PlaybackStream is an open output stream. Write blocks until the PCM16
// data has been handed to the device.
type PlaybackStream interface {
	io.WriteCloser
}

// Platform opens audio devices on the local host.
type Platform interface {
	// Devices lists all devices the host exposes.
	Devices() ([]DeviceInfo, error)

	// OpenCapture opens an input stream at the stream format delivering
	// frames of FrameSamples samples to cb. The stream starts stopped.
	OpenCapture(device int, cb FrameCallback) (CaptureStream, error)

	// OpenPlayback opens an output stream for PCM16 audio in format f.
	OpenPlayback(device int, f Format) (PlaybackStream, error)
}
