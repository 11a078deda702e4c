package audio

import "time"

// Streaming frame geometry. Every frame on the wire is PCM16 mono at
// [SampleRate], exactly [FrameSamples] samples long.
const (
	SampleRate     = 16000
	Channels       = 1
	BytesPerSample = 2
	FrameDuration  = 30 * time.Millisecond
	FrameSamples   = SampleRate * int(FrameDuration/time.Millisecond) / 1000
	FrameBytes     = FrameSamples * BytesPerSample
)

// Format describes the sample rate and channel count of a PCM16 stream.
type Format struct {
	SampleRate int
	Channels   int
}

// StreamFormat is the fixed format of the microphone stream.
var StreamFormat = Format{SampleRate: SampleRate, Channels: Channels}

// Frame is one fixed-duration chunk of PCM16 audio. Data must not be modified
// after the frame has been handed off.
type Frame struct {
	// Data holds exactly FrameBytes bytes of little-endian PCM16.
	Data []byte

	// Index is the zero-based position of the frame within its stream.
	Index int
}

// Start returns the offset of the frame from the start of the stream.
func (f Frame) Start() time.Duration {
	return time.Duration(f.Index) * FrameDuration
}

// Duration returns how long pcm lasts when played in format f.
func (f Format) Duration(pcm []byte) time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	samples := len(pcm) / (BytesPerSample * f.Channels)
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate)
}
