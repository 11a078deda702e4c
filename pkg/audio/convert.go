package audio

import (
	"encoding/binary"
	"fmt"
)

// ToFloat32 converts little-endian PCM16 mono audio to float32 samples in the
// range [-1.0, 1.0]. A trailing odd byte is ignored.
func ToFloat32(pcm []byte) []float32 {
	n := len(pcm) / 2
	samples := make([]float32, n)
	for i := range n {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		samples[i] = float32(s) / 32768.0
	}
	return samples
}

// FromFloat32 converts float32 samples in [-1.0, 1.0] back to little-endian
// PCM16. Out-of-range values are clamped.
func FromFloat32(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, f := range samples {
		v := int32(f * 32768)
		binary.LittleEndian.PutUint16(out[i*2:], uint16(clamp16(v)))
	}
	return out
}

// DownmixMono16 averages interleaved PCM16 channels into a single mono
// channel. Uses int32 arithmetic so the sum cannot overflow.
func DownmixMono16(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	stride := channels * 2
	frames := len(pcm) / stride
	out := make([]byte, frames*2)
	for i := range frames {
		var sum int32
		for ch := range channels {
			off := i*stride + ch*2
			sum += int32(int16(binary.LittleEndian.Uint16(pcm[off:])))
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(clamp16(sum/int32(channels))))
	}
	return out
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using linear
// interpolation. If srcRate == dstRate the input is returned unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)
	sample := func(i int) int16 {
		return int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}

	for i := range dstSamples {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)

		s0 := sample(idx)
		s1 := s0
		if idx+1 < srcSamples {
			s1 = sample(idx + 1)
		}
		v := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

// ToStreamFormat converts PCM16 audio in format src to 16 kHz mono, the
// format every transcription backend consumes.
func ToStreamFormat(pcm []byte, src Format) ([]byte, error) {
	if src.Channels <= 0 || src.SampleRate <= 0 {
		return nil, fmt.Errorf("audio: invalid source format %s", src)
	}
	if len(pcm)%(2*src.Channels) != 0 {
		pcm = pcm[:len(pcm)-len(pcm)%(2*src.Channels)]
	}
	mono := DownmixMono16(pcm, src.Channels)
	return ResampleMono16(mono, src.SampleRate, SampleRate), nil
}

// String returns a human-readable form such as "48000Hz stereo".
func (f Format) String() string {
	ch := "mono"
	switch {
	case f.Channels == 2:
		ch = "stereo"
	case f.Channels > 2:
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}

func clamp16(v int32) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}
