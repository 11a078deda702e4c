package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// WAVHeaderSize is the size of the canonical RIFF/WAVE header that precedes
// PCM data in a streamed WAV body.
const WAVHeaderSize = 44

// ErrNotWAV is returned when a byte slice does not start with a RIFF/WAVE
// container.
var ErrNotWAV = errors.New("audio: not a RIFF/WAVE stream")

// EncodeWAV wraps PCM16 data in a canonical 44-byte RIFF/WAVE header.
func EncodeWAV(pcm []byte, f Format) []byte {
	const bps = 16
	byteRate := f.SampleRate * f.Channels * bps / 8
	blockAlign := f.Channels * bps / 8

	buf := make([]byte, WAVHeaderSize+len(pcm))
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+len(pcm)))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(f.Channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], bps)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(len(pcm)))
	copy(buf[44:], pcm)
	return buf
}

// ParseWAVHeader reads the stream format from a canonical 44-byte header.
// Only 16-bit PCM is accepted; any other sample width is an error.
func ParseWAVHeader(hdr []byte) (Format, error) {
	if len(hdr) < WAVHeaderSize {
		return Format{}, fmt.Errorf("audio: wav header too short: %d bytes", len(hdr))
	}
	if !bytes.Equal(hdr[0:4], []byte("RIFF")) || !bytes.Equal(hdr[8:12], []byte("WAVE")) {
		return Format{}, ErrNotWAV
	}
	if !bytes.Equal(hdr[12:16], []byte("fmt ")) {
		return Format{}, errors.New("audio: wav header: fmt chunk not at offset 12")
	}
	return parseFmtChunk(hdr[20:36])
}

// DecodeWAV walks the chunks of a complete WAV file and returns its PCM16
// payload together with its format.
func DecodeWAV(data []byte) ([]byte, Format, error) {
	if len(data) < 12 || !bytes.Equal(data[0:4], []byte("RIFF")) || !bytes.Equal(data[8:12], []byte("WAVE")) {
		return nil, Format{}, ErrNotWAV
	}

	var (
		f       Format
		haveFmt bool
	)
	off := 12
	for off+8 <= len(data) {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		end := body + size
		if end > len(data) {
			end = len(data)
		}

		switch id {
		case "fmt ":
			if end-body < 16 {
				return nil, Format{}, errors.New("audio: wav fmt chunk truncated")
			}
			var err error
			if f, err = parseFmtChunk(data[body : body+16]); err != nil {
				return nil, Format{}, err
			}
			haveFmt = true
		case "data":
			if !haveFmt {
				return nil, Format{}, errors.New("audio: wav data chunk before fmt chunk")
			}
			return data[body:end], f, nil
		}

		off = body + size
		if size%2 == 1 {
			off++
		}
	}
	return nil, Format{}, errors.New("audio: wav data chunk not found")
}

func parseFmtChunk(c []byte) (Format, error) {
	audioFormat := binary.LittleEndian.Uint16(c[0:2])
	channels := int(binary.LittleEndian.Uint16(c[2:4]))
	rate := int(binary.LittleEndian.Uint32(c[4:8]))
	bits := binary.LittleEndian.Uint16(c[14:16])

	if audioFormat != 1 {
		return Format{}, fmt.Errorf("audio: unsupported wav encoding %d", audioFormat)
	}
	if bits != 16 {
		return Format{}, fmt.Errorf("audio: unsupported sample width %d bits", bits)
	}
	if channels <= 0 || rate <= 0 {
		return Format{}, fmt.Errorf("audio: invalid wav format %d channels at %d Hz", channels, rate)
	}
	return Format{SampleRate: rate, Channels: channels}, nil
}
