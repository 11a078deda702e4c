package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/MrWong99/kaudio/pkg/audio"
)

// FallbackFormat is used when a TTS stream's header cannot be parsed.
var FallbackFormat = audio.Format{SampleRate: 24000, Channels: 1}

// ErrIncompleteHeader is returned when the stream ends before a full WAV
// header was read.
var ErrIncompleteHeader = errors.New("client: incomplete WAV header")

const playChunk = 4096

// AudioPlayer plays a WAV byte stream.
type AudioPlayer interface {
	Play(ctx context.Context, r io.Reader) error
}

// Player streams WAV audio to an output device as it arrives.
type Player struct {
	platform audio.Platform
	device   int
}

var _ AudioPlayer = (*Player)(nil)

// NewPlayer returns a player writing to device on p.
func NewPlayer(p audio.Platform, device int) *Player {
	return &Player{platform: p, device: device}
}

// Play reads the header, opens the device in the advertised format and
// copies the rest of r to it. An unparsable header selects [FallbackFormat]
// and the header bytes are played as audio.
func (p *Player) Play(ctx context.Context, r io.Reader) error {
	hdr := make([]byte, audio.WAVHeaderSize)
	n, err := io.ReadFull(r, hdr)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return fmt.Errorf("%w: got %d of %d bytes", ErrIncompleteHeader, n, audio.WAVHeaderSize)
		}
		return fmt.Errorf("client: read wav header: %w", err)
	}

	var pending []byte
	f, err := audio.ParseWAVHeader(hdr)
	if err != nil {
		slog.Warn("could not parse wav header, using fallback format", "err", err, "format", FallbackFormat)
		f = FallbackFormat
		pending = hdr
	}

	out, err := p.platform.OpenPlayback(p.device, f)
	if err != nil {
		return fmt.Errorf("client: open playback: %w", err)
	}
	defer out.Close()

	if len(pending) > 0 {
		if _, err := out.Write(pending); err != nil {
			return fmt.Errorf("client: playback: %w", err)
		}
	}

	buf := make([]byte, playChunk)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, rerr := r.Read(buf)
		if n > 0 {
			if _, err := out.Write(buf[:n]); err != nil {
				return fmt.Errorf("client: playback: %w", err)
			}
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return fmt.Errorf("client: read audio stream: %w", rerr)
		}
	}
}
