// This file contains the NativeProvider implementation backed by the
// whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a)
// and headers (whisper.h) must be available at link time via LIBRARY_PATH
// and C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"
	"time"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/kaudio/pkg/audio"
	"github.com/MrWong99/kaudio/pkg/provider/stt"
)

// Compile-time assertion that NativeProvider satisfies stt.Provider.
var _ stt.Provider = (*NativeProvider)(nil)

// minTokenProb keeps log(P) finite for tokens the model reports with zero
// probability.
const minTokenProb = 1e-10

// NativeProvider implements stt.Provider using whisper.cpp Go bindings. The
// model is loaded once and shared; each Transcribe call creates its own
// context, so calls from different connections do not interfere.
type NativeProvider struct {
	model    whisperlib.Model
	language string
	threads  uint
}

// NativeOption is a functional option for configuring a NativeProvider.
type NativeOption func(*NativeProvider)

// WithNativeLanguage sets the default language used when a call passes no
// hint. Empty or "auto" lets whisper detect it.
func WithNativeLanguage(lang string) NativeOption {
	return func(p *NativeProvider) { p.language = lang }
}

// WithThreads sets the number of CPU threads per inference. Zero keeps the
// whisper.cpp default.
func WithThreads(n int) NativeOption {
	return func(p *NativeProvider) {
		if n > 0 {
			p.threads = uint(n)
		}
	}
}

// NewNative loads the whisper.cpp model at modelPath. The caller must call
// Close when the provider is no longer needed.
func NewNative(modelPath string, opts ...NativeOption) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	p := &NativeProvider{model: model}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close releases the whisper model.
func (p *NativeProvider) Close() error {
	if p.model != nil {
		return p.model.Close()
	}
	return nil
}

// Transcribe implements stt.Provider.
func (p *NativeProvider) Transcribe(ctx context.Context, samples []float32, opts stt.Options) (*stt.Transcription, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: %w", err)
	}
	if p.model == nil {
		return nil, stt.ErrModelNotLoaded
	}

	wctx, err := p.model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("whisper: create context: %w", err)
	}

	lang := opts.Language
	if lang == "" {
		lang = p.language
	}
	if lang == "" {
		lang = "auto"
	}
	if err := wctx.SetLanguage(lang); err != nil {
		slog.Warn("whisper: failed to set language, using auto-detect", "language", lang, "err", err)
		_ = wctx.SetLanguage("auto")
		lang = "auto"
	}
	wctx.SetTranslate(false)
	if opts.Prompt != "" {
		wctx.SetInitialPrompt(opts.Prompt)
	}
	if p.threads > 0 {
		wctx.SetThreads(p.threads)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return nil, fmt.Errorf("whisper: process audio: %w", err)
	}

	out := &stt.Transcription{
		Duration: time.Duration(len(samples)) * time.Second / audio.SampleRate,
	}
	for {
		seg, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("whisper: read segment: %w", err)
		}
		// NoSpeechProb stays 0: the bindings do not expose it.
		out.Segments = append(out.Segments, stt.Segment{
			Start:      seg.Start,
			End:        seg.End,
			Text:       seg.Text,
			AvgLogProb: avgLogProb(seg.Tokens),
		})
	}

	if lang == "auto" {
		out.Language = wctx.DetectedLanguage()
	} else {
		out.Language = lang
		out.LanguageProbability = 1
	}
	return out, nil
}

// avgLogProb averages log(P) over the text tokens of a segment. Special
// tokens such as timestamps are skipped. A segment without text tokens
// reports 0.
func avgLogProb(tokens []whisperlib.Token) float64 {
	var (
		sum float64
		n   int
	)
	for _, t := range tokens {
		if strings.HasPrefix(t.Text, "[_") || strings.HasPrefix(t.Text, "<|") {
			continue
		}
		sum += math.Log(math.Max(float64(t.P), minTokenProb))
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
