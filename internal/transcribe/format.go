package transcribe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/kaudio/pkg/audio"
	"github.com/MrWong99/kaudio/pkg/provider/stt"
)

// ErrUnreadableAudio is returned by [TranscribeFile] when the upload is not a
// PCM16 WAV file.
var ErrUnreadableAudio = errors.New("transcribe: unreadable audio")

// ResponseFormat selects how a one-shot transcription is rendered.
type ResponseFormat string

const (
	FormatJSON        ResponseFormat = "json"
	FormatText        ResponseFormat = "text"
	FormatSRT         ResponseFormat = "srt"
	FormatVTT         ResponseFormat = "vtt"
	FormatVerboseJSON ResponseFormat = "verbose_json"
)

// ParseResponseFormat validates s. The empty string selects [FormatJSON].
func ParseResponseFormat(s string) (ResponseFormat, error) {
	switch f := ResponseFormat(s); f {
	case "":
		return FormatJSON, nil
	case FormatJSON, FormatText, FormatSRT, FormatVTT, FormatVerboseJSON:
		return f, nil
	default:
		return "", fmt.Errorf("transcribe: invalid response format %q", s)
	}
}

// FileSegment is one unfiltered sub-segment of a file transcription.
type FileSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// FileResult is the outcome of transcribing a whole uploaded file.
type FileResult struct {
	Text                string
	Segments            []FileSegment
	Language            string
	LanguageProbability float64
	Duration            time.Duration
}

// TranscribeFile decodes a WAV upload, converts it to the stream format and
// transcribes it in one call. File transcription is not confidence-filtered.
func TranscribeFile(ctx context.Context, model stt.Provider, data []byte, opts stt.Options) (*FileResult, error) {
	pcm, f, err := audio.DecodeWAV(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnreadableAudio, err)
	}
	pcm, err = audio.ToStreamFormat(pcm, f)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnreadableAudio, err)
	}

	tr, err := model.Transcribe(ctx, audio.ToFloat32(pcm), opts)
	if err != nil {
		return nil, err
	}

	res := &FileResult{
		Text:                tr.Text(),
		Segments:            make([]FileSegment, 0, len(tr.Segments)),
		Language:            tr.Language,
		LanguageProbability: tr.LanguageProbability,
		Duration:            tr.Duration,
	}
	if res.Duration == 0 {
		res.Duration = audio.StreamFormat.Duration(pcm)
	}
	for _, s := range tr.Segments {
		res.Segments = append(res.Segments, FileSegment{
			Start: s.Start.Seconds(),
			End:   s.End.Seconds(),
			Text:  strings.TrimSpace(s.Text),
		})
	}
	return res, nil
}

type textResponse struct {
	Text string `json:"text"`
}

type verboseResponse struct {
	Task     string        `json:"task"`
	Language string        `json:"language"`
	Duration float64       `json:"duration"`
	Text     string        `json:"text"`
	Segments []FileSegment `json:"segments"`
}

// Render serializes r in format f and returns the body with its content type.
func Render(f ResponseFormat, r *FileResult) (body []byte, contentType string, err error) {
	switch f {
	case FormatJSON, "":
		body, err = json.Marshal(textResponse{Text: r.Text})
		return body, "application/json", err
	case FormatVerboseJSON:
		body, err = json.Marshal(verboseResponse{
			Task:     "transcribe",
			Language: r.Language,
			Duration: r.Duration.Seconds(),
			Text:     r.Text,
			Segments: r.Segments,
		})
		return body, "application/json", err
	case FormatText:
		return []byte(r.Text), "text/plain; charset=utf-8", nil
	case FormatSRT:
		return []byte(SRT(r.Segments)), "text/plain; charset=utf-8", nil
	case FormatVTT:
		return []byte(VTT(r.Segments)), "text/vtt; charset=utf-8", nil
	default:
		return nil, "", fmt.Errorf("transcribe: invalid response format %q", f)
	}
}

// SRT renders segments as a SubRip document.
func SRT(segments []FileSegment) string {
	var b strings.Builder
	for i, s := range segments {
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n",
			i+1, timestamp(s.Start, ','), timestamp(s.End, ','), s.Text)
	}
	return b.String()
}

// VTT renders segments as a WebVTT document.
func VTT(segments []FileSegment) string {
	lines := []string{"WEBVTT", ""}
	for _, s := range segments {
		lines = append(lines,
			timestamp(s.Start, '.')+" --> "+timestamp(s.End, '.'),
			s.Text,
			"",
		)
	}
	return strings.Join(lines, "\n")
}

// timestamp formats seconds as HH:MM:SS<sep>mmm.
func timestamp(seconds float64, sep byte) string {
	if seconds < 0 {
		seconds = 0
	}
	ms := int64(seconds*1000 + 0.5)
	h := ms / 3_600_000
	ms %= 3_600_000
	m := ms / 60_000
	ms %= 60_000
	s := ms / 1000
	ms %= 1000
	return fmt.Sprintf("%02d:%02d:%02d%c%03d", h, m, s, sep, ms)
}
