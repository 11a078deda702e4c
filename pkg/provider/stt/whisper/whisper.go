// Package whisper provides whisper.cpp-backed STT providers.
//
// [Provider] talks to a running whisper-server binary (POST /inference,
// response_format=verbose_json) and is the right choice when the model runs
// on another host or GPU box. [NativeProvider] links whisper.cpp in-process
// through the CGO bindings and avoids the HTTP round trip.
//
// Usage:
//
//	p, err := whisper.New("http://localhost:8080", whisper.WithLanguage("en"))
//	tr, err := p.Transcribe(ctx, samples, stt.Options{Prompt: "K.audio"})
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/kaudio/pkg/audio"
	"github.com/MrWong99/kaudio/pkg/provider/stt"
)

const defaultTimeout = 60 * time.Second

// Compile-time assertion that Provider implements stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the model identifier forwarded to the whisper.cpp server
// (e.g., "base.en", "small"). When empty the server uses whichever model it
// was started with.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the default language sent when a call carries no hint.
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithTemperature sets the decoding temperature sent with every request.
func WithTemperature(t float64) Option {
	return func(p *Provider) { p.temperature = t }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// Provider implements stt.Provider backed by a whisper.cpp HTTP server.
type Provider struct {
	serverURL   string
	model       string
	language    string
	temperature float64
	httpClient  *http.Client
}

// New creates a Provider that connects to the whisper.cpp server at
// serverURL (e.g., "http://localhost:8080").
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close implements stt.Provider. The HTTP provider holds no model.
func (p *Provider) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}

// verboseResponse mirrors whisper-server's verbose_json output.
type verboseResponse struct {
	Language                    string           `json:"language"`
	LanguageProbability         *float64         `json:"language_probability"`
	DetectedLanguageProbability *float64         `json:"detected_language_probability"`
	Duration                    float64          `json:"duration"`
	Text                        string           `json:"text"`
	Segments                    []verboseSegment `json:"segments"`
}

type verboseSegment struct {
	Start        float64 `json:"start"`
	End          float64 `json:"end"`
	Text         string  `json:"text"`
	AvgLogprob   float64 `json:"avg_logprob"`
	NoSpeechProb float64 `json:"no_speech_prob"`
}

// Transcribe encodes samples as WAV, POSTs them to /inference as
// multipart/form-data and converts the verbose_json reply.
func (p *Provider) Transcribe(ctx context.Context, samples []float32, opts stt.Options) (*stt.Transcription, error) {
	wav := audio.EncodeWAV(audio.FromFloat32(samples), audio.StreamFormat)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return nil, fmt.Errorf("whisper: write wav data: %w", err)
	}

	lang := opts.Language
	if lang == "" {
		lang = p.language
	}
	fields := [][2]string{
		{"response_format", "verbose_json"},
		{"temperature", strconv.FormatFloat(p.temperature, 'f', -1, 64)},
	}
	if lang != "" {
		fields = append(fields, [2]string{"language", lang})
	}
	if opts.Prompt != "" {
		fields = append(fields, [2]string{"prompt", opts.Prompt})
	}
	if p.model != "" {
		fields = append(fields, [2]string{"model", p.model})
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return nil, fmt.Errorf("whisper: write %s field: %w", f[0], err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+"/inference", &body)
	if err != nil {
		return nil, fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("whisper: read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("whisper: server returned HTTP %d: %s", resp.StatusCode, truncate(string(data), 200))
	}

	var vr verboseResponse
	if err := json.Unmarshal(data, &vr); err != nil {
		return nil, fmt.Errorf("whisper: parse JSON response: %w", err)
	}
	return vr.toTranscription(len(samples)), nil
}

func (vr *verboseResponse) toTranscription(numSamples int) *stt.Transcription {
	out := &stt.Transcription{
		Language: vr.Language,
		Duration: time.Duration(vr.Duration * float64(time.Second)),
	}
	if out.Duration == 0 {
		out.Duration = time.Duration(numSamples) * time.Second / audio.SampleRate
	}
	switch {
	case vr.LanguageProbability != nil:
		out.LanguageProbability = *vr.LanguageProbability
	case vr.DetectedLanguageProbability != nil:
		out.LanguageProbability = *vr.DetectedLanguageProbability
	}

	for _, s := range vr.Segments {
		out.Segments = append(out.Segments, stt.Segment{
			Start:        seconds(s.Start),
			End:          seconds(s.End),
			Text:         s.Text,
			AvgLogProb:   s.AvgLogprob,
			NoSpeechProb: s.NoSpeechProb,
		})
	}
	// Servers started without verbose output reply with text only.
	if len(out.Segments) == 0 && strings.TrimSpace(vr.Text) != "" {
		out.Segments = []stt.Segment{{End: out.Duration, Text: vr.Text}}
	}
	return out
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
