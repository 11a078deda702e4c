package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// StreamPath is the WebSocket endpoint path on the server.
const StreamPath = "/v1/audio/transcriptions/ws"

// Request timeouts for the one-shot endpoints.
const (
	ChatTimeout       = 60 * time.Second
	SpeechTimeout     = 60 * time.Second
	SummarizeTimeout  = 120 * time.Second
	TranscribeTimeout = 300 * time.Second
)

// Conversation request parameters.
const (
	chatTemperature = 0.7
	chatMaxTokens   = 150

	speechModel  = "kokoro"
	speechFormat = "wav"
	speechSpeed  = 1.0
)

// assistantPrompt steers chat replies toward short spoken answers.
const assistantPrompt = `You are a voice assistant. Your replies are converted to speech, so keep them conversational, concise and accurate.
Answer the question directly. Do not include reasoning, lists, markdown or explanations of how you arrived at the answer.
For example, if asked "What's the weather in Taipei?", reply with a single short sentence such as "It's sunny and about 28 degrees in Taipei right now."`

// StatusError is returned when the server answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Detail     string
}

func (e *StatusError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("server returned %d", e.StatusCode)
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Detail)
}

// APIClient calls the server's HTTP endpoints.
type APIClient struct {
	base      string
	http      *http.Client
	chatModel string
}

var (
	_ Chatter = (*APIClient)(nil)
	_ Speaker = (*APIClient)(nil)
)

// APIOption configures an [APIClient].
type APIOption func(*APIClient)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) APIOption {
	return func(a *APIClient) { a.http = c }
}

// WithChatModel sets the model name sent with chat requests. Empty lets the
// server pick its default.
func WithChatModel(model string) APIOption {
	return func(a *APIClient) { a.chatModel = model }
}

// NewAPIClient returns a client for the server at base (scheme://host[:port]).
func NewAPIClient(base string, opts ...APIOption) *APIClient {
	a := &APIClient{base: strings.TrimRight(base, "/"), http: &http.Client{}}
	for _, o := range opts {
		o(a)
	}
	return a
}

// HTTPBase derives the HTTP base URL from a streaming URL: ws becomes http,
// wss becomes https and the path is dropped.
func HTTPBase(streamURL string) (string, error) {
	u, err := url.Parse(streamURL)
	if err != nil {
		return "", fmt.Errorf("client: parse server url: %w", err)
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	case "http", "https":
	default:
		return "", fmt.Errorf("client: unsupported url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("client: server url %q has no host", streamURL)
	}
	return u.Scheme + "://" + u.Host, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model,omitempty"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Chat asks the assistant to reply to text.
func (a *APIClient) Chat(ctx context.Context, text string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, ChatTimeout)
	defer cancel()

	req := chatRequest{
		Model: a.chatModel,
		Messages: []chatMessage{
			{Role: "system", Content: assistantPrompt},
			{Role: "user", Content: text},
		},
		Temperature: chatTemperature,
		MaxTokens:   chatMaxTokens,
	}
	var resp chatResponse
	if err := a.postJSON(ctx, "/v1/chat/completions", req, &resp); err != nil {
		return "", fmt.Errorf("client: chat: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("client: chat: response has no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// Speech requests synthesized WAV audio for text. The caller closes the
// returned body.
func (a *APIClient) Speech(ctx context.Context, text, voice string) (io.ReadCloser, error) {
	body, err := json.Marshal(map[string]any{
		"model":           speechModel,
		"input":           text,
		"voice":           voice,
		"response_format": speechFormat,
		"speed":           speechSpeed,
	})
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, SpeechTimeout)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.base+"/v1/audio/speech", bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/wav")

	resp, err := a.http.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("client: speech: %w", err)
	}
	if resp.StatusCode >= 300 {
		defer cancel()
		defer resp.Body.Close()
		return nil, fmt.Errorf("client: speech: %w", readStatusError(resp))
	}
	return &cancelBody{ReadCloser: resp.Body, cancel: cancel}, nil
}

// Summarize asks the server to summarize a transcript.
func (a *APIClient) Summarize(ctx context.Context, text string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, SummarizeTimeout)
	defer cancel()

	var resp struct {
		Summary string `json:"summary"`
	}
	if err := a.postJSON(ctx, "/v1/summarizations", map[string]string{"text": text}, &resp); err != nil {
		return "", fmt.Errorf("client: summarize: %w", err)
	}
	return resp.Summary, nil
}

// TranscribeFile uploads a WAV file for one-shot transcription and returns
// the text.
func (a *APIClient) TranscribeFile(ctx context.Context, path, language string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("client: transcribe file: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", fmt.Errorf("client: transcribe file: read %s: %w", path, err)
	}
	_ = mw.WriteField("response_format", "json")
	if language != "" {
		_ = mw.WriteField("language", language)
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, TranscribeTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.base+"/v1/audio/transcriptions", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var resp struct {
		Text string `json:"text"`
	}
	if err := a.do(req, &resp); err != nil {
		return "", fmt.Errorf("client: transcribe file: %w", err)
	}
	return resp.Text, nil
}

// Voices lists the voices the speech backend offers.
func (a *APIClient) Voices(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.base+"/v1/audio/voices", nil)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Voices []string `json:"voices"`
	}
	if err := a.do(req, &resp); err != nil {
		return nil, fmt.Errorf("client: voices: %w", err)
	}
	return resp.Voices, nil
}

func (a *APIClient) postJSON(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.base+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return a.do(req, out)
}

func (a *APIClient) do(req *http.Request, out any) error {
	resp, err := a.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return readStatusError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// readStatusError builds a StatusError, preferring the server's "detail"
// field over the raw body.
func readStatusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	se := &StatusError{StatusCode: resp.StatusCode, Detail: strings.TrimSpace(string(raw))}
	var d struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(raw, &d) == nil && d.Detail != "" {
		se.Detail = d.Detail
	}
	return se
}

// cancelBody releases the request context when the body is closed.
type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}
