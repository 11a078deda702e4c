// Package proxy relays speech synthesis and voice listing requests to an
// OpenAI-compatible TTS server.
//
// The upstream is guarded by a [resilience.CircuitBreaker]: connection
// failures and 5xx answers count against it, and while it is open requests
// fail fast with [ErrUpstreamUnavailable].
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/MrWong99/kaudio/internal/observe"
	"github.com/MrWong99/kaudio/internal/resilience"
)

const (
	defaultSpeechTimeout = 60 * time.Second
	defaultVoicesTimeout = 10 * time.Second

	// maxDetail is the number of characters of an upstream error body
	// included in relayed errors.
	maxDetail = 500
)

// ErrUpstreamUnavailable is returned when the TTS server cannot be reached
// or the circuit breaker is open.
var ErrUpstreamUnavailable = errors.New("proxy: tts upstream unavailable")

// ErrInvalidVoices is returned when the voices answer is not
// {"voices": [...]}.
var ErrInvalidVoices = errors.New("proxy: unexpected voice list format")

// UpstreamError is an error status answered by the TTS server.
type UpstreamError struct {
	StatusCode int
	// Detail is the start of the upstream body, at most 500 characters.
	Detail string
}

func (e *UpstreamError) Error() string {
	return "Backend TTS service error: " + e.Detail
}

// Formats lists the accepted response_format values.
var Formats = []string{"wav", "mp3", "opus", "aac", "flac"}

// SpeechRequest is the body of POST /v1/audio/speech.
type SpeechRequest struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	ResponseFormat string  `json:"response_format,omitempty"`
	Speed          float64 `json:"speed,omitempty"`
}

// Normalize applies defaults and validates r. All problems are reported
// together.
func (r *SpeechRequest) Normalize() error {
	if r.ResponseFormat == "" {
		r.ResponseFormat = "wav"
	}
	if r.Speed == 0 {
		r.Speed = 1.0
	}

	var errs []error
	if r.Input == "" {
		errs = append(errs, errors.New("input is required"))
	}
	if r.Voice == "" {
		errs = append(errs, errors.New("voice is required"))
	}
	known := false
	for _, f := range Formats {
		if r.ResponseFormat == f {
			known = true
			break
		}
	}
	if !known {
		errs = append(errs, fmt.Errorf("response_format must be one of %s", strings.Join(Formats, ", ")))
	}
	if r.Speed < 0.25 || r.Speed > 4.0 {
		errs = append(errs, fmt.Errorf("speed must be between 0.25 and 4.0, got %g", r.Speed))
	}
	return errors.Join(errs...)
}

// Speech is a successful upstream answer. The caller must close Body.
type Speech struct {
	Body        io.ReadCloser
	ContentType string
	// Chunked is set when the upstream streams the body.
	Chunked bool
}

// Client talks to the TTS upstream.
type Client struct {
	baseURL       string
	http          *http.Client
	voicesTimeout time.Duration
	breaker       *resilience.CircuitBreaker
	metrics       *observe.Metrics
}

// Option configures a [Client].
type Option func(*Client)

// WithHTTPClient replaces the default client, whose timeout is 60s.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithVoicesTimeout overrides the 10s deadline for voice listing.
func WithVoicesTimeout(d time.Duration) Option {
	return func(cl *Client) { cl.voicesTimeout = d }
}

// WithBreaker replaces the default circuit breaker.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(cl *Client) { cl.breaker = cb }
}

// WithMetrics records relay latency to m.
func WithMetrics(m *observe.Metrics) Option {
	return func(cl *Client) { cl.metrics = m }
}

// New returns a client for the TTS server at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("proxy: base URL must not be empty")
	}
	c := &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		http:          &http.Client{Timeout: defaultSpeechTimeout},
		voicesTimeout: defaultVoicesTimeout,
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	if c.breaker == nil {
		c.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:      "tts",
			IsFailure: isUpstreamFailure,
		})
	}
	return c, nil
}

func isUpstreamFailure(err error) bool {
	if errors.Is(err, ErrUpstreamUnavailable) {
		return true
	}
	var ue *UpstreamError
	return errors.As(err, &ue) && ue.StatusCode >= 500
}

// Speech forwards req, which must already be normalized. On success the
// caller owns the returned body. An upstream error status is returned as
// *[UpstreamError] with the upstream body already closed.
func (c *Client) Speech(ctx context.Context, req SpeechRequest) (*Speech, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("proxy: encode speech request: %w", err)
	}

	var out *Speech
	start := time.Now()
	err = c.breaker.Execute(func() error {
		hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/audio/speech", bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("proxy: create request: %w", err)
		}
		hreq.Header.Set("Content-Type", "application/json")
		hreq.Header.Set("Accept", "audio/"+req.ResponseFormat)

		resp, err := c.http.Do(hreq)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return upstreamError(resp)
		}

		ct := resp.Header.Get("Content-Type")
		if ct == "" {
			ct = "audio/" + req.ResponseFormat
		}
		out = &Speech{
			Body:        resp.Body,
			ContentType: ct,
			Chunked:     isChunked(resp),
		}
		return nil
	})
	c.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())
	c.recordRequest(ctx, "speech", err)

	if errors.Is(err, resilience.ErrCircuitOpen) {
		return nil, fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Voices returns the voice names offered by the upstream.
func (c *Client) Voices(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.voicesTimeout)
	defer cancel()

	var voices []string
	err := c.breaker.Execute(func() error {
		hreq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/audio/voices", nil)
		if err != nil {
			return fmt.Errorf("proxy: create request: %w", err)
		}
		hreq.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(hreq)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return upstreamError(resp)
		}
		defer resp.Body.Close()

		var body struct {
			Voices *[]string `json:"voices"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidVoices, err)
		}
		if body.Voices == nil {
			return ErrInvalidVoices
		}
		voices = *body.Voices
		return nil
	})
	c.recordRequest(ctx, "voices", err)

	if errors.Is(err, resilience.ErrCircuitOpen) {
		return nil, fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
	}
	if err != nil {
		return nil, err
	}
	return voices, nil
}

func (c *Client) recordRequest(ctx context.Context, kind string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
		c.metrics.RecordProviderError(ctx, "tts", kind)
	}
	c.metrics.RecordProviderRequest(ctx, "tts", kind, status)
}

// upstreamError reads a bounded prefix of the error body and closes it.
func upstreamError(resp *http.Response) *UpstreamError {
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 4*maxDetail))
	detail := truncate(string(data), maxDetail)
	if err != nil && detail == "" {
		detail = fmt.Sprintf("(failed to read error body: %v)", err)
	}
	return &UpstreamError{StatusCode: resp.StatusCode, Detail: detail}
}

func isChunked(resp *http.Response) bool {
	for _, te := range resp.TransferEncoding {
		if strings.EqualFold(te, "chunked") {
			return true
		}
	}
	return false
}

// truncate returns at most n characters of s, never splitting a rune.
func truncate(s string, n int) string {
	s = strings.ToValidUTF8(s, "")
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
