// Package client implements the microphone side of the streaming
// transcription protocol.
//
// Captured frames travel from the device callback through a [FrameChannel]
// to a [StreamSender] on the connection. A [Receiver] decodes server messages
// and posts them to a [Router], the single goroutine that mutates client
// state. In conversation mode the [Orchestrator] turns final transcripts
// into spoken replies, stopping the capture stream while a reply plays.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/kaudio/internal/observe"
	"github.com/MrWong99/kaudio/internal/protocol"
	"github.com/MrWong99/kaudio/pkg/audio"
)

// DefaultDrainTimeout bounds how long the client waits for the server to
// flush results and close after the end-of-stream marker.
const DefaultDrainTimeout = 30 * time.Second

// Options configure one recording session.
type Options struct {
	// ServerURL is the WebSocket URL, with or without the stream path.
	ServerURL string

	// Device is the capture device index, or audio.DefaultDevice.
	Device int
	// OutputDevice is the playback device for spoken replies.
	OutputDevice int

	Language   string
	Prompt     string
	Translate  bool
	TargetLang string
	SourceLang string

	// Conversation turns each final transcript into a spoken reply.
	Conversation bool
	Voices       []string
	ChatModel    string

	// OutputDir receives a timestamped directory per session. Empty skips
	// saving.
	OutputDir string
	Summarize bool

	DrainTimeout time.Duration
	Dial         DialConfig
}

// Validate checks option combinations.
func (o Options) Validate() error {
	if o.ServerURL == "" {
		return errors.New("client: server url is required")
	}
	if o.Translate && strings.TrimSpace(o.TargetLang) == "" {
		return errors.New("client: a target language is required when translation is enabled")
	}
	return nil
}

// StreamURL returns the server URL with the stream path and the session
// options as query parameters.
func (o Options) StreamURL() (string, error) {
	u, err := url.Parse(o.ServerURL)
	if err != nil {
		return "", fmt.Errorf("client: parse server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = StreamPath
	}
	q := u.Query()
	setIf := func(k, v string) {
		if v != "" {
			q.Set(k, v)
		}
	}
	setIf("language", o.Language)
	setIf("prompt", o.Prompt)
	if o.Translate {
		q.Set("translate", strconv.FormatBool(true))
		setIf("target_lang", o.TargetLang)
		setIf("source_lang", o.SourceLang)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Client runs recording sessions against one server.
type Client struct {
	opts     Options
	platform audio.Platform
	api      *APIClient
	out      io.Writer
	metrics  *observe.Metrics
	now      func() time.Time
}

// Option configures a [Client].
type Option func(*Client)

// WithOutput sets where transcripts and status lines are printed.
func WithOutput(w io.Writer) Option {
	return func(c *Client) { c.out = w }
}

// WithMetrics sets the metrics instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithAPIClient replaces the HTTP API client.
func WithAPIClient(a *APIClient) Option {
	return func(c *Client) { c.api = a }
}

// New validates opts and returns a client using platform for audio.
func New(opts Options, platform audio.Platform, options ...Option) (*Client, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = DefaultDrainTimeout
	}
	c := &Client{opts: opts, platform: platform, out: io.Discard, now: time.Now}
	for _, o := range options {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	if c.api == nil {
		base, err := HTTPBase(opts.ServerURL)
		if err != nil {
			return nil, err
		}
		c.api = NewAPIClient(base, WithChatModel(opts.ChatModel))
	}
	return c, nil
}

// API returns the HTTP API client.
func (c *Client) API() *APIClient { return c.api }

// Result summarizes a finished recording session.
type Result struct {
	Transcript     []string
	Summary        string
	TranscriptPath string
	SummaryPath    string
	FramesSent     int
	FramesDropped  int64
}

// Run records until ctx is cancelled or the server ends the stream, then
// saves the transcript and, if requested, its summary.
func (c *Client) Run(ctx context.Context) (*Result, error) {
	streamURL, err := c.opts.StreamURL()
	if err != nil {
		return nil, err
	}

	transcript := &Transcript{}
	router := NewRouter(c.out, transcript)
	frames := NewFrameChannel(DefaultFrameBuffer, c.metrics)

	mic, err := c.platform.OpenCapture(c.opts.Device, func(frame []byte) {
		frames.Push(frame)
	})
	if err != nil {
		return nil, fmt.Errorf("client: open microphone: %w", err)
	}
	defer mic.Close()

	voices := NewVoiceSet(c.opts.Voices...)
	if c.opts.Conversation && len(voices.List()) == 0 {
		c.pickDefaultVoice(ctx, voices)
	}
	orch := NewOrchestrator(OrchestratorConfig{
		Router:       router,
		Mic:          mic,
		Conversation: c.opts.Conversation,
		Chat:         c.api,
		Speech:       c.api,
		Player:       NewPlayer(c.platform, c.opts.OutputDevice),
		Voices:       voices,
	})

	conn, err := Dial(ctx, streamURL, c.opts.Dial)
	if err != nil {
		return nil, err
	}
	defer conn.CloseNow()

	routerCtx, stopRouter := context.WithCancel(context.WithoutCancel(ctx))
	routerDone := make(chan struct{})
	go func() {
		defer close(routerDone)
		router.Run(routerCtx)
	}()

	started := c.now()
	if err := orch.Start(); err != nil {
		stopRouter()
		<-routerDone
		return nil, err
	}
	slog.Info("recording started", "url", streamURL, "conversation", c.opts.Conversation)

	sender := NewStreamSender(conn, frames)
	streamErr := c.stream(ctx, sender, NewReceiver(conn, router), orch)

	orch.Stop()
	orch.Close()
	stopRouter()
	<-routerDone
	if streamErr == nil {
		conn.Close(websocket.StatusNormalClosure, "")
	}

	res := &Result{
		Transcript:    transcript.Lines(),
		FramesSent:    sender.Sent(),
		FramesDropped: frames.Dropped(),
	}
	slog.Info("recording stopped", "lines", len(res.Transcript), "frames_sent", res.FramesSent, "frames_dropped", res.FramesDropped)

	if err := c.finish(ctx, started, transcript, res); err != nil && streamErr == nil {
		streamErr = err
	}
	return res, streamErr
}

// stream runs the sender, the receiver and the stop watcher until the
// server closes the connection.
func (c *Client) stream(ctx context.Context, sender *StreamSender, receiver *Receiver, orch *Orchestrator) error {
	connCtx, cancelConn := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelConn()

	stop := make(chan struct{})
	recvDone := make(chan struct{})
	g, gctx := errgroup.WithContext(connCtx)

	g.Go(func() error {
		return sender.Run(gctx, stop)
	})
	var recvErr error
	g.Go(func() error {
		defer close(recvDone)
		recvErr = receiver.Run(gctx)
		return recvErr
	})
	g.Go(func() error {
		select {
		case <-ctx.Done():
			slog.Info("stopping recording")
		case <-recvDone:
		case <-gctx.Done():
		}
		orch.Stop()
		close(stop)

		t := time.NewTimer(c.opts.DrainTimeout)
		defer t.Stop()
		select {
		case <-recvDone:
		case <-gctx.Done():
		case <-t.C:
			slog.Warn("server did not close the stream in time", "timeout", c.opts.DrainTimeout)
			cancelConn()
		}
		return nil
	})

	err := g.Wait()
	// A write racing the server's close must not hide the close reason.
	var sce *ServerClosedError
	if errors.As(recvErr, &sce) {
		return recvErr
	}
	if errors.Is(err, context.Canceled) && connCtx.Err() != nil {
		return nil
	}
	return err
}

func (c *Client) finish(ctx context.Context, started time.Time, t *Transcript, res *Result) error {
	if c.opts.OutputDir == "" || t.Len() == 0 {
		return nil
	}
	dir := SessionDir(c.opts.OutputDir, started)
	path, err := t.Save(dir)
	if err != nil {
		return err
	}
	res.TranscriptPath = path
	fmt.Fprintf(c.out, "Transcript saved to %s\n", path)

	if !c.opts.Summarize {
		return nil
	}
	summary, err := c.api.Summarize(context.WithoutCancel(ctx), t.Text())
	if err != nil {
		slog.Error("summarization failed", "err", err)
		fmt.Fprintf(c.out, "Summarization failed: %v\n", err)
		return nil
	}
	r := NewRouter(c.out, t)
	r.OnSummary = func(s string) { res.Summary = s }
	r.Handle(protocol.SummaryResult{Summary: summary})

	path, err = SaveSummary(dir, summary)
	if err != nil {
		return err
	}
	res.SummaryPath = path
	fmt.Fprintf(c.out, "Summary saved to %s\n", path)
	return nil
}

// pickDefaultVoice selects the first voice the server offers.
func (c *Client) pickDefaultVoice(ctx context.Context, voices *VoiceSet) {
	list, err := c.api.Voices(ctx)
	if err != nil {
		slog.Warn("could not list voices", "err", err)
		return
	}
	if len(list) > 0 {
		voices.Add(list[0])
		slog.Info("no voice selected, using the first available voice", "voice", list[0])
	}
}

// TranscribeFile transcribes one WAV file and prints the result.
func (c *Client) TranscribeFile(ctx context.Context, path string) (string, error) {
	r := NewRouter(c.out, &Transcript{})
	text, err := c.api.TranscribeFile(ctx, path, c.opts.Language)
	if err != nil {
		r.Handle(protocol.FileTranscriptionError{Error: err.Error(), FilePath: path})
		return "", err
	}
	r.Handle(protocol.FileTranscriptionResult{Text: text, FilePath: path})
	return text, nil
}

// ListDevices prints the capture devices of p.
func ListDevices(w io.Writer, p audio.Platform) error {
	devices, err := p.Devices()
	if err != nil {
		return fmt.Errorf("client: list devices: %w", err)
	}
	fmt.Fprintln(w, "Input devices:")
	n := 0
	for _, d := range devices {
		if d.MaxInputChannels <= 0 {
			continue
		}
		n++
		fmt.Fprintf(w, "  [%d] %s (%d ch, %.0f Hz)\n", d.Index, d.Name, d.MaxInputChannels, d.DefaultSampleRate)
	}
	if n == 0 {
		fmt.Fprintln(w, "  none found")
	}
	return nil
}
