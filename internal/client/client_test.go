package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/kaudio/internal/protocol"
	"github.com/MrWong99/kaudio/pkg/audio"
	"github.com/MrWong99/kaudio/pkg/audio/mock"
)

// fakeServer speaks the streaming protocol: it counts binary frames until
// STREAM_END, then sends one final and closes normally.
type fakeServer struct {
	frames    atomic.Int64
	query     atomic.Value
	closeWith websocket.StatusCode
}

func (f *fakeServer) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/audio/transcriptions/ws", func(w http.ResponseWriter, r *http.Request) {
		f.query.Store(r.URL.RawQuery)
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		defer c.CloseNow()
		ctx := r.Context()

		if f.closeWith != 0 {
			c.Close(f.closeWith, "STT service is not available")
			return
		}
		send := func(m protocol.Message) {
			raw, _ := protocol.Encode(m)
			_ = c.Write(ctx, websocket.MessageText, raw)
		}
		send(protocol.Info{Message: "Session 1234 started"})
		for {
			typ, data, err := c.Read(ctx)
			if err != nil {
				return
			}
			if typ == websocket.MessageBinary {
				f.frames.Add(1)
				continue
			}
			if string(data) == StreamEnd {
				break
			}
		}
		send(protocol.Final{Text: "Hello world.", End: 0.8, Language: "en"})
		c.Close(websocket.StatusNormalClosure, "")
	})
	mux.HandleFunc("/v1/summarizations", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		_ = json.NewDecoder(r.Body).Decode(&req)
		_ = json.NewEncoder(w).Encode(map[string]string{"summary": "Greeting: " + req["text"]})
	})
	return mux
}

// emitWhenListening waits for the client to open and start the mic, emits n
// frames and then cancels the session.
func emitWhenListening(t *testing.T, p *mock.Platform, n int, cancel context.CancelFunc) {
	t.Helper()
	go func() {
		defer cancel()
		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) {
			if c := p.Capture(); c != nil && c.Active() {
				for range n {
					c.Emit(bytes.Repeat([]byte{1}, audio.FrameBytes))
				}
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	}()
}

func TestClient_RunSession(t *testing.T) {
	t.Parallel()

	fs := &fakeServer{}
	srv := httptest.NewServer(fs.handler(t))
	t.Cleanup(srv.Close)

	out := &lockedBuffer{}
	outDir := t.TempDir()
	platform := &mock.Platform{}
	c, err := New(Options{
		ServerURL:    srv.URL,
		Device:       audio.DefaultDevice,
		Language:     "en",
		Translate:    true,
		TargetLang:   "de",
		OutputDir:    outDir,
		Summarize:    true,
		DrainTimeout: 5 * time.Second,
		Dial:         DialConfig{MaxRetries: -1},
	}, platform, WithOutput(out))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	emitWhenListening(t, platform, 5, cancel)

	res, err := c.Run(ctx)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if got := fs.frames.Load(); got != 5 {
		t.Errorf("server received %d frames, want 5", got)
	}
	if res.FramesSent != 5 || res.FramesDropped != 0 {
		t.Errorf("result frames sent=%d dropped=%d", res.FramesSent, res.FramesDropped)
	}
	if len(res.Transcript) != 1 || res.Transcript[0] != "Hello world." {
		t.Fatalf("transcript = %v", res.Transcript)
	}

	q, _ := url.ParseQuery(fs.query.Load().(string))
	if q.Get("language") != "en" || q.Get("translate") != "true" || q.Get("target_lang") != "de" {
		t.Errorf("query = %v", q)
	}

	data, err := os.ReadFile(res.TranscriptPath)
	if err != nil || string(data) != "Hello world." {
		t.Errorf("saved transcript = %q, %v", data, err)
	}
	if res.Summary != "Greeting: Hello world." {
		t.Errorf("summary = %q", res.Summary)
	}
	if data, _ := os.ReadFile(res.SummaryPath); string(data) != res.Summary {
		t.Errorf("saved summary = %q", data)
	}
	for _, want := range []string{"Info: Session 1234 started", "Transcript (en): Hello world.", "Summary:"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}
	if mic := platform.Capture(); mic.Active() || mic.CloseCalls != 1 {
		t.Errorf("mic active=%v closes=%d after Run", mic.Active(), mic.CloseCalls)
	}
}

func TestClient_ServerUnavailable(t *testing.T) {
	t.Parallel()

	fs := &fakeServer{closeWith: websocket.StatusInternalError}
	srv := httptest.NewServer(fs.handler(t))
	t.Cleanup(srv.Close)

	outDir := t.TempDir()
	platform := &mock.Platform{}
	c, err := New(Options{
		ServerURL: srv.URL,
		Device:    audio.DefaultDevice,
		OutputDir: outDir,
		Dial:      DialConfig{MaxRetries: -1},
	}, platform)
	if err != nil {
		t.Fatal(err)
	}

	res, err := c.Run(context.Background())
	var sce *ServerClosedError
	if !errors.As(err, &sce) || sce.Code != int(websocket.StatusInternalError) || sce.Reason != "STT service is not available" {
		t.Fatalf("Run() error = %v, want the server's close reason", err)
	}
	if res == nil || res.TranscriptPath != "" {
		t.Errorf("result = %+v", res)
	}
	if entries, _ := os.ReadDir(outDir); len(entries) != 0 {
		t.Errorf("output dir has %d entries, want none", len(entries))
	}
	if platform.Capture().Active() {
		t.Error("mic left running after the server closed")
	}
}

func TestClient_DialFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	c, err := New(Options{ServerURL: srv.URL, Dial: DialConfig{MaxRetries: 1, Backoff: time.Millisecond}}, &mock.Platform{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Run(context.Background()); err == nil || !strings.Contains(err.Error(), "after 2 attempts") {
		t.Fatalf("Run() error = %v", err)
	}
}

func TestOptions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		opts    Options
		want    string
		wantErr bool
	}{
		{
			name: "bare host gets the stream path",
			opts: Options{ServerURL: "ws://localhost:8000"},
			want: "ws://localhost:8000/v1/audio/transcriptions/ws",
		},
		{
			name: "https becomes wss",
			opts: Options{ServerURL: "https://asr.example.com", Prompt: "Kubernetes"},
			want: "wss://asr.example.com/v1/audio/transcriptions/ws?prompt=Kubernetes",
		},
		{
			name: "translation options",
			opts: Options{ServerURL: "ws://h/v1/audio/transcriptions/ws", Translate: true, TargetLang: "de", SourceLang: "en"},
			want: "ws://h/v1/audio/transcriptions/ws?source_lang=en&target_lang=de&translate=true",
		},
		{
			name:    "translate without target",
			opts:    Options{ServerURL: "ws://h", Translate: true},
			wantErr: true,
		},
		{name: "missing url", opts: Options{}, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if err := tc.opts.Validate(); (err != nil) != tc.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
			if tc.wantErr {
				return
			}
			got, err := tc.opts.StreamURL()
			if err != nil || got != tc.want {
				t.Errorf("StreamURL() = %q, %v; want %q", got, err, tc.want)
			}
		})
	}
}

func TestListDevices(t *testing.T) {
	t.Parallel()

	p := &mock.Platform{DevicesResult: []audio.DeviceInfo{
		{Index: 0, Name: "Built-in Microphone", MaxInputChannels: 1, DefaultSampleRate: 48000},
		{Index: 1, Name: "Speakers", MaxOutputChannels: 2, DefaultSampleRate: 48000},
		{Index: 2, Name: "USB Headset", MaxInputChannels: 2, DefaultSampleRate: 16000},
	}}
	var buf bytes.Buffer
	if err := ListDevices(&buf, p); err != nil {
		t.Fatal(err)
	}
	got := buf.String()
	if !strings.Contains(got, "[0] Built-in Microphone") || !strings.Contains(got, "[2] USB Headset") {
		t.Errorf("output = %q", got)
	}
	if strings.Contains(got, "Speakers") {
		t.Error("output-only device listed as input")
	}
}

func TestClient_TranscribeFile(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"detail":"Uploaded file is not a valid WAV file."}`))
	}))
	t.Cleanup(srv.Close)

	path := t.TempDir() + "/clip.wav"
	if err := os.WriteFile(path, []byte("junk"), 0o644); err != nil {
		t.Fatal(err)
	}
	out := &lockedBuffer{}
	c, err := New(Options{ServerURL: srv.URL}, &mock.Platform{}, WithOutput(out))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.TranscribeFile(context.Background(), path); err == nil {
		t.Fatal("expected an error")
	}
	if !strings.Contains(out.String(), "File transcription failed ("+path+")") {
		t.Errorf("output = %q", out.String())
	}
}
