package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/kaudio/internal/observe"
	"github.com/MrWong99/kaudio/internal/protocol"
	"github.com/MrWong99/kaudio/internal/proxy"
	"github.com/MrWong99/kaudio/internal/session"
	"github.com/MrWong99/kaudio/internal/store"
	"github.com/MrWong99/kaudio/internal/store/memory"
	"github.com/MrWong99/kaudio/internal/summarize"
	"github.com/MrWong99/kaudio/internal/transcribe"
	"github.com/MrWong99/kaudio/pkg/audio"
	"github.com/MrWong99/kaudio/pkg/provider/llm"
	llmmock "github.com/MrWong99/kaudio/pkg/provider/llm/mock"
	"github.com/MrWong99/kaudio/pkg/provider/stt"
	sttmock "github.com/MrWong99/kaudio/pkg/provider/stt/mock"
	"github.com/MrWong99/kaudio/pkg/provider/vad"
	vadmock "github.com/MrWong99/kaudio/pkg/provider/vad/mock"
)

// testModel is a loaded-or-not stt mock.
type testModel struct {
	*sttmock.Provider
	loaded atomic.Bool
}

func (m *testModel) Loaded() bool     { return m.loaded.Load() }
func (m *testModel) LoadError() error { return nil }

func newTestModel(loaded bool, tr *stt.Transcription) *testModel {
	m := &testModel{Provider: &sttmock.Provider{Default: tr}}
	m.loaded.Store(loaded)
	return m
}

var helloTranscription = &stt.Transcription{
	Language:            "en",
	LanguageProbability: 0.99,
	Segments: []stt.Segment{
		{Text: " Hello world.", End: 800 * time.Millisecond, AvgLogProb: -0.2, NoSpeechProb: 0.02},
	},
}

// loudVAD classifies frames whose first byte is non-zero as speech.
func loudVAD() *vadmock.Engine {
	return &vadmock.Engine{Session: &vadmock.Session{Classify: func(frame []byte) (vad.Result, error) {
		if frame[0] != 0 {
			return vadmock.SpeechResult, nil
		}
		return vadmock.NonSpeechResult, nil
	}}}
}

func pcmFrames(n int, loud bool) []byte {
	buf := make([]byte, n*audio.FrameBytes)
	if loud {
		for i := 0; i < n; i++ {
			buf[i*audio.FrameBytes] = 1
		}
	}
	return buf
}

func newTestServer(t *testing.T, mutate func(*Deps)) (*httptest.Server, *Deps) {
	t.Helper()
	model := newTestModel(true, helloTranscription)
	d := Deps{
		Model:         model,
		Transcriber:   transcribe.NewWorker(model, 1),
		VAD:           loudVAD(),
		SilenceFrames: 16,
		Metrics:       observe.DefaultMetrics(),
		Sessions:      session.NewManager(),
	}
	if mutate != nil {
		mutate(&d)
	}
	srv := httptest.NewServer(New(d).Handler())
	t.Cleanup(srv.Close)
	return srv, &d
}

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

// readAll collects control messages until the server closes the connection.
func readAll(t *testing.T, ctx context.Context, c *websocket.Conn) ([]protocol.Message, error) {
	t.Helper()
	var out []protocol.Message
	for {
		_, data, err := c.Read(ctx)
		if err != nil {
			return out, err
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			t.Fatalf("Decode %s: %v", data, err)
		}
		out = append(out, msg)
	}
}

func TestRoot(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, nil)
	resp, err := http.Get(srv.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var body map[string]string
	_ = json.NewDecoder(resp.Body).Decode(&body)
	if body["message"] != "Welcome to K.audio API Server!" {
		t.Errorf("body = %v", body)
	}
}

func TestStream_SingleUtterance(t *testing.T) {
	t.Parallel()

	st := memory.New()
	srv, _ := newTestServer(t, func(d *Deps) { d.Store = st })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, wsURL(srv, "/v1/audio/transcriptions/ws?language=en"), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.CloseNow()

	if err := c.Write(ctx, websocket.MessageBinary, pcmFrames(10, true)); err != nil {
		t.Fatal(err)
	}
	if err := c.Write(ctx, websocket.MessageBinary, pcmFrames(16, false)); err != nil {
		t.Fatal(err)
	}
	if err := c.Write(ctx, websocket.MessageText, []byte("STREAM_END")); err != nil {
		t.Fatal(err)
	}

	msgs, err := readAll(t, ctx, c)
	if status := websocket.CloseStatus(err); status != websocket.StatusNormalClosure {
		t.Fatalf("close err = %v, want normal closure", err)
	}
	if len(msgs) != 4 {
		t.Fatalf("got %d messages: %+v", len(msgs), msgs)
	}
	first, ok := msgs[0].(protocol.Info)
	if !ok || !strings.HasPrefix(first.Message, "Session ") {
		t.Fatalf("first message = %+v", msgs[0])
	}
	sessionID := strings.TrimSuffix(strings.TrimPrefix(first.Message, "Session "), " started")

	final, ok := msgs[2].(protocol.Final)
	if !ok {
		t.Fatalf("third message = %+v", msgs[2])
	}
	if final.Text != "Hello world." || final.Start != 0 || final.End != 0.8 {
		t.Errorf("final = %+v", final)
	}
	if final.ConfidenceInfo.TotalSegmentsProcessed != 1 {
		t.Errorf("confidence = %+v", final.ConfidenceInfo)
	}

	resp, err := http.Get(srv.URL + "/v1/transcripts/" + sessionID)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("transcript status = %d", resp.StatusCode)
	}
	var tr transcriptResponse
	_ = json.NewDecoder(resp.Body).Decode(&tr)
	if len(tr.Entries) != 1 || tr.Entries[0].Text != "Hello world." {
		t.Errorf("transcript = %+v", tr)
	}
}

func TestStream_SilenceOnly(t *testing.T) {
	t.Parallel()

	st := memory.New()
	srv, d := newTestServer(t, func(d *Deps) { d.Store = st })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, wsURL(srv, "/v1/audio/transcriptions/ws"), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.CloseNow()

	for range 60 {
		if err := c.Write(ctx, websocket.MessageBinary, pcmFrames(1, false)); err != nil {
			t.Fatal(err)
		}
	}
	if err := c.Write(ctx, websocket.MessageText, []byte("STREAM_END")); err != nil {
		t.Fatal(err)
	}

	msgs, err := readAll(t, ctx, c)
	if status := websocket.CloseStatus(err); status != websocket.StatusNormalClosure {
		t.Fatalf("close err = %v, want normal closure", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want only the session greeting: %+v", len(msgs), msgs)
	}
	info, ok := msgs[0].(protocol.Info)
	if !ok || !strings.HasPrefix(info.Message, "Session ") {
		t.Fatalf("message = %+v", msgs[0])
	}
	if n := d.Model.(*testModel).CallCount(); n != 0 {
		t.Errorf("model called %d times for silence", n)
	}

	sessionID := strings.TrimSuffix(strings.TrimPrefix(info.Message, "Session "), " started")
	resp, err := http.Get(srv.URL + "/v1/transcripts/" + sessionID)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("transcript status = %d, want 404 for a session without finals", resp.StatusCode)
	}
}

func TestStream_ModelNotLoaded(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, func(d *Deps) { d.Model = newTestModel(false, nil) })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, wsURL(srv, "/v1/audio/transcriptions/ws"), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.CloseNow()

	_, _, err = c.Read(ctx)
	var ce websocket.CloseError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want close error", err)
	}
	if ce.Code != websocket.StatusInternalError || ce.Reason != "STT service is not available" {
		t.Errorf("close = %d %q", ce.Code, ce.Reason)
	}
}

func TestStream_InvalidOptions(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, wsURL(srv, "/v1/audio/transcriptions/ws?translate=true"), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.CloseNow()

	_, _, err = c.Read(ctx)
	var ce websocket.CloseError
	if !errors.As(err, &ce) || ce.Code != websocket.StatusPolicyViolation {
		t.Fatalf("err = %v, want policy violation", err)
	}
	if !strings.Contains(ce.Reason, "target_lang") {
		t.Errorf("reason = %q", ce.Reason)
	}
}

func TestStream_ShutdownEndsSessions(t *testing.T) {
	t.Parallel()

	srv, d := newTestServer(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, wsURL(srv, "/v1/audio/transcriptions/ws"), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.CloseNow()

	// Wait for the greeting so the session is registered.
	if _, _, err := c.Read(ctx); err != nil {
		t.Fatal(err)
	}
	if n := d.Sessions.Len(); n != 1 {
		t.Fatalf("active sessions = %d, want 1", n)
	}

	if err := d.Sessions.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if _, err := readAll(t, ctx, c); err == nil {
		t.Fatal("connection still open after shutdown")
	}
}

func wavUpload(t *testing.T, fields map[string]string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "clip.wav")
	if err != nil {
		t.Fatal(err)
	}
	_, _ = fw.Write(data)
	for k, v := range fields {
		_ = mw.WriteField(k, v)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &body, mw.FormDataContentType()
}

func TestFileTranscription(t *testing.T) {
	t.Parallel()

	wav := audio.EncodeWAV(make([]byte, audio.SampleRate*2), audio.StreamFormat)
	tests := []struct {
		name       string
		loaded     bool
		fields     map[string]string
		data       []byte
		wantStatus int
		wantType   string
		wantBody   string
	}{
		{name: "json", loaded: true, data: wav, wantStatus: 200, wantType: "application/json", wantBody: `{"text":"Hello world."}`},
		{name: "text", loaded: true, fields: map[string]string{"response_format": "text"}, data: wav, wantStatus: 200, wantType: "text/plain", wantBody: "Hello world."},
		{name: "vtt", loaded: true, fields: map[string]string{"response_format": "vtt"}, data: wav, wantStatus: 200, wantType: "text/vtt", wantBody: "WEBVTT"},
		{name: "bad format", loaded: true, fields: map[string]string{"response_format": "docx"}, data: wav, wantStatus: 400},
		{name: "not wav", loaded: true, data: []byte("ID3 mp3 bytes"), wantStatus: 400},
		{name: "not loaded", data: wav, wantStatus: 503},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv, _ := newTestServer(t, func(d *Deps) { d.Model = newTestModel(tc.loaded, helloTranscription) })

			body, ct := wavUpload(t, tc.fields, tc.data)
			resp, err := http.Post(srv.URL+"/v1/audio/transcriptions", ct, body)
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			got, _ := io.ReadAll(resp.Body)
			if resp.StatusCode != tc.wantStatus {
				t.Fatalf("status = %d (%s), want %d", resp.StatusCode, got, tc.wantStatus)
			}
			if tc.wantType != "" && !strings.HasPrefix(resp.Header.Get("Content-Type"), tc.wantType) {
				t.Errorf("content type = %q", resp.Header.Get("Content-Type"))
			}
			if !strings.Contains(string(got), tc.wantBody) {
				t.Errorf("body = %q, want %q", got, tc.wantBody)
			}
		})
	}
}

func postJSON(t *testing.T, url string, v any) (*http.Response, []byte) {
	t.Helper()
	data, _ := json.Marshal(v)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp, body
}

func TestSummarize(t *testing.T) {
	t.Parallel()

	ok := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "Decisions: ship."}}
	failing := &llmmock.Provider{CompleteErr: errors.New("down")}

	tests := []struct {
		name       string
		p          *llmmock.Provider
		text       string
		wantStatus int
		wantBody   string
	}{
		{name: "ok", p: ok, text: "we ship on friday", wantStatus: 200, wantBody: `"summary":"Decisions: ship."`},
		{name: "empty", p: ok, text: "", wantStatus: 400},
		{name: "llm failure", p: failing, text: "x", wantStatus: 503},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv, _ := newTestServer(t, func(d *Deps) { d.Summarizer = summarize.New(tc.p, "", nil) })
			resp, body := postJSON(t, srv.URL+"/v1/summarizations", map[string]string{"text": tc.text})
			if resp.StatusCode != tc.wantStatus {
				t.Fatalf("status = %d (%s)", resp.StatusCode, body)
			}
			if !strings.Contains(string(body), tc.wantBody) {
				t.Errorf("body = %s", body)
			}
		})
	}
}

func TestChat(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{
		Content: "Hi!",
		Usage:   llm.Usage{PromptTokens: 3, CompletionTokens: 1, TotalTokens: 4},
	}}
	srv, _ := newTestServer(t, func(d *Deps) {
		d.LLM = p
		d.ChatModel = "default-model"
	})

	resp, body := postJSON(t, srv.URL+"/v1/chat/completions", map[string]any{
		"messages":   []map[string]string{{"role": "user", "content": "hello"}},
		"max_tokens": 150,
	})
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d (%s)", resp.StatusCode, body)
	}
	var cr chatResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		t.Fatal(err)
	}
	if cr.Object != "chat.completion" || cr.Model != "default-model" || len(cr.Choices) != 1 {
		t.Fatalf("response = %+v", cr)
	}
	if cr.Choices[0].Message.Content != "Hi!" || cr.Choices[0].Message.Role != "assistant" {
		t.Errorf("choice = %+v", cr.Choices[0])
	}
	if cr.Usage.TotalTokens != 4 {
		t.Errorf("usage = %+v", cr.Usage)
	}

	req := p.Calls()[0].Req
	if req.Model != "default-model" || req.Temperature != 0.7 || req.MaxTokens != 150 {
		t.Errorf("forwarded = %+v", req)
	}

	resp, _ = postJSON(t, srv.URL+"/v1/chat/completions", map[string]any{
		"messages":    []map[string]string{{"role": "user", "content": "x"}},
		"temperature": 3,
	})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("bad temperature status = %d", resp.StatusCode)
	}
}

func TestChat_Unavailable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantBody   string
	}{
		{name: "unreachable", err: errors.New("all backends failed"), wantStatus: http.StatusServiceUnavailable, wantBody: "unavailable"},
		{
			name:       "backend status",
			err:        fmt.Errorf("openai: %w", &llm.StatusError{StatusCode: 429, Message: "slow down"}),
			wantStatus: http.StatusBadGateway,
			wantBody:   "status 429",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv, _ := newTestServer(t, func(d *Deps) { d.LLM = &llmmock.Provider{CompleteErr: tc.err} })
			resp, body := postJSON(t, srv.URL+"/v1/chat/completions", map[string]any{
				"messages": []map[string]string{{"role": "user", "content": "x"}},
			})
			if resp.StatusCode != tc.wantStatus || !strings.Contains(string(body), tc.wantBody) {
				t.Errorf("status = %d body = %s, want %d containing %q", resp.StatusCode, body, tc.wantStatus, tc.wantBody)
			}
		})
	}
}

func TestSpeechRelay(t *testing.T) {
	t.Parallel()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/audio/speech":
			var req proxy.SpeechRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			switch req.Input {
			case "stream":
				w.Header().Set("Content-Type", "audio/wav")
				_, _ = w.Write([]byte("RIFF"))
				w.(http.Flusher).Flush()
				_, _ = w.Write([]byte("tail"))
			case "empty":
				w.Header().Set("Content-Type", "audio/wav")
			case "fail":
				http.Error(w, "voice not found", http.StatusNotFound)
			case "crash":
				http.Error(w, "synthesis crashed", http.StatusInternalServerError)
			default:
				w.Header().Set("Content-Type", "audio/wav")
				_, _ = w.Write([]byte("RIFFbuffered"))
			}
		case "/v1/audio/voices":
			_, _ = w.Write([]byte(`{"voices":["af_sky","am_adam"]}`))
		}
	}))
	t.Cleanup(upstream.Close)

	tts, err := proxy.New(upstream.URL)
	if err != nil {
		t.Fatal(err)
	}
	srv, _ := newTestServer(t, func(d *Deps) { d.TTS = tts })

	tests := []struct {
		name       string
		req        map[string]any
		wantStatus int
		wantBody   string
	}{
		{name: "buffered", req: map[string]any{"input": "hi", "voice": "af_sky"}, wantStatus: 200, wantBody: "RIFFbuffered"},
		{name: "streamed", req: map[string]any{"input": "stream", "voice": "af_sky"}, wantStatus: 200, wantBody: "RIFFtail"},
		{name: "empty", req: map[string]any{"input": "empty", "voice": "af_sky"}, wantStatus: 204},
		{name: "upstream error", req: map[string]any{"input": "fail", "voice": "x"}, wantStatus: 404, wantBody: "Backend TTS service error: voice not found"},
		{name: "upstream crash", req: map[string]any{"input": "crash", "voice": "x"}, wantStatus: 500, wantBody: "Backend TTS service error: synthesis crashed"},
		{name: "invalid speed", req: map[string]any{"input": "hi", "voice": "v", "speed": 9}, wantStatus: 422},
		{name: "missing input", req: map[string]any{"voice": "v"}, wantStatus: 422},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			resp, body := postJSON(t, srv.URL+"/v1/audio/speech", tc.req)
			if resp.StatusCode != tc.wantStatus {
				t.Fatalf("status = %d (%s), want %d", resp.StatusCode, body, tc.wantStatus)
			}
			if !strings.Contains(string(body), tc.wantBody) {
				t.Errorf("body = %q, want %q", body, tc.wantBody)
			}
		})
	}

	resp, err := http.Get(srv.URL + "/v1/audio/voices")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var vr voicesResponse
	_ = json.NewDecoder(resp.Body).Decode(&vr)
	if strings.Join(vr.Voices, ",") != "af_sky,am_adam" {
		t.Errorf("voices = %v", vr.Voices)
	}
}

func TestSpeech_NotConfigured(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, nil)
	resp, _ := postJSON(t, srv.URL+"/v1/audio/speech", map[string]any{"input": "hi", "voice": "v"})
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}

func TestTranscripts(t *testing.T) {
	t.Parallel()

	st := memory.New()
	_ = st.Append(context.Background(), store.Entry{SessionID: "abc", Seq: 1, Text: "one"})
	srv, _ := newTestServer(t, func(d *Deps) { d.Store = st })

	resp, err := http.Get(srv.URL + "/v1/transcripts/abc")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Errorf("known session status = %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/v1/transcripts/nope")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != 404 {
		t.Errorf("unknown session status = %d", resp.StatusCode)
	}
}

func TestHealthRoutes(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, func(d *Deps) { d.Model = newTestModel(false, nil) })
	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}
