package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/MrWong99/kaudio/pkg/audio"
)

func TestHTTPBase(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "ws://localhost:8000/v1/audio/transcriptions/ws", want: "http://localhost:8000"},
		{in: "wss://asr.example.com/v1/audio/transcriptions/ws?language=en", want: "https://asr.example.com"},
		{in: "http://10.0.0.2:9000", want: "http://10.0.0.2:9000"},
		{in: "ftp://example.com", wantErr: true},
		{in: "ws://", wantErr: true},
	}
	for _, tc := range tests {
		got, err := HTTPBase(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("HTTPBase(%q) expected error", tc.in)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Errorf("HTTPBase(%q) = %q, %v; want %q", tc.in, got, err, tc.want)
		}
	}
}

func TestAPIClient_Chat(t *testing.T) {
	t.Parallel()

	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = io.WriteString(w, `{"choices":[{"message":{"role":"assistant","content":"  Sunny and warm. \n"}}]}`)
	}))
	t.Cleanup(srv.Close)

	reply, err := NewAPIClient(srv.URL, WithChatModel("qwen3")).Chat(context.Background(), "Weather?")
	if err != nil {
		t.Fatalf("Chat() error: %v", err)
	}
	if reply != "Sunny and warm." {
		t.Errorf("reply = %q", reply)
	}
	if got.Model != "qwen3" || got.Temperature != 0.7 || got.MaxTokens != 150 {
		t.Errorf("request = %+v", got)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" || got.Messages[1].Content != "Weather?" {
		t.Errorf("messages = %+v", got.Messages)
	}
}

func TestAPIClient_Errors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/chat/completions":
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = io.WriteString(w, `{"detail":"The LLM service is currently unavailable."}`)
		case "/v1/audio/speech":
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"detail":"Backend TTS service error: voice not found"}`)
		default:
			w.WriteHeader(http.StatusBadGateway)
			_, _ = io.WriteString(w, "upstream down")
		}
	}))
	t.Cleanup(srv.Close)
	api := NewAPIClient(srv.URL)

	_, err := api.Chat(context.Background(), "hi")
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != 503 || se.Detail != "The LLM service is currently unavailable." {
		t.Errorf("Chat() error = %v", err)
	}

	_, err = api.Speech(context.Background(), "hi", "nope")
	if !errors.As(err, &se) || se.StatusCode != 404 {
		t.Errorf("Speech() error = %v", err)
	}

	_, err = api.Summarize(context.Background(), "text")
	if !errors.As(err, &se) || se.StatusCode != 502 || se.Detail != "upstream down" {
		t.Errorf("Summarize() error = %v", err)
	}
}

func TestAPIClient_Speech(t *testing.T) {
	t.Parallel()

	wav := wavBytes(audio.Format{SampleRate: 24000, Channels: 1}, 480)
	var body map[string]any
	var accept string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		accept = r.Header.Get("Accept")
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write(wav)
	}))
	t.Cleanup(srv.Close)

	rc, err := NewAPIClient(srv.URL).Speech(context.Background(), "Hello", "af_heart+am_adam")
	if err != nil {
		t.Fatalf("Speech() error: %v", err)
	}
	got, _ := io.ReadAll(rc)
	if err := rc.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
	if len(got) != len(wav) {
		t.Errorf("read %d bytes, want %d", len(got), len(wav))
	}
	if accept != "audio/wav" {
		t.Errorf("Accept = %q", accept)
	}
	if body["input"] != "Hello" || body["voice"] != "af_heart+am_adam" || body["response_format"] != "wav" || body["model"] != "kokoro" {
		t.Errorf("body = %v", body)
	}
}

func TestAPIClient_SummarizeAndVoices(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/summarizations":
			var req map[string]string
			_ = json.NewDecoder(r.Body).Decode(&req)
			_ = json.NewEncoder(w).Encode(map[string]string{"summary": "Summary of: " + req["text"]})
		case "/v1/audio/voices":
			_, _ = io.WriteString(w, `{"voices":["af_heart","am_adam"]}`)
		}
	}))
	t.Cleanup(srv.Close)
	api := NewAPIClient(srv.URL + "/")

	summary, err := api.Summarize(context.Background(), "a\nb")
	if err != nil || summary != "Summary of: a\nb" {
		t.Errorf("Summarize() = %q, %v", summary, err)
	}
	voices, err := api.Voices(context.Background())
	if err != nil || len(voices) != 2 || voices[0] != "af_heart" {
		t.Errorf("Voices() = %v, %v", voices, err)
	}
}

func TestAPIClient_TranscribeFile(t *testing.T) {
	t.Parallel()

	var fields map[string]string
	var size int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		file, hdr, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		file.Close()
		size = hdr.Size
		fields = map[string]string{
			"language":        r.FormValue("language"),
			"response_format": r.FormValue("response_format"),
			"filename":        hdr.Filename,
		}
		_, _ = io.WriteString(w, `{"text":"Hello from a file."}`)
	}))
	t.Cleanup(srv.Close)

	path := filepath.Join(t.TempDir(), "meeting.wav")
	wav := wavBytes(audio.StreamFormat, 3200)
	if err := os.WriteFile(path, wav, 0o644); err != nil {
		t.Fatal(err)
	}

	text, err := NewAPIClient(srv.URL).TranscribeFile(context.Background(), path, "en")
	if err != nil {
		t.Fatalf("TranscribeFile() error: %v", err)
	}
	if text != "Hello from a file." {
		t.Errorf("text = %q", text)
	}
	if fields["language"] != "en" || fields["response_format"] != "json" || fields["filename"] != "meeting.wav" {
		t.Errorf("fields = %v", fields)
	}
	if size != int64(len(wav)) {
		t.Errorf("uploaded %d bytes, want %d", size, len(wav))
	}

	if _, err := NewAPIClient(srv.URL).TranscribeFile(context.Background(), filepath.Join(t.TempDir(), "missing.wav"), ""); err == nil {
		t.Error("expected an error for a missing file")
	}
}
