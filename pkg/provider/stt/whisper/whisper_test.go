package whisper_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/kaudio/pkg/audio"
	"github.com/MrWong99/kaudio/pkg/provider/stt"
	"github.com/MrWong99/kaudio/pkg/provider/stt/whisper"
)

// ---- helpers ----------------------------------------------------------------

// capturedRequest holds the multipart fields of the last /inference call.
type capturedRequest struct {
	mu     sync.Mutex
	fields map[string]string
	file   []byte
}

func (c *capturedRequest) get(key string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fields[key]
}

// newMockServer creates a test server that answers POST /inference with body.
func newMockServer(t *testing.T, status int, body any, captured *capturedRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/inference" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if captured != nil {
			captured.mu.Lock()
			captured.fields = map[string]string{}
			for k, v := range r.MultipartForm.Value {
				captured.fields[k] = v[0]
			}
			if f, _, err := r.FormFile("file"); err == nil {
				captured.file, _ = io.ReadAll(f)
				f.Close()
			}
			captured.mu.Unlock()
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newProvider(t *testing.T, url string, opts ...whisper.Option) *whisper.Provider {
	t.Helper()
	p, err := whisper.New(url, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p
}

// ---- construction -----------------------------------------------------------

func TestNew_EmptyServerURL_ReturnsError(t *testing.T) {
	_, err := whisper.New("")
	if err == nil {
		t.Fatal("expected error for empty serverURL, got nil")
	}
}

// ---- Transcribe -------------------------------------------------------------

func TestTranscribe_VerboseJSON(t *testing.T) {
	body := map[string]any{
		"language":             "de",
		"language_probability": 0.97,
		"duration":             2.5,
		"text":                 " Hallo Welt. Wie geht's?",
		"segments": []map[string]any{
			{"start": 0.0, "end": 1.2, "text": " Hallo Welt.", "avg_logprob": -0.3, "no_speech_prob": 0.01},
			{"start": 1.2, "end": 2.5, "text": " Wie geht's?", "avg_logprob": -1.5, "no_speech_prob": 0.2},
		},
	}
	captured := &capturedRequest{}
	srv := newMockServer(t, http.StatusOK, body, captured)
	p := newProvider(t, srv.URL+"/", whisper.WithModel("small"))

	tr, err := p.Transcribe(context.Background(), make([]float32, 1600), stt.Options{Language: "de", Prompt: "Begrüßung"})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}

	if tr.Language != "de" || tr.LanguageProbability != 0.97 {
		t.Errorf("language = %q (%.2f), want de (0.97)", tr.Language, tr.LanguageProbability)
	}
	if tr.Duration != 2500*time.Millisecond {
		t.Errorf("duration = %v, want 2.5s", tr.Duration)
	}
	if len(tr.Segments) != 2 {
		t.Fatalf("segments = %d, want 2", len(tr.Segments))
	}
	seg := tr.Segments[1]
	if seg.Start != 1200*time.Millisecond || seg.End != 2500*time.Millisecond {
		t.Errorf("segment[1] span = %v..%v, want 1.2s..2.5s", seg.Start, seg.End)
	}
	if seg.AvgLogProb != -1.5 || seg.NoSpeechProb != 0.2 {
		t.Errorf("segment[1] scores = %f/%f, want -1.5/0.2", seg.AvgLogProb, seg.NoSpeechProb)
	}

	for field, want := range map[string]string{
		"response_format": "verbose_json",
		"language":        "de",
		"prompt":          "Begrüßung",
		"model":           "small",
	} {
		if got := captured.get(field); got != want {
			t.Errorf("form field %s = %q, want %q", field, got, want)
		}
	}
	captured.mu.Lock()
	defer captured.mu.Unlock()
	if f, err := audio.ParseWAVHeader(captured.file); err != nil || f != audio.StreamFormat {
		t.Errorf("uploaded file header = %+v, %v; want 16 kHz mono WAV", f, err)
	}
}

func TestTranscribe_TextOnlyResponse(t *testing.T) {
	srv := newMockServer(t, http.StatusOK, map[string]string{"text": " just text "}, nil)
	p := newProvider(t, srv.URL)

	tr, err := p.Transcribe(context.Background(), make([]float32, 16000), stt.Options{})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if len(tr.Segments) != 1 || tr.Text() != "just text" {
		t.Errorf("got %d segments with text %q, want 1 with %q", len(tr.Segments), tr.Text(), "just text")
	}
	if tr.Duration != time.Second {
		t.Errorf("duration = %v, want 1s derived from sample count", tr.Duration)
	}
}

func TestTranscribe_DefaultLanguageUsedWithoutHint(t *testing.T) {
	captured := &capturedRequest{}
	srv := newMockServer(t, http.StatusOK, map[string]any{"segments": []any{}}, captured)
	p := newProvider(t, srv.URL, whisper.WithLanguage("fr"))

	if _, err := p.Transcribe(context.Background(), nil, stt.Options{}); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got := captured.get("language"); got != "fr" {
		t.Errorf("language = %q, want fr", got)
	}
	if got := captured.get("prompt"); got != "" {
		t.Errorf("prompt = %q, want empty", got)
	}
}

func TestTranscribe_ServerError(t *testing.T) {
	srv := newMockServer(t, http.StatusInternalServerError, map[string]string{"error": "model crashed"}, nil)
	p := newProvider(t, srv.URL)

	_, err := p.Transcribe(context.Background(), make([]float32, 10), stt.Options{})
	if err == nil {
		t.Fatal("expected error for HTTP 500")
	}
	if !strings.Contains(err.Error(), "500") {
		t.Errorf("error %q should mention status 500", err)
	}
}

func TestTranscribe_ContextCancelled(t *testing.T) {
	srv := newMockServer(t, http.StatusOK, map[string]string{"text": "x"}, nil)
	p := newProvider(t, srv.URL)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Transcribe(ctx, make([]float32, 10), stt.Options{}); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}
