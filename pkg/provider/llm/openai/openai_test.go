package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrWong99/kaudio/pkg/provider/llm"
)

func TestNew(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		model   string
		opts    []Option
		wantErr bool
	}{
		{name: "hosted with key", model: "gpt-4o-mini", opts: []Option{WithAPIKey("sk-test")}},
		{name: "local without key", model: "qwen3", opts: []Option{WithBaseURL("http://127.0.0.1:8080/v1")}},
		{name: "hosted without key", model: "gpt-4o-mini", wantErr: true},
		{name: "no model", opts: []Option{WithAPIKey("sk-test")}, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := New(tc.model, tc.opts...)
			if (err != nil) != tc.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestParams_Rejects(t *testing.T) {
	t.Parallel()

	p, err := New("qwen3", WithBaseURL("http://127.0.0.1:8080/v1"))
	if err != nil {
		t.Fatal(err)
	}
	for name, req := range map[string]llm.CompletionRequest{
		"no messages":  {},
		"unknown role": {Messages: []llm.Message{{Role: "tool", Content: "{}"}}},
	} {
		if _, err := p.params(req); err == nil {
			t.Errorf("%s: params() succeeded", name)
		}
	}
}

// llamaServer answers chat completions the way llama.cpp does and records
// the decoded request.
func llamaServer(t *testing.T, status int, reply string, got *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got != nil {
			body, _ := io.ReadAll(r.Body)
			if err := json.Unmarshal(body, got); err != nil {
				t.Errorf("decode request: %v", err)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, reply)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestComplete(t *testing.T) {
	t.Parallel()

	var got map[string]any
	srv := llamaServer(t, http.StatusOK, `{
		"id": "c1", "object": "chat.completion", "created": 1, "model": "qwen3-8b",
		"choices": [{"index": 0, "finish_reason": "stop",
			"message": {"role": "assistant", "content": "<think>short answer</think>\nHello there."}}],
		"usage": {"prompt_tokens": 5, "completion_tokens": 3, "total_tokens": 8}
	}`, &got)

	p, err := New("default-model", WithBaseURL(srv.URL+"/v1"), WithMaxRetries(0))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	resp, err := p.Complete(context.Background(), llm.CompletionRequest{
		Model:        "qwen3-8b",
		SystemPrompt: "You are a helpful voice assistant.",
		Messages:     []llm.Message{llm.UserMessage("Hi")},
		Temperature:  0.7,
		MaxTokens:    150,
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "Hello there." || resp.Model != "qwen3-8b" || resp.FinishReason != "stop" || resp.Usage.TotalTokens != 8 {
		t.Errorf("response = %+v", resp)
	}

	if got["model"] != "qwen3-8b" || got["max_tokens"] != float64(150) || got["temperature"] != 0.7 {
		t.Errorf("request = %v", got)
	}
	msgs, _ := got["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("request has %d messages, want system + user", len(msgs))
	}
	if first, _ := msgs[0].(map[string]any); first["role"] != "system" {
		t.Errorf("first message = %v", first)
	}
}

func TestComplete_StatusError(t *testing.T) {
	t.Parallel()

	srv := llamaServer(t, http.StatusServiceUnavailable, `{"error":{"message":"Loading model","type":"unavailable_error","code":"unavailable"}}`, nil)
	p, err := New("qwen3", WithBaseURL(srv.URL+"/v1"), WithMaxRetries(0))
	if err != nil {
		t.Fatal(err)
	}
	_, err = p.Complete(context.Background(), llm.CompletionRequest{Messages: []llm.Message{llm.UserMessage("hi")}})
	if code := llm.StatusCode(err); code != http.StatusServiceUnavailable {
		t.Fatalf("StatusCode(%v) = %d, want 503", err, code)
	}
}
