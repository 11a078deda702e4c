package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/kaudio/internal/observe"
	"github.com/MrWong99/kaudio/internal/summarize"
	"github.com/MrWong99/kaudio/pkg/provider/llm"
)

// maxJSONBytes bounds JSON request bodies.
const maxJSONBytes = 4 << 20

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBytes))
	if err := dec.Decode(v); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "Invalid request body: "+err.Error())
		return false
	}
	return true
}

type summarizeRequest struct {
	Text string `json:"text"`
}

type summarizeResponse struct {
	Summary string `json:"summary"`
}

func (s *Server) handleSummarize(w http.ResponseWriter, r *http.Request) {
	var req summarizeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeDetail(w, http.StatusBadRequest, "text must not be empty")
		return
	}
	if s.d.Summarizer == nil {
		writeDetail(w, http.StatusServiceUnavailable, "Summarization is not configured on this server.")
		return
	}

	log := observe.Logger(r.Context())
	log.Info("summarization requested", "text_len", len(req.Text))
	summary, err := s.d.Summarizer.Summarize(r.Context(), req.Text)
	if err != nil {
		if errors.Is(err, summarize.ErrEmptyText) {
			writeDetail(w, http.StatusBadRequest, "text must not be empty")
			return
		}
		log.Error("summarization failed", "err", err)
		writeDetail(w, http.StatusServiceUnavailable, "Failed to generate summary due to an internal error with the LLM service.")
		return
	}
	writeJSON(w, http.StatusOK, summarizeResponse{Summary: summary})
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []llm.Message `json:"messages"`
	Temperature *float64      `json:"temperature"`
	MaxTokens   *int          `json:"max_tokens"`
}

func (c *chatRequest) validate() error {
	var errs []error
	if len(c.Messages) == 0 {
		errs = append(errs, errors.New("messages must not be empty"))
	}
	for i, m := range c.Messages {
		switch m.Role {
		case llm.RoleSystem, llm.RoleUser, llm.RoleAssistant:
		default:
			errs = append(errs, fmt.Errorf("messages[%d]: unknown role %q", i, m.Role))
		}
	}
	if c.Temperature != nil && (*c.Temperature < 0 || *c.Temperature > 2) {
		errs = append(errs, errors.New("temperature must be between 0 and 2"))
	}
	if c.MaxTokens != nil && *c.MaxTokens <= 0 {
		errs = append(errs, errors.New("max_tokens must be positive"))
	}
	return errors.Join(errs...)
}

type chatChoice struct {
	Index        int         `json:"index"`
	Message      llm.Message `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
}

// handleChat forwards an OpenAI-style chat completion to the configured LLM
// and answers in the same shape.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := req.validate(); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if s.d.LLM == nil {
		writeDetail(w, http.StatusServiceUnavailable, "The LLM service is not configured on this server.")
		return
	}

	creq := llm.CompletionRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		Temperature: 0.7,
	}
	if creq.Model == "" {
		creq.Model = s.d.ChatModel
	}
	if req.Temperature != nil {
		creq.Temperature = *req.Temperature
	}
	if req.MaxTokens != nil {
		creq.MaxTokens = *req.MaxTokens
	}

	log := observe.Logger(r.Context())
	log.Info("chat completion requested", "model", creq.Model, "messages", len(creq.Messages))

	start := time.Now()
	resp, err := s.d.LLM.Complete(r.Context(), creq)
	s.d.Metrics.RecordLLM(r.Context(), "chat", time.Since(start).Seconds())
	if err != nil || resp == nil {
		log.Error("chat completion failed", "err", err)
		if code := llm.StatusCode(err); code != 0 {
			writeDetail(w, http.StatusBadGateway, fmt.Sprintf("The LLM backend returned status %d.", code))
			return
		}
		writeDetail(w, http.StatusServiceUnavailable, "The LLM service is currently unavailable.")
		return
	}

	model := resp.Model
	if model == "" {
		model = creq.Model
	}
	finish := resp.FinishReason
	if finish == "" {
		finish = "stop"
	}
	writeJSON(w, http.StatusOK, chatResponse{
		ID:      "chatcmpl-" + uuid.NewString(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []chatChoice{{
			Message:      llm.Message{Role: llm.RoleAssistant, Content: resp.Content},
			FinishReason: finish,
		}},
		Usage: chatUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	})
}
