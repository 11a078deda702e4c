// Package summarize condenses meeting transcripts with an LLM.
package summarize

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/kaudio/internal/observe"
	"github.com/MrWong99/kaudio/pkg/provider/llm"
)

// ErrEmptyText is returned for blank input.
var ErrEmptyText = errors.New("summarize: text is empty")

// ErrEmptySummary is returned when the model produced no content.
var ErrEmptySummary = errors.New("summarize: model returned no summary")

const systemPrompt = "You are an assistant who is good at summarizing meeting notes."

const userPrompt = "Based on the following meeting transcript, write a concise and clear " +
	"summary that includes the key conclusions and action items:\n\n---\n%s\n---"

// Summarizer produces a summary of a transcript.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

// LLMSummarizer implements [Summarizer] with a chat completion.
type LLMSummarizer struct {
	llm     llm.Provider
	model   string
	metrics *observe.Metrics
}

// New returns a summarizer backed by p. model may be empty to use the
// provider default.
func New(p llm.Provider, model string, m *observe.Metrics) *LLMSummarizer {
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &LLMSummarizer{llm: p, model: model, metrics: m}
}

// Summarize sends text to the model and returns the trimmed answer.
func (s *LLMSummarizer) Summarize(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyText
	}

	start := time.Now()
	resp, err := s.llm.Complete(ctx, llm.CompletionRequest{
		Model:        s.model,
		SystemPrompt: systemPrompt,
		Messages:     []llm.Message{llm.UserMessage(fmt.Sprintf(userPrompt, text))},
		Temperature:  0.7,
	})
	s.metrics.RecordLLM(ctx, "summarize", time.Since(start).Seconds())
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return "", ErrEmptySummary
	}
	observe.Logger(ctx).Info("summary generated", "input_len", len(text), "summary_len", len(resp.Content))
	return strings.TrimSpace(resp.Content), nil
}
