// Package translate translates finalized transcripts with an LLM.
package translate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/kaudio/internal/observe"
	"github.com/MrWong99/kaudio/pkg/provider/llm"
)

// ErrEmptyTranslation is returned when the model answered with no text.
var ErrEmptyTranslation = errors.New("translate: empty translation")

// Translator turns text in one language into another.
type Translator interface {
	Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error)
}

const systemPrompt = "You are a professional translator. Translate the user's text " +
	"from %s to %s. Reply with the translation only, without quotes, notes or explanations."

// LLMTranslator implements [Translator] on top of an [llm.Provider].
type LLMTranslator struct {
	llm         llm.Provider
	metrics     *observe.Metrics
	temperature float64
}

// Option configures an [LLMTranslator].
type Option func(*LLMTranslator)

// WithMetrics records latency to m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(t *LLMTranslator) { t.metrics = m }
}

// WithTemperature overrides the sampling temperature (default 0.3).
func WithTemperature(temp float64) Option {
	return func(t *LLMTranslator) { t.temperature = temp }
}

// New returns a translator backed by p.
func New(p llm.Provider, opts ...Option) *LLMTranslator {
	t := &LLMTranslator{llm: p, temperature: 0.3}
	for _, o := range opts {
		o(t)
	}
	if t.metrics == nil {
		t.metrics = observe.DefaultMetrics()
	}
	return t
}

// Translate asks the model for a translation of text. Surrounding whitespace
// is trimmed from the answer.
func (t *LLMTranslator) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyTranslation
	}
	if sourceLang == "" || targetLang == "" {
		return "", fmt.Errorf("translate: source and target language are required")
	}

	start := time.Now()
	resp, err := t.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: fmt.Sprintf(systemPrompt, sourceLang, targetLang),
		Messages:     []llm.Message{llm.UserMessage(text)},
		Temperature:  t.temperature,
	})
	t.metrics.RecordLLM(ctx, "translate", time.Since(start).Seconds())
	if err != nil {
		return "", fmt.Errorf("translate: %s->%s: %w", sourceLang, targetLang, err)
	}
	if resp == nil {
		return "", ErrEmptyTranslation
	}
	out := strings.TrimSpace(resp.Content)
	if out == "" {
		return "", ErrEmptyTranslation
	}
	return out, nil
}
