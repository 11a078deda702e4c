package resilience

import (
	"context"

	"github.com/MrWong99/kaudio/pkg/provider/llm"
	"github.com/MrWong99/kaudio/pkg/provider/stt"
)

// LLMChain is an [llm.Provider] that fails over between chat backends, for
// example a local llama.cpp server backed by a hosted API.
type LLMChain struct {
	*Failover[llm.Provider]
}

var _ llm.Provider = (*LLMChain)(nil)

// NewLLMChain returns an empty chain; add backends with Add.
func NewLLMChain(breaker CircuitBreakerConfig) *LLMChain {
	return &LLMChain{NewFailover[llm.Provider]("llm", breaker)}
}

func (c *LLMChain) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return Call(ctx, c.Failover, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// STTChain is an [stt.Provider] that fails over between transcription
// models. Close closes all of them.
type STTChain struct {
	*Failover[stt.Provider]
}

var _ stt.Provider = (*STTChain)(nil)

// NewSTTChain returns an empty chain; add models with Add.
func NewSTTChain(breaker CircuitBreakerConfig) *STTChain {
	return &STTChain{NewFailover[stt.Provider]("stt", breaker)}
}

func (c *STTChain) Transcribe(ctx context.Context, samples []float32, opts stt.Options) (*stt.Transcription, error) {
	return Call(ctx, c.Failover, func(p stt.Provider) (*stt.Transcription, error) {
		return p.Transcribe(ctx, samples, opts)
	})
}
