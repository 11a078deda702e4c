// Package llm defines the Provider interface for Large Language Model backends.
//
// An LLM provider wraps an OpenAI-compatible endpoint (a local llama.cpp or
// vLLM server, OpenAI itself) or any backend reachable through any-llm-go and
// exposes a single request/response completion call. The server uses it for
// meeting summaries, the chat-completion relay, and transcript translation.
//
// Implementations must be safe for concurrent use from multiple goroutines and
// must return promptly when ctx is cancelled.
package llm

import "context"

// CompletionRequest carries everything the LLM needs to produce a response.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// Model overrides the provider's configured model for this request.
	// Empty means use the provider default.
	Model string

	// Messages is the ordered conversation history.
	Messages []Message

	// Temperature controls output randomness in the range [0.0, 2.0]. Zero
	// leaves the backend default in place.
	Temperature float64

	// MaxTokens caps the number of completion tokens. Zero means backend default.
	MaxTokens int

	// SystemPrompt is prepended as a "system"-role message when non-empty.
	SystemPrompt string
}

// CompletionResponse is returned by Complete.
type CompletionResponse struct {
	// Content is the full text of the assistant's reply.
	Content string

	// Model is the model that actually served the request, when reported.
	Model string

	// FinishReason is why generation stopped ("stop", "length", ...).
	FinishReason string

	// Usage contains token accounting for this request/response pair.
	Usage Usage
}

// Usage holds token accounting information returned by the LLM backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
