// Package openai talks to any server that implements the OpenAI chat
// completions contract: OpenAI itself, or a local llama.cpp, vLLM or
// LM Studio instance.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/MrWong99/kaudio/pkg/provider/llm"
)

// localKey is sent to self-hosted servers, which ignore it. The SDK refuses
// to build requests without one.
const localKey = "not-needed"

// Provider is an [llm.Provider] for OpenAI-compatible endpoints.
type Provider struct {
	client oai.Client
	model  string
}

var _ llm.Provider = (*Provider)(nil)

type settings struct {
	apiKey  string
	baseURL string
	extra   []option.RequestOption
}

// Option configures a [Provider].
type Option func(*settings)

// WithAPIKey sets the bearer key.
func WithAPIKey(key string) Option {
	return func(s *settings) { s.apiKey = key }
}

// WithBaseURL points the provider at a self-hosted server, usually
// http://host:port/v1. A base URL without an API key uses a placeholder key.
func WithBaseURL(url string) Option {
	return func(s *settings) { s.baseURL = url }
}

// WithTimeout bounds every request.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.extra = append(s.extra, option.WithHTTPClient(&http.Client{Timeout: d}))
		}
	}
}

// WithMaxRetries sets how often the SDK retries transient failures.
func WithMaxRetries(n int) Option {
	return func(s *settings) { s.extra = append(s.extra, option.WithMaxRetries(n)) }
}

// New returns a provider that uses model unless a request names another.
func New(model string, opts ...Option) (*Provider, error) {
	if model == "" {
		return nil, errors.New("openai: model must not be empty")
	}
	var s settings
	for _, o := range opts {
		o(&s)
	}
	if s.apiKey == "" {
		if s.baseURL == "" {
			return nil, errors.New("openai: an api key is required for the hosted api")
		}
		s.apiKey = localKey
	}

	reqOpts := append([]option.RequestOption{option.WithAPIKey(s.apiKey)}, s.extra...)
	if s.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(s.baseURL))
	}
	return &Provider{client: oai.NewClient(reqOpts...), model: model}, nil
}

// Complete sends one chat completion. HTTP failures come back as
// [*llm.StatusError]; a leading reasoning block is removed from the reply.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	params, err := p.params(req)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *oai.Error
		if errors.As(err, &apiErr) {
			return nil, fmt.Errorf("openai: %w", &llm.StatusError{StatusCode: apiErr.StatusCode, Message: apiErr.Message})
		}
		return nil, fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai: response has no choices")
	}

	c := resp.Choices[0]
	return &llm.CompletionResponse{
		Content:      llm.StripReasoning(c.Message.Content),
		Model:        resp.Model,
		FinishReason: c.FinishReason,
		Usage: llm.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}, nil
}

func (p *Provider) params(req llm.CompletionRequest) (oai.ChatCompletionNewParams, error) {
	if len(req.Messages) == 0 {
		return oai.ChatCompletionNewParams{}, errors.New("openai: request has no messages")
	}
	msgs := make([]oai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		msgs = append(msgs, oai.SystemMessage(req.SystemPrompt))
	}
	for i, m := range req.Messages {
		switch m.Role {
		case llm.RoleSystem:
			msgs = append(msgs, oai.SystemMessage(m.Content))
		case llm.RoleUser:
			msgs = append(msgs, oai.UserMessage(m.Content))
		case llm.RoleAssistant:
			msgs = append(msgs, oai.AssistantMessage(m.Content))
		default:
			return oai.ChatCompletionNewParams{}, fmt.Errorf("openai: messages[%d] has unknown role %q", i, m.Role)
		}
	}

	model := p.model
	if req.Model != "" {
		model = req.Model
	}
	params := oai.ChatCompletionNewParams{Model: shared.ChatModel(model), Messages: msgs}
	if req.Temperature != 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = param.NewOpt(int64(req.MaxTokens))
	}
	return params, nil
}
