// Package mock is an in-memory [llm.Provider] for tests.
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/kaudio/pkg/provider/llm"
)

// Call is one recorded Complete.
type Call struct {
	Ctx context.Context
	Req llm.CompletionRequest
}

// Provider answers every Complete with CompleteResponse and CompleteErr,
// unless Reply is set, and remembers each request.
type Provider struct {
	CompleteResponse *llm.CompletionResponse
	CompleteErr      error

	// Reply, when set, computes the answer from the request.
	Reply func(req llm.CompletionRequest) (*llm.CompletionResponse, error)

	mu    sync.Mutex
	calls []Call
}

var _ llm.Provider = (*Provider)(nil)

func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	p.calls = append(p.calls, Call{Ctx: ctx, Req: req})
	p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.Reply != nil {
		return p.Reply(req)
	}
	return p.CompleteResponse, p.CompleteErr
}

// Calls returns the recorded requests, oldest first.
func (p *Provider) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.calls)
}

func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}
