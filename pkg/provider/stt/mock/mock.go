// Package mock provides test doubles for the stt package interfaces.
//
// Provider returns scripted transcriptions and records every call so that
// tests can assert on the samples and options that reached the model.
//
// Example:
//
//	p := &mock.Provider{
//	    Results: []*stt.Transcription{{Segments: []stt.Segment{{Text: "hello"}}}},
//	}
//	tr, _ := p.Transcribe(ctx, samples, stt.Options{})
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/kaudio/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Provider.Transcribe.
type TranscribeCall struct {
	Samples int
	Opts    stt.Options
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Results are returned in order. After the list is exhausted Default is
	// returned. A nil Default yields an empty transcription.
	Results []*stt.Transcription
	Default *stt.Transcription

	// Err, if non-nil, is returned by every Transcribe call.
	Err error

	// Delay makes Transcribe block for the given duration (or until ctx is done).
	Delay time.Duration

	// Calls records every call to Transcribe.
	Calls []TranscribeCall

	// CloseCount is the number of times Close was called.
	CloseCount int
}

var _ stt.Provider = (*Provider)(nil)

// Transcribe records the call and returns the next scripted result.
func (p *Provider) Transcribe(ctx context.Context, samples []float32, opts stt.Options) (*stt.Transcription, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, TranscribeCall{Samples: len(samples), Opts: opts})
	delay := p.Delay
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return nil, p.Err
	}
	if len(p.Results) > 0 {
		r := p.Results[0]
		p.Results = p.Results[1:]
		return r, nil
	}
	if p.Default != nil {
		return p.Default, nil
	}
	return &stt.Transcription{}, nil
}

// Close records the call.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CloseCount++
	return nil
}

// CallCount returns the number of Transcribe calls so far.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// LastCall returns the most recent call, or the zero value.
func (p *Provider) LastCall() TranscribeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Calls) == 0 {
		return TranscribeCall{}
	}
	return p.Calls[len(p.Calls)-1]
}
