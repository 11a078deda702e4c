package resilience

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// ErrExhausted is returned when no backend of a [Failover] produced a result.
var ErrExhausted = errors.New("every backend failed")

type backend[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// Failover is an ordered list of interchangeable backends. Calls go to the
// first backend whose breaker admits them; a failure moves on to the next.
// Backends are added during setup, before concurrent use.
type Failover[T any] struct {
	kind     string
	breaker  CircuitBreakerConfig
	backends []backend[T]
}

// NewFailover returns an empty chain. kind labels log lines and errors, for
// example "llm". Every backend gets its own breaker built from breaker.
func NewFailover[T any](kind string, breaker CircuitBreakerConfig) *Failover[T] {
	return &Failover[T]{kind: kind, breaker: breaker}
}

// Add appends a backend tried after all earlier ones.
func (f *Failover[T]) Add(name string, v T) {
	cfg := f.breaker
	cfg.Name = f.kind + "/" + name
	f.backends = append(f.backends, backend[T]{name: name, value: v, breaker: NewCircuitBreaker(cfg)})
}

// Len reports the number of backends.
func (f *Failover[T]) Len() int { return len(f.backends) }

// Backends returns the backend names in call order.
func (f *Failover[T]) Backends() []string {
	out := make([]string, 0, len(f.backends))
	for _, b := range f.backends {
		out = append(out, b.name)
	}
	return out
}

// BackendState pairs a backend with the state of its breaker.
type BackendState struct {
	Name  string
	State State
}

// States snapshots every breaker.
func (f *Failover[T]) States() []BackendState {
	out := make([]BackendState, len(f.backends))
	for i, b := range f.backends {
		out[i] = BackendState{Name: b.name, State: b.breaker.State()}
	}
	return out
}

// Check fails only when every breaker is open, so it can back a readiness
// probe. It has the shape of a health checker.
func (f *Failover[T]) Check(context.Context) error {
	var open []string
	for _, s := range f.States() {
		if s.State != StateOpen {
			return nil
		}
		open = append(open, s.Name)
	}
	if len(open) == 0 {
		return fmt.Errorf("%s: no backends configured", f.kind)
	}
	return fmt.Errorf("%s: circuit open for %s", f.kind, strings.Join(open, ", "))
}

// Close closes every backend that is an [io.Closer].
func (f *Failover[T]) Close() error {
	var errs []error
	for _, b := range f.backends {
		if c, ok := any(b.value).(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("%s: close %s: %w", f.kind, b.name, err))
			}
		}
	}
	return errors.Join(errs...)
}

// Call runs fn on each backend in turn and returns the first success. A
// done ctx or a cancelled call ends the walk with the context error. When
// nothing succeeds the error matches [ErrExhausted] and every backend error.
func Call[T, R any](ctx context.Context, f *Failover[T], fn func(T) (R, error)) (R, error) {
	var (
		zero R
		errs []error
	)
	for i := range f.backends {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		b := &f.backends[i]
		var out R
		err := b.breaker.Execute(func() error {
			var err error
			out, err = fn(b.value)
			return err
		})
		switch {
		case err == nil:
			if i > 0 {
				slog.Debug("served by fallback backend", "kind", f.kind, "backend", b.name)
			}
			return out, nil
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return zero, err
		case errors.Is(err, ErrCircuitOpen):
			slog.Debug("backend skipped, circuit open", "kind", f.kind, "backend", b.name)
		default:
			slog.Warn("backend failed", "kind", f.kind, "backend", b.name, "err", err)
		}
		errs = append(errs, fmt.Errorf("%s: %w", b.name, err))
	}
	return zero, fmt.Errorf("%s: %w: %w", f.kind, ErrExhausted, errors.Join(errs...))
}
