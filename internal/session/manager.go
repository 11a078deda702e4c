package session

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"
)

// ErrShuttingDown is returned by [Manager.Start] once shutdown has begun.
var ErrShuttingDown = errors.New("session: server is shutting down")

// Info holds metadata about a running session.
type Info struct {
	ID         string    `json:"id"`
	RemoteAddr string    `json:"remote_addr"`
	StartedAt  time.Time `json:"started_at"`
	Language   string    `json:"language,omitempty"`
	Translate  bool      `json:"translate"`
	TargetLang string    `json:"target_lang,omitempty"`
}

type managed struct {
	info   Info
	cancel context.CancelFunc
}

// Manager tracks the running sessions of a server so they can be listed and
// ended together on shutdown. All methods are safe for concurrent use.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*managed
	closed   bool
	wg       sync.WaitGroup
}

// NewManager returns an empty manager.
func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*managed)}
}

// Start registers a session. The returned context is cancelled by
// [Manager.Shutdown]; done must be called when the session has returned.
func (m *Manager) Start(ctx context.Context, info Info) (context.Context, func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, nil, ErrShuttingDown
	}
	if info.StartedAt.IsZero() {
		info.StartedAt = time.Now().UTC()
	}

	sctx, cancel := context.WithCancel(ctx)
	m.sessions[info.ID] = &managed{info: info, cancel: cancel}
	m.wg.Add(1)

	var once sync.Once
	done := func() {
		once.Do(func() {
			cancel()
			m.mu.Lock()
			delete(m.sessions, info.ID)
			m.mu.Unlock()
			m.wg.Done()
		})
	}
	return sctx, done, nil
}

// Active returns the running sessions ordered by start time.
func (m *Manager) Active() []Info {
	m.mu.Lock()
	out := make([]Info, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.info)
	}
	m.mu.Unlock()

	slices.SortFunc(out, func(a, b Info) int { return a.StartedAt.Compare(b.StartedAt) })
	return out
}

// Len returns the number of running sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Shutdown rejects new sessions, cancels the running ones and waits for them
// to finish or for ctx to end.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	n := len(m.sessions)
	for _, s := range m.sessions {
		s.cancel()
	}
	m.mu.Unlock()

	slog.Info("ending streaming sessions", "count", n)

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		slog.Warn("sessions still running at shutdown deadline", "count", m.Len())
		return ctx.Err()
	}
}
