package client

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
)

// Default dial retry parameters.
const (
	defaultDialRetries = 5
	defaultBackoff     = 1 * time.Second
	defaultMaxBackoff  = 30 * time.Second
)

// DialConfig controls [Dial]. Zero values select the defaults.
type DialConfig struct {
	// MaxRetries is how many attempts are made after the first one fails.
	// Negative disables retries.
	MaxRetries int

	// Backoff is the wait before the first retry. It doubles each attempt up
	// to MaxBackoff.
	Backoff    time.Duration
	MaxBackoff time.Duration

	HTTPClient *http.Client
}

func (c DialConfig) withDefaults() DialConfig {
	if c.MaxRetries == 0 {
		c.MaxRetries = defaultDialRetries
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.Backoff <= 0 {
		c.Backoff = defaultBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = defaultMaxBackoff
	}
	return c
}

// Dial opens the streaming connection, retrying with exponential backoff
// while the server is unreachable.
func Dial(ctx context.Context, url string, cfg DialConfig) (*websocket.Conn, error) {
	cfg = cfg.withDefaults()
	opts := &websocket.DialOptions{HTTPClient: cfg.HTTPClient}
	backoff := cfg.Backoff

	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			slog.Info("retrying connection", "url", url, "attempt", attempt, "max_retries", cfg.MaxRetries, "backoff", backoff)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, cfg.MaxBackoff)
		}

		conn, _, err := websocket.Dial(ctx, url, opts)
		if err == nil {
			conn.SetReadLimit(1 << 20)
			slog.Info("connected", "url", url, "attempt", attempt+1)
			return conn, nil
		}
		lastErr = err
		slog.Warn("connection attempt failed", "url", url, "attempt", attempt+1, "err", err)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("client: connect to %s after %d attempts: %w", url, cfg.MaxRetries+1, lastErr)
}
