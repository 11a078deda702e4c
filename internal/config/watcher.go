package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultReloadInterval is how often a [Reloader] checks its file.
const DefaultReloadInterval = 5 * time.Second

// ApplyFunc receives the difference between the running and the new
// configuration. It is only called when something changed.
type ApplyFunc func(d ConfigDiff, next *Config)

// Reloader watches the server's config file. Each time the file content
// changes and still validates, the diff against the running config is
// handed to the apply function. Broken edits are logged and the running
// config is kept.
type Reloader struct {
	path     string
	interval time.Duration
	apply    ApplyFunc

	mu      sync.Mutex
	current *Config
	digest  [sha256.Size]byte
}

// ReloaderOption configures a [Reloader].
type ReloaderOption func(*Reloader)

// WithInterval sets the polling interval.
func WithInterval(d time.Duration) ReloaderOption {
	return func(r *Reloader) {
		if d > 0 {
			r.interval = d
		}
	}
}

// NewReloader reads path once and returns a reloader seeded with it. Call
// [Reloader.Run] to start polling.
func NewReloader(path string, apply ApplyFunc, opts ...ReloaderOption) (*Reloader, error) {
	r := &Reloader{path: path, interval: DefaultReloadInterval, apply: apply}
	for _, o := range opts {
		o(r)
	}
	cfg, digest, err := r.read()
	if err != nil {
		return nil, fmt.Errorf("config: reloader: %w", err)
	}
	r.current, r.digest = cfg, digest
	return r, nil
}

// Current returns the config that is in force.
func (r *Reloader) Current() *Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Run polls until ctx is done.
func (r *Reloader) Run(ctx context.Context) {
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := r.Reload(); err != nil {
				slog.Warn("config reload rejected, keeping running config", "path", r.path, "err", err)
			}
		}
	}
}

// Reload re-reads the file now. It reports whether a change was applied;
// identical content and edits that only touch unchanged values are no-ops.
func (r *Reloader) Reload() (bool, error) {
	next, digest, err := r.read()
	if err != nil {
		return false, err
	}

	r.mu.Lock()
	if digest == r.digest {
		r.mu.Unlock()
		return false, nil
	}
	prev := r.current
	r.current, r.digest = next, digest
	r.mu.Unlock()

	d := Diff(prev, next)
	if !d.LogLevelChanged && !d.FilterChanged && len(d.RestartRequired) == 0 {
		slog.Debug("config file changed without effective changes", "path", r.path)
		return false, nil
	}
	slog.Info("configuration reloaded",
		"path", r.path,
		"log_level_changed", d.LogLevelChanged,
		"filter_changed", d.FilterChanged,
		"restart_required", d.RestartRequired,
	)
	if r.apply != nil {
		r.apply(d, next)
	}
	return true, nil
}

func (r *Reloader) read() (*Config, [sha256.Size]byte, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return nil, [sha256.Size]byte{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, [sha256.Size]byte{}, err
	}
	return cfg, sha256.Sum256(data), nil
}
