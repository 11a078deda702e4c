// Package store persists the transcript log: every finalized utterance of a
// streaming session, in arrival order.
//
// Backends live in sub-packages:
//
//   - store/memory   in-process, for tests and single-node setups
//   - store/sqlite   modernc.org/sqlite, a single local file
//   - store/postgres pgx connection pool
package store

import (
	"context"
	"time"
)

// Entry is one finalized utterance. Start and End are offsets from the
// beginning of the session's audio stream.
type Entry struct {
	SessionID           string    `json:"session_id"`
	Seq                 int       `json:"seq"`
	Text                string    `json:"text"`
	Start               float64   `json:"start"`
	End                 float64   `json:"end"`
	Language            string    `json:"language"`
	LanguageProbability float64   `json:"language_probability"`
	CreatedAt           time.Time `json:"created_at"`
}

// Appender is the write side used by streaming sessions.
type Appender interface {
	// Append stores e. Seq is assigned by the caller and must increase
	// within a session.
	Append(ctx context.Context, e Entry) error
}

// Store is a transcript log backend. Implementations are safe for concurrent
// use.
type Store interface {
	Appender

	// List returns every entry of sessionID ordered by Seq. An unknown
	// session yields an empty slice.
	List(ctx context.Context, sessionID string) ([]Entry, error)

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the backend's resources.
	Close() error
}
