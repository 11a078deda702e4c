// Package sqlite implements the transcript log on a local SQLite file using
// the pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/MrWong99/kaudio/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS transcript_entries (
    id                   INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id           TEXT    NOT NULL,
    seq                  INTEGER NOT NULL,
    text                 TEXT    NOT NULL,
    start_s              REAL    NOT NULL,
    end_s                REAL    NOT NULL,
    language             TEXT    NOT NULL DEFAULT '',
    language_probability REAL    NOT NULL DEFAULT 0,
    created_at           TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transcript_entries_session
    ON transcript_entries (session_id, seq);
`

// Store is a SQLite-backed [store.Store]. Safe for concurrent use.
type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// Open opens (creating if necessary) the database at dsn and applies the
// schema. dsn is a file path or any DSN the driver accepts, e.g.
// "file::memory:?cache=shared".
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: open: %w", err)
	}

	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite store: %s: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite store: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Append implements [store.Appender].
func (s *Store) Append(ctx context.Context, e store.Entry) error {
	const q = `
		INSERT INTO transcript_entries
		    (session_id, seq, text, start_s, end_s, language, language_probability, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.db.ExecContext(ctx, q,
		e.SessionID, e.Seq, e.Text, e.Start, e.End,
		e.Language, e.LanguageProbability,
		created.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("sqlite store: append: %w", err)
	}
	return nil
}

// List implements [store.Store].
func (s *Store) List(ctx context.Context, sessionID string) ([]store.Entry, error) {
	const q = `
		SELECT session_id, seq, text, start_s, end_s, language, language_probability, created_at
		FROM   transcript_entries
		WHERE  session_id = ?
		ORDER  BY seq, id`

	rows, err := s.db.QueryContext(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: list: %w", err)
	}
	defer rows.Close()

	entries := []store.Entry{}
	for rows.Next() {
		var (
			e       store.Entry
			created string
		)
		if err := rows.Scan(&e.SessionID, &e.Seq, &e.Text, &e.Start, &e.End,
			&e.Language, &e.LanguageProbability, &created); err != nil {
			return nil, fmt.Errorf("sqlite store: scan: %w", err)
		}
		if e.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, fmt.Errorf("sqlite store: parse created_at %q: %w", created, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite store: list: %w", err)
	}
	return entries, nil
}

// Ping implements [store.Store].
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close implements [store.Store].
func (s *Store) Close() error {
	return s.db.Close()
}
