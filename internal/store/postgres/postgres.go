// Package postgres implements the transcript log on PostgreSQL through a
// shared [pgxpool.Pool].
//
// Usage:
//
//	s, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer s.Close()
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/kaudio/internal/store"
)

const ddlTranscriptEntries = `
CREATE TABLE IF NOT EXISTS transcript_entries (
    id                   BIGSERIAL         PRIMARY KEY,
    session_id           TEXT              NOT NULL,
    seq                  INTEGER           NOT NULL,
    text                 TEXT              NOT NULL,
    start_s              DOUBLE PRECISION  NOT NULL,
    end_s                DOUBLE PRECISION  NOT NULL,
    language             TEXT              NOT NULL DEFAULT '',
    language_probability DOUBLE PRECISION  NOT NULL DEFAULT 0,
    created_at           TIMESTAMPTZ       NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_transcript_entries_session_seq
    ON transcript_entries (session_id, seq);
`

// Store is a PostgreSQL-backed [store.Store]. Safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

// NewStore connects to dsn, pings the server and runs [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Migrate creates the transcript table and its index if they do not exist.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlTranscriptEntries); err != nil {
		return fmt.Errorf("create transcript_entries: %w", err)
	}
	return nil
}

// Append implements [store.Appender].
func (s *Store) Append(ctx context.Context, e store.Entry) error {
	const q = `
		INSERT INTO transcript_entries
		    (session_id, seq, text, start_s, end_s, language, language_probability, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8, now()))`

	var created any
	if !e.CreatedAt.IsZero() {
		created = e.CreatedAt
	}
	_, err := s.pool.Exec(ctx, q,
		e.SessionID, e.Seq, e.Text, e.Start, e.End,
		e.Language, e.LanguageProbability, created,
	)
	if err != nil {
		return fmt.Errorf("postgres store: append: %w", err)
	}
	return nil
}

// List implements [store.Store].
func (s *Store) List(ctx context.Context, sessionID string) ([]store.Entry, error) {
	const q = `
		SELECT session_id, seq, text, start_s, end_s, language, language_probability, created_at
		FROM   transcript_entries
		WHERE  session_id = $1
		ORDER  BY seq, id`

	rows, err := s.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.Entry, error) {
		var e store.Entry
		err := row.Scan(&e.SessionID, &e.Seq, &e.Text, &e.Start, &e.End,
			&e.Language, &e.LanguageProbability, &e.CreatedAt)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan rows: %w", err)
	}
	if entries == nil {
		entries = []store.Entry{}
	}
	return entries, nil
}

// Ping implements [store.Store].
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close implements [store.Store]. It never fails.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
