// Package journal persists completed queries to PostgreSQL.
package journal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vango-go/wit-lite/pkg/core"
	"github.com/vango-go/wit-lite/pkg/core/types"
)

// Entry is one completed query.
type Entry struct {
	ID           int64
	Handle       string
	Kind         types.QueryKind
	Backend      string
	Outcome      string
	ErrorType    string
	ErrorMessage string
	Response     string
	Latency      time.Duration
	CreatedAt    time.Time
}

// NewEntry builds an entry from a query result. Outcome is "ok", "empty" or
// "error".
func NewEntry(handle string, kind types.QueryKind, backend string, resp *types.Response, err error, latency time.Duration) Entry {
	e := Entry{
		Handle:    handle,
		Kind:      kind,
		Backend:   backend,
		Latency:   latency,
		CreatedAt: time.Now().UTC(),
	}
	switch {
	case err != nil:
		e.Outcome = "error"
		e.ErrorType = string(core.TypeOf(err))
		e.ErrorMessage = err.Error()
	case resp.IsEmpty():
		e.Outcome = "empty"
	default:
		e.Outcome = "ok"
		e.Response = resp.Raw
	}
	return e
}

// Store writes entries through a pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to databaseURL and verifies the connection.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	if databaseURL == "" {
		return nil, errors.New("journal: database url is empty")
	}
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("journal: parse database url: %w", err)
	}
	cfg.MaxConns = 4

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("journal: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("journal: ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewStore wraps an existing pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Record inserts e.
func (s *Store) Record(ctx context.Context, e Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO wit_queries
			(handle, kind, backend, outcome, error_type, error_message, response, latency_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.Handle, string(e.Kind), e.Backend, e.Outcome, e.ErrorType, e.ErrorMessage,
		e.Response, e.Latency.Milliseconds(), e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("journal: insert query %s: %w", e.Handle, err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, handle, kind, backend, outcome, error_type, error_message, response, latency_ms, created_at
		FROM wit_queries
		ORDER BY created_at DESC, id DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("journal: query recent: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e         Entry
			kind      string
			latencyMS int64
		)
		if err := rows.Scan(&e.ID, &e.Handle, &kind, &e.Backend, &e.Outcome, &e.ErrorType,
			&e.ErrorMessage, &e.Response, &latencyMS, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("journal: scan: %w", err)
		}
		e.Kind = types.QueryKind(kind)
		e.Latency = time.Duration(latencyMS) * time.Millisecond
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal: rows: %w", err)
	}
	return out, nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}
