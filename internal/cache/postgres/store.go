// Package postgres provides a cache backed by a Postgres table.
package postgres

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/wpchain/internal/cache"
)

const defaultTable = "book_cache"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for cached books.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// Store keeps each book as a bytea row keyed by its first URL.
type Store struct {
	pool  pool
	table string
}

// New connects to Postgres and ensures the cache table exists.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("cache.postgres_dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := &Store{pool: p, table: table}
	if err := s.EnsureSchema(ctx); err != nil {
		p.Close()
		return nil, err
	}
	return s, nil
}

// NewStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewStoreWithPool(p pool, table string) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &Store{pool: p, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the cache table when it is missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	cache_key    TEXT PRIMARY KEY,
	content_type TEXT NOT NULL,
	body         BYTEA NOT NULL,
	stored_at    TIMESTAMPTZ NOT NULL DEFAULT now()
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create cache table: %w", err)
	}
	return nil
}

// Create buffers a book for key; the row is written on Close.
func (s *Store) Create(ctx context.Context, key string) (cache.Sink, error) {
	return &sink{ctx: ctx, store: s, key: key}, nil
}

// Open loads the row for key.
func (s *Store) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	query := fmt.Sprintf(`SELECT body FROM %s WHERE cache_key = $1`, s.table)
	var body []byte
	if err := s.pool.QueryRow(ctx, query, key).Scan(&body); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, cache.ErrNotFound
		}
		return nil, fmt.Errorf("select cached book: %w", err)
	}
	return io.NopCloser(bytes.NewReader(body)), nil
}

// Expire deletes the row for key.
func (s *Store) Expire(ctx context.Context, key string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE cache_key = $1`, s.table)
	if _, err := s.pool.Exec(ctx, query, key); err != nil {
		return fmt.Errorf("delete cached book: %w", err)
	}
	return nil
}

func (s *Store) upsert(ctx context.Context, key string, body []byte) error {
	query := fmt.Sprintf(`
INSERT INTO %s (cache_key, content_type, body)
VALUES ($1, $2, $3)
ON CONFLICT (cache_key) DO UPDATE
SET content_type = EXCLUDED.content_type, body = EXCLUDED.body, stored_at = now()`, s.table)
	if _, err := s.pool.Exec(ctx, query, key, cache.ContentType, body); err != nil {
		return fmt.Errorf("upsert cached book: %w", err)
	}
	return nil
}

type sink struct {
	ctx   context.Context
	store *Store
	key   string
	buf   bytes.Buffer
	done  bool
}

func (w *sink) Write(p []byte) (int, error) {
	return w.buf.Write(p)
}

func (w *sink) Close() error {
	if w.done {
		return nil
	}
	w.done = true
	return w.store.upsert(w.ctx, w.key, w.buf.Bytes())
}

func (w *sink) Abort() error {
	w.done = true
	w.buf.Reset()
	return nil
}
