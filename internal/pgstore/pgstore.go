// Package pgstore implements the memory store over PostgreSQL with a
// pgvector similarity index, plus the durable embedding job queue that
// rides in the same database so enqueue can share the insert transaction.
package pgstore

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/recallhq/recall/internal/memory"
)

// Options configures the store. Zero values fall back to defaults.
type Options struct {
	// URL is the PostgreSQL connection string.
	URL string
	// PoolSize is the number of connections kept open.
	PoolSize int
	// MaxOverflow is the number of burst connections allowed beyond
	// PoolSize.
	MaxOverflow int
	// AcquireTimeout bounds how long an operation waits for a connection
	// before failing with memory.ErrUnavailable.
	AcquireTimeout time.Duration
	// EmbeddingDim is the fixed dimensionality of the vector column.
	EmbeddingDim int
	// MaxAttempts is the retry budget recorded on each enqueued
	// embedding job.
	MaxAttempts int
}

func (o *Options) defaults() {
	if o.PoolSize <= 0 {
		o.PoolSize = 5
	}
	if o.MaxOverflow < 0 {
		o.MaxOverflow = 0
	}
	if o.AcquireTimeout <= 0 {
		o.AcquireTimeout = 5 * time.Second
	}
	if o.EmbeddingDim <= 0 {
		o.EmbeddingDim = 768
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
}

// Store is the PostgreSQL-backed memory store.
type Store struct {
	pool *pgxpool.Pool
	opts Options
}

var _ memory.Store = (*Store)(nil)

// Open connects, registers the pgvector codec on every connection, and
// applies the schema. The schema is idempotent; concurrent opens are safe.
func Open(ctx context.Context, opts Options) (*Store, error) {
	opts.defaults()

	cfg, err := pgxpool.ParseConfig(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}
	cfg.MinConns = int32(opts.PoolSize)
	cfg.MaxConns = int32(opts.PoolSize + opts.MaxOverflow)
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating pool: %w", err)
	}

	s := &Store{pool: pool, opts: opts}
	if err := s.applySchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return s, nil
}

func (s *Store) applySchema(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS memories (
			id TEXT PRIMARY KEY,
			scope TEXT NOT NULL CHECK (scope IN ('daily', 'longterm')),
			key TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			embedding vector(%d),
			embedding_status TEXT NOT NULL DEFAULT 'pending'
				CHECK (embedding_status IN ('pending', 'ready', 'failed')),
			deleted_at TIMESTAMPTZ,
			UNIQUE (scope, key)
		)`, s.opts.EmbeddingDim),
		`CREATE INDEX IF NOT EXISTS memories_scope_created_idx
			ON memories (scope, created_at, id)`,
		`CREATE INDEX IF NOT EXISTS memories_embedding_idx
			ON memories USING hnsw (embedding vector_cosine_ops)`,
		`CREATE TABLE IF NOT EXISTS embedding_jobs (
			id BIGSERIAL PRIMARY KEY,
			memory_id TEXT NOT NULL REFERENCES memories (id),
			status TEXT NOT NULL DEFAULT 'pending'
				CHECK (status IN ('pending', 'leased', 'done', 'dead')),
			attempts INT NOT NULL DEFAULT 0,
			max_attempts INT NOT NULL,
			run_after TIMESTAMPTZ NOT NULL DEFAULT now(),
			leased_until TIMESTAMPTZ,
			last_error TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS embedding_jobs_claim_idx
			ON embedding_jobs (status, run_after)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("executing %.40q: %w", stmt, err)
		}
	}
	return nil
}

func (s *Store) Capabilities() memory.Capabilities {
	return memory.Capabilities{SimilaritySearch: true, Embeddings: true}
}

// Close drains and closes the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Ping verifies connectivity within the acquire timeout.
func (s *Store) Ping(ctx context.Context) error {
	conn, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()
	if err := conn.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", memory.ErrUnavailable, err)
	}
	return nil
}

// acquire checks a connection out of the pool, waiting at most the
// configured acquire timeout. Exhaustion surfaces as ErrUnavailable so
// callers retry instead of blocking indefinitely.
func (s *Store) acquire(ctx context.Context) (*pgxpool.Conn, error) {
	actx, cancel := context.WithTimeout(ctx, s.opts.AcquireTimeout)
	defer cancel()

	conn, err := s.pool.Acquire(actx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if actx.Err() != nil {
			return nil, fmt.Errorf("%w: pool acquire timed out after %s",
				memory.ErrUnavailable, s.opts.AcquireTimeout)
		}
		return nil, fmt.Errorf("%w: %v", memory.ErrUnavailable, err)
	}
	return conn, nil
}
