// Package backend selects and constructs the concrete memory store at
// startup. Callers hold only the memory.Store interface after this point.
package backend

import (
	"context"
	"fmt"

	"github.com/recallhq/recall/internal/config"
	"github.com/recallhq/recall/internal/filestore"
	"github.com/recallhq/recall/internal/memory"
	"github.com/recallhq/recall/internal/pgstore"
)

// Open builds the store named by cfg.Backend.
func Open(ctx context.Context, cfg config.Config) (memory.Store, error) {
	switch cfg.Backend {
	case "file":
		return filestore.Open(cfg.File.Dir)
	case "postgres":
		return OpenPostgres(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

// OpenPostgres builds the relational store directly. Migration and the
// queue worker need the concrete type for the job-queue methods.
func OpenPostgres(ctx context.Context, cfg config.Config) (*pgstore.Store, error) {
	return pgstore.Open(ctx, pgstore.Options{
		URL:            cfg.Postgres.URL,
		PoolSize:       cfg.Postgres.PoolSize,
		MaxOverflow:    cfg.Postgres.MaxOverflow,
		AcquireTimeout: cfg.Postgres.AcquireTimeout,
		EmbeddingDim:   cfg.Embedding.Dimensions,
		MaxAttempts:    cfg.Queue.MaxAttempts,
	})
}
