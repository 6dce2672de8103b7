// Package embedq runs the embedding worker pool: it drains the durable
// job queue, calls the embedding provider, and attaches vectors to
// records. Provider failures never reach the original writer; they end in
// retries or the dead-letter state.
package embedq

import (
	"context"
	"errors"
	"time"

	"github.com/recallhq/recall/internal/pgstore"
)

// ErrProviderFatal marks a provider error that retrying cannot fix
// (e.g. malformed input). Workers dead-letter the job immediately instead
// of burning the retry budget.
var ErrProviderFatal = errors.New("embedq: fatal provider error")

// Provider computes fixed-dimension embeddings. Implementations should
// wrap non-retryable failures with ErrProviderFatal; everything else is
// treated as transient and retried.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	// Dimensions is the fixed length of every vector Embed returns.
	Dimensions() int
}

// Queue is the consumer-side view of the durable job queue, implemented
// by *pgstore.Store.
type Queue interface {
	// Claim leases the next runnable job for the given visibility
	// timeout, or returns (nil, nil) when none is runnable.
	Claim(ctx context.Context, lease time.Duration) (*pgstore.Job, error)
	// Complete attaches the vector, marks the record ready, and
	// acknowledges the job atomically.
	Complete(ctx context.Context, job *pgstore.Job, embedding []float32) error
	// Fail records a failed attempt; terminal failures dead-letter the
	// job and mark the record failed.
	Fail(ctx context.Context, job *pgstore.Job, reason string, terminal bool) error
}
