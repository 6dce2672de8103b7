package embedq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/recallhq/recall/internal/pgstore"
)

// Worker consumes embedding jobs with a pool of concurrent consumers.
// Mutual exclusion on a job is the queue's lease, never client-side
// locking; two workers can race only after a lease lapses, and the
// recompute is idempotent.
type Worker struct {
	queue    Queue
	provider Provider
	workers  int
	lease    time.Duration
	poll     time.Duration
	logger   *slog.Logger
}

// NewWorker creates a Worker. Non-positive workers defaults to 2,
// non-positive lease to 30s, non-positive pollInterval to 500ms.
func NewWorker(queue Queue, provider Provider, workers int, lease, pollInterval time.Duration) *Worker {
	if workers <= 0 {
		workers = 2
	}
	if lease <= 0 {
		lease = 30 * time.Second
	}
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		queue:    queue,
		provider: provider,
		workers:  workers,
		lease:    lease,
		poll:     pollInterval,
		logger:   slog.Default(),
	}
}

// Run polls for jobs with the configured pool until ctx is cancelled,
// then waits for in-flight jobs to finish. A job cut off mid-flight is
// redelivered after its lease lapses.
func (w *Worker) Run(ctx context.Context) {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.workers; i++ {
		g.Go(func() error {
			w.loop(ctx)
			return nil
		})
	}
	g.Wait()
}

func (w *Worker) loop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single job. Returns true if a job was
// processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.queue.Claim(ctx, w.lease)
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		terminal := errors.Is(err, ErrProviderFatal)
		w.logger.Warn("embedding job failed",
			"job_id", job.ID, "memory_id", job.MemoryID,
			"attempt", job.Attempts, "terminal", terminal, "error", err)
		if failErr := w.queue.Fail(ctx, job, err.Error(), terminal); failErr != nil {
			w.logger.Error("failed to record job failure", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}
	return true, nil
}

func (w *Worker) processJob(ctx context.Context, job *pgstore.Job) error {
	vec, err := w.provider.Embed(ctx, job.Content)
	if err != nil {
		return fmt.Errorf("embedding content: %w", err)
	}
	if want := w.provider.Dimensions(); len(vec) != want {
		// A wrong-size vector will never become right on retry.
		return fmt.Errorf("%w: provider returned %d dimensions, want %d",
			ErrProviderFatal, len(vec), want)
	}

	if err := w.queue.Complete(ctx, job, vec); err != nil {
		return fmt.Errorf("completing job %d: %w", job.ID, err)
	}
	return nil
}
