package pgstore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
)

// Job is one leased embedding job. Content is a snapshot of the record's
// text at claim time; recomputing against it is idempotent.
type Job struct {
	ID          int64
	MemoryID    string
	Content     string
	Attempts    int
	MaxAttempts int
}

// QueueStats summarizes the embedding queue for operators.
type QueueStats struct {
	Pending  int64
	InFlight int64
	Dead     int64
	Done     int64
}

// Claim leases the next runnable job for the given visibility timeout.
// A leased job whose lease has lapsed is claimable again, which is how a
// crashed worker's job gets redelivered. Returns (nil, nil) when the
// queue has nothing runnable. Row locks use SKIP LOCKED so concurrent
// workers never contend on the same job.
func (s *Store) Claim(ctx context.Context, lease time.Duration) (*Job, error) {
	conn, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning claim transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var job Job
	err = tx.QueryRow(ctx, `
		WITH next AS (
			SELECT id FROM embedding_jobs
			WHERE (status = 'pending' AND run_after <= now())
			   OR (status = 'leased' AND leased_until < now())
			ORDER BY run_after
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		UPDATE embedding_jobs j
		SET status = 'leased',
		    attempts = j.attempts + 1,
		    leased_until = $1,
		    updated_at = now()
		FROM next
		WHERE j.id = next.id
		RETURNING j.id, j.memory_id, j.attempts, j.max_attempts`,
		time.Now().UTC().Add(lease),
	).Scan(&job.ID, &job.MemoryID, &job.Attempts, &job.MaxAttempts)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claiming job: %w", err)
	}

	// Snapshot the content inside the claim transaction. Tombstoned
	// records are still embedded; search excludes them regardless.
	if err := tx.QueryRow(ctx,
		`SELECT content FROM memories WHERE id = $1`, job.MemoryID,
	).Scan(&job.Content); err != nil {
		return nil, fmt.Errorf("loading content for job %d: %w", job.ID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}
	return &job, nil
}

// Complete attaches the vector, marks the record ready, and acknowledges
// the job in one transaction — a crash between the two cannot leave the
// record and the queue disagreeing; the job is simply redelivered and the
// recompute is a harmless overwrite.
func (s *Store) Complete(ctx context.Context, job *Job, embedding []float32) error {
	if len(embedding) != s.opts.EmbeddingDim {
		return fmt.Errorf("embedding has %d dimensions, want %d", len(embedding), s.opts.EmbeddingDim)
	}

	conn, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning complete transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		UPDATE memories
		SET embedding = $1, embedding_status = 'ready'
		WHERE id = $2`,
		pgvector.NewVector(embedding), job.MemoryID,
	); err != nil {
		return fmt.Errorf("attaching embedding to %s: %w", job.MemoryID, err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE embedding_jobs
		SET status = 'done', leased_until = NULL, last_error = NULL, updated_at = now()
		WHERE id = $1`, job.ID,
	); err != nil {
		return fmt.Errorf("acknowledging job %d: %w", job.ID, err)
	}

	return tx.Commit(ctx)
}

// Fail records a failed attempt. Terminal failures (and exhausted retry
// budgets) dead-letter the job and mark the record failed; retryable ones
// reschedule with exponential backoff. The record's status only ever
// moves forward: a record that already reached ready is left alone.
func (s *Store) Fail(ctx context.Context, job *Job, reason string, terminal bool) error {
	conn, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning fail transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if terminal || job.Attempts >= job.MaxAttempts {
		if _, err := tx.Exec(ctx, `
			UPDATE embedding_jobs
			SET status = 'dead', leased_until = NULL, last_error = $1, updated_at = now()
			WHERE id = $2`, reason, job.ID,
		); err != nil {
			return fmt.Errorf("dead-lettering job %d: %w", job.ID, err)
		}
		if _, err := tx.Exec(ctx, `
			UPDATE memories
			SET embedding_status = 'failed'
			WHERE id = $1 AND embedding_status <> 'ready'`, job.MemoryID,
		); err != nil {
			return fmt.Errorf("marking record %s failed: %w", job.MemoryID, err)
		}
	} else {
		backoff := time.Duration(math.Pow(2, float64(job.Attempts))) * time.Second
		if _, err := tx.Exec(ctx, `
			UPDATE embedding_jobs
			SET status = 'pending', leased_until = NULL, last_error = $1,
			    run_after = $2, updated_at = now()
			WHERE id = $3`,
			reason, time.Now().UTC().Add(backoff), job.ID,
		); err != nil {
			return fmt.Errorf("rescheduling job %d: %w", job.ID, err)
		}
	}

	return tx.Commit(ctx)
}

// Stats returns queue depth counters. Lapsed leases count as pending
// because they are runnable again.
func (s *Store) Stats(ctx context.Context) (QueueStats, error) {
	conn, err := s.acquire(ctx)
	if err != nil {
		return QueueStats{}, err
	}
	defer conn.Release()

	var stats QueueStats
	if err := conn.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending' OR (status = 'leased' AND leased_until < now())),
			COUNT(*) FILTER (WHERE status = 'leased' AND leased_until >= now()),
			COUNT(*) FILTER (WHERE status = 'dead'),
			COUNT(*) FILTER (WHERE status = 'done')
		FROM embedding_jobs`,
	).Scan(&stats.Pending, &stats.InFlight, &stats.Dead, &stats.Done); err != nil {
		return QueueStats{}, fmt.Errorf("querying queue stats: %w", err)
	}
	return stats, nil
}
