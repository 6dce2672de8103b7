package embedq

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/recallhq/recall/internal/pgstore"
)

type mockQueue struct {
	claimFn    func(ctx context.Context, lease time.Duration) (*pgstore.Job, error)
	completeFn func(ctx context.Context, job *pgstore.Job, embedding []float32) error
	failFn     func(ctx context.Context, job *pgstore.Job, reason string, terminal bool) error
}

func (m *mockQueue) Claim(ctx context.Context, lease time.Duration) (*pgstore.Job, error) {
	return m.claimFn(ctx, lease)
}

func (m *mockQueue) Complete(ctx context.Context, job *pgstore.Job, embedding []float32) error {
	return m.completeFn(ctx, job, embedding)
}

func (m *mockQueue) Fail(ctx context.Context, job *pgstore.Job, reason string, terminal bool) error {
	return m.failFn(ctx, job, reason, terminal)
}

type mockProvider struct {
	embedFn func(ctx context.Context, text string) ([]float32, error)
	dims    int
}

func (m *mockProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	return m.embedFn(ctx, text)
}

func (m *mockProvider) Dimensions() int { return m.dims }

func testJob() *pgstore.Job {
	return &pgstore.Job{ID: 7, MemoryID: "mem-1", Content: "remember this", Attempts: 1, MaxAttempts: 5}
}

func TestRunOnceCompletesJob(t *testing.T) {
	var completed []float32
	queue := &mockQueue{
		claimFn: func(ctx context.Context, lease time.Duration) (*pgstore.Job, error) {
			return testJob(), nil
		},
		completeFn: func(ctx context.Context, job *pgstore.Job, embedding []float32) error {
			completed = embedding
			return nil
		},
		failFn: func(ctx context.Context, job *pgstore.Job, reason string, terminal bool) error {
			t.Fatal("Fail should not be called")
			return nil
		},
	}
	provider := &mockProvider{
		dims: 3,
		embedFn: func(ctx context.Context, text string) ([]float32, error) {
			return []float32{0.1, 0.2, 0.3}, nil
		},
	}

	worker := NewWorker(queue, provider, 1, time.Second, time.Millisecond)
	done, err := worker.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !done {
		t.Error("RunOnce should report work done")
	}
	if len(completed) != 3 {
		t.Errorf("Complete got %d dims, want 3", len(completed))
	}
}

func TestRunOnceEmptyQueue(t *testing.T) {
	queue := &mockQueue{
		claimFn: func(ctx context.Context, lease time.Duration) (*pgstore.Job, error) {
			return nil, nil
		},
	}
	provider := &mockProvider{dims: 3}

	worker := NewWorker(queue, provider, 1, time.Second, time.Millisecond)
	done, err := worker.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if done {
		t.Error("empty queue should report no work")
	}
}

func TestRunOnceTransientFailureRetries(t *testing.T) {
	var gotTerminal *bool
	queue := &mockQueue{
		claimFn: func(ctx context.Context, lease time.Duration) (*pgstore.Job, error) {
			return testJob(), nil
		},
		completeFn: func(ctx context.Context, job *pgstore.Job, embedding []float32) error {
			t.Fatal("Complete should not be called")
			return nil
		},
		failFn: func(ctx context.Context, job *pgstore.Job, reason string, terminal bool) error {
			gotTerminal = &terminal
			return nil
		},
	}
	provider := &mockProvider{
		dims: 3,
		embedFn: func(ctx context.Context, text string) ([]float32, error) {
			return nil, errors.New("connection refused")
		},
	}

	worker := NewWorker(queue, provider, 1, time.Second, time.Millisecond)
	done, err := worker.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !done {
		t.Error("a failed job still counts as work")
	}
	if gotTerminal == nil {
		t.Fatal("Fail was not called")
	}
	if *gotTerminal {
		t.Error("transient failure should not be terminal")
	}
}

func TestRunOnceFatalProviderErrorIsTerminal(t *testing.T) {
	var gotTerminal *bool
	queue := &mockQueue{
		claimFn: func(ctx context.Context, lease time.Duration) (*pgstore.Job, error) {
			return testJob(), nil
		},
		failFn: func(ctx context.Context, job *pgstore.Job, reason string, terminal bool) error {
			gotTerminal = &terminal
			return nil
		},
	}
	provider := &mockProvider{
		dims: 3,
		embedFn: func(ctx context.Context, text string) ([]float32, error) {
			return nil, fmt.Errorf("%w: input rejected", ErrProviderFatal)
		},
	}

	worker := NewWorker(queue, provider, 1, time.Second, time.Millisecond)
	if _, err := worker.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if gotTerminal == nil || !*gotTerminal {
		t.Error("fatal provider error should dead-letter the job")
	}
}

func TestRunOnceDimensionMismatchIsTerminal(t *testing.T) {
	var gotTerminal *bool
	queue := &mockQueue{
		claimFn: func(ctx context.Context, lease time.Duration) (*pgstore.Job, error) {
			return testJob(), nil
		},
		completeFn: func(ctx context.Context, job *pgstore.Job, embedding []float32) error {
			t.Fatal("Complete should not accept a wrong-size vector")
			return nil
		},
		failFn: func(ctx context.Context, job *pgstore.Job, reason string, terminal bool) error {
			gotTerminal = &terminal
			return nil
		},
	}
	provider := &mockProvider{
		dims: 768,
		embedFn: func(ctx context.Context, text string) ([]float32, error) {
			return []float32{0.5, 0.5}, nil
		},
	}

	worker := NewWorker(queue, provider, 1, time.Second, time.Millisecond)
	if _, err := worker.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if gotTerminal == nil || !*gotTerminal {
		t.Error("dimension mismatch should dead-letter the job")
	}
}

func TestRunDrainsUntilCancelled(t *testing.T) {
	jobs := make(chan *pgstore.Job, 3)
	for i := range 3 {
		jobs <- &pgstore.Job{ID: int64(i + 1), MemoryID: fmt.Sprintf("mem-%d", i+1), Content: "x", Attempts: 1, MaxAttempts: 5}
	}
	close(jobs)

	completed := make(chan int64, 3)
	queue := &mockQueue{
		claimFn: func(ctx context.Context, lease time.Duration) (*pgstore.Job, error) {
			select {
			case job, ok := <-jobs:
				if !ok {
					return nil, nil
				}
				return job, nil
			default:
				return nil, nil
			}
		},
		completeFn: func(ctx context.Context, job *pgstore.Job, embedding []float32) error {
			completed <- job.ID
			return nil
		},
	}
	provider := &mockProvider{
		dims: 1,
		embedFn: func(ctx context.Context, text string) ([]float32, error) {
			return []float32{1}, nil
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	worker := NewWorker(queue, provider, 2, time.Second, time.Millisecond)

	done := make(chan struct{})
	go func() {
		worker.Run(ctx)
		close(done)
	}()

	for i := 0; i < 3; i++ {
		select {
		case <-completed:
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for jobs to complete")
		}
	}
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop after cancellation")
	}
}
