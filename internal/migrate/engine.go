// Package migrate moves a file-backed memory corpus into the relational
// backend as a one-shot, resumable, verified operation. The source is
// never mutated; it remains a point-in-time backup.
package migrate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/recallhq/recall/internal/memory"
)

// Failure is one record that could not be migrated. The engine keeps
// going past failures so a single malformed record cannot block the
// corpus; the caller inspects the aggregate.
type Failure struct {
	Scope memory.Scope
	ID    string
	Key   string
	Err   error
}

// ScopeReport summarizes one scope after migration.
type ScopeReport struct {
	// Source is the number of live records in the source.
	Source int
	// Migrated is the number of records written this run.
	Migrated int
	// Skipped is the number of records the checkpoint let us skip.
	Skipped int
	// Destination is the destination's live record count after the run.
	Destination int
	// Mismatch is set when Source != Destination after verification.
	Mismatch bool
}

// Report is the result of one migration run.
type Report struct {
	Started  time.Time
	Finished time.Time
	Scopes   map[memory.Scope]ScopeReport
	Failures []Failure
}

// Mismatched reports whether post-migration verification found any
// per-scope count difference.
func (r *Report) Mismatched() bool {
	for _, sr := range r.Scopes {
		if sr.Mismatch {
			return true
		}
	}
	return false
}

// Engine streams records from a source store into a destination store.
type Engine struct {
	src    memory.Store
	dst    memory.Store
	cp     *checkpoint
	logger *slog.Logger
}

// New creates an Engine. sourceRoot is the directory of the file-backed
// source; the resume checkpoint is kept there.
func New(src, dst memory.Store, sourceRoot string) (*Engine, error) {
	cp, err := loadCheckpoint(sourceRoot)
	if err != nil {
		return nil, err
	}
	return &Engine{src: src, dst: dst, cp: cp, logger: slog.Default()}, nil
}

// Run migrates every scope and verifies per-scope counts. Records are
// written in created-at order preserving id, scope, content, and both
// timestamps; embeddings are never synthesized — the destination's
// enqueue-on-insert covers them, identically to organic writes. Put is
// idempotent on (scope, key), so a rerun over an unchanged source leaves
// the destination's content and counts unchanged.
func (e *Engine) Run(ctx context.Context) (*Report, error) {
	report := &Report{
		Started: time.Now().UTC(),
		Scopes:  make(map[memory.Scope]ScopeReport),
	}

	for _, scope := range memory.Scopes() {
		sr, err := e.migrateScope(ctx, scope, report)
		if err != nil {
			return report, err
		}
		report.Scopes[scope] = sr
	}

	if err := e.verify(ctx, report); err != nil {
		return report, err
	}

	report.Finished = time.Now().UTC()
	return report, nil
}

func (e *Engine) migrateScope(ctx context.Context, scope memory.Scope, report *Report) (ScopeReport, error) {
	var sr ScopeReport

	// The checkpoint skips records a previous run already moved. Counting
	// the skipped prefix still requires listing it, which is cheap
	// relative to re-putting.
	resume := e.cp.cursor(scope)
	if resume != "" {
		n, err := e.countUpTo(ctx, scope, resume)
		if err != nil {
			return sr, err
		}
		sr.Skipped = n
	}

	// The checkpoint must never move past a record that has not been
	// migrated, so advancement stops at the first failure in the scope.
	// Later records are still written and counted; a resumed run re-puts
	// them, which the idempotent upsert absorbs, and re-attempts the
	// failed record itself.
	advance := true

	opts := memory.ListOptions{Cursor: resume}
	for {
		if err := ctx.Err(); err != nil {
			return sr, err
		}
		page, err := e.src.ListByScope(ctx, scope, opts)
		if err != nil {
			return sr, fmt.Errorf("listing source %s records: %w", scope, err)
		}

		for _, rec := range page.Records {
			if err := ctx.Err(); err != nil {
				return sr, err
			}
			if _, err := e.dst.Put(ctx, rec); err != nil {
				e.logger.Warn("record migration failed",
					"scope", scope, "id", rec.ID, "key", rec.Key, "error", err)
				report.Failures = append(report.Failures, Failure{
					Scope: scope, ID: rec.ID, Key: rec.Key, Err: err,
				})
				advance = false
				continue
			}
			sr.Migrated++
			if !advance {
				continue
			}
			if err := e.cp.advance(scope, rec); err != nil {
				return sr, fmt.Errorf("advancing checkpoint: %w", err)
			}
		}

		if page.NextCursor == "" {
			return sr, nil
		}
		opts.Cursor = page.NextCursor
	}
}

// countUpTo counts source records at or before the given cursor position.
func (e *Engine) countUpTo(ctx context.Context, scope memory.Scope, until string) (int, error) {
	untilAt, untilID, err := memory.DecodeCursor(until)
	if err != nil {
		return 0, err
	}
	n := 0
	for rec, err := range memory.Scan(ctx, e.src, scope, time.Time{}) {
		if err != nil {
			return 0, fmt.Errorf("counting %s records: %w", scope, err)
		}
		if rec.CreatedAt.After(untilAt) ||
			(rec.CreatedAt.Equal(untilAt) && rec.ID > untilID) {
			break
		}
		n++
	}
	return n, nil
}

// verify compares live record counts per scope. Mismatches are reported,
// never auto-corrected.
func (e *Engine) verify(ctx context.Context, report *Report) error {
	for _, scope := range memory.Scopes() {
		srcN, err := e.count(ctx, e.src, scope)
		if err != nil {
			return fmt.Errorf("counting source %s records: %w", scope, err)
		}
		dstN, err := e.count(ctx, e.dst, scope)
		if err != nil {
			return fmt.Errorf("counting destination %s records: %w", scope, err)
		}

		sr := report.Scopes[scope]
		sr.Source = srcN
		sr.Destination = dstN
		sr.Mismatch = srcN != dstN
		report.Scopes[scope] = sr

		if sr.Mismatch {
			e.logger.Warn("migration count mismatch",
				"scope", scope, "source", srcN, "destination", dstN)
		}
	}
	return nil
}

func (e *Engine) count(ctx context.Context, s memory.Store, scope memory.Scope) (int, error) {
	n := 0
	for _, err := range memory.Scan(ctx, s, scope, time.Time{}) {
		if err != nil {
			return 0, err
		}
		n++
	}
	return n, nil
}
