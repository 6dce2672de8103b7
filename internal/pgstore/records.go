package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/recallhq/recall/internal/memory"
)

const (
	defaultPageSize = 100
	defaultTopK     = 10
)

// Put upserts the record addressed by scope+key and enqueues an embedding
// job in the same transaction, so a crash between insert and enqueue can
// never leave a record silently missing its job. Overwrites keep the
// existing row id, reset the embedding to pending, and revive tombstones.
func (s *Store) Put(ctx context.Context, rec memory.Record) (string, error) {
	if rec.Scope != memory.ScopeDaily && rec.Scope != memory.ScopeLongTerm {
		return "", fmt.Errorf("invalid scope %q", rec.Scope)
	}

	now := time.Now().UTC()
	if rec.Key == "" {
		if rec.Scope != memory.ScopeDaily {
			return "", fmt.Errorf("longterm records require a key")
		}
		at := rec.CreatedAt
		if at.IsZero() {
			at = now
		}
		rec.Key = at.UTC().Format("2006-01-02")
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = rec.CreatedAt
	}

	conn, err := s.acquire(ctx)
	if err != nil {
		return "", err
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("beginning put transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var id string
	err = tx.QueryRow(ctx, `
		INSERT INTO memories (id, scope, key, content, created_at, updated_at, embedding_status)
		VALUES ($1, $2, $3, $4, $5, $6, 'pending')
		ON CONFLICT (scope, key) DO UPDATE SET
			content = EXCLUDED.content,
			updated_at = EXCLUDED.updated_at,
			embedding = NULL,
			embedding_status = 'pending',
			deleted_at = NULL
		RETURNING id`,
		rec.ID, rec.Scope, rec.Key, rec.Content, rec.CreatedAt, rec.UpdatedAt,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("upserting record: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO embedding_jobs (memory_id, max_attempts)
		VALUES ($1, $2)`,
		id, s.opts.MaxAttempts,
	); err != nil {
		return "", fmt.Errorf("enqueueing embedding job: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("committing put: %w", err)
	}
	return id, nil
}

const recordColumns = `id, scope, key, content, created_at, updated_at, embedding, embedding_status`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (memory.Record, error) {
	var rec memory.Record
	var emb *pgvector.Vector
	if err := row.Scan(
		&rec.ID, &rec.Scope, &rec.Key, &rec.Content,
		&rec.CreatedAt, &rec.UpdatedAt, &emb, &rec.EmbeddingStatus,
	); err != nil {
		return memory.Record{}, err
	}
	if emb != nil {
		rec.Embedding = emb.Slice()
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return rec, nil
}

// Get returns the record with the given id, excluding tombstones.
func (s *Store) Get(ctx context.Context, id string) (memory.Record, error) {
	conn, err := s.acquire(ctx)
	if err != nil {
		return memory.Record{}, err
	}
	defer conn.Release()

	rec, err := scanRecord(conn.QueryRow(ctx, `
		SELECT `+recordColumns+`
		FROM memories
		WHERE id = $1 AND deleted_at IS NULL`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return memory.Record{}, memory.ErrNotFound
	}
	if err != nil {
		return memory.Record{}, fmt.Errorf("getting record %s: %w", id, err)
	}
	return rec, nil
}

// ListByScope returns one page ascending by (created_at, id). The keyset
// cursor keeps the ordering stable under concurrent inserts: rows already
// yielded are never reordered or duplicated on later pages.
func (s *Store) ListByScope(ctx context.Context, scope memory.Scope, opts memory.ListOptions) (memory.ListPage, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}

	query := `
		SELECT ` + recordColumns + `
		FROM memories
		WHERE scope = $1 AND deleted_at IS NULL AND created_at >= $2`
	args := []any{scope, opts.Since}

	if opts.Cursor != "" {
		afterAt, afterID, err := memory.DecodeCursor(opts.Cursor)
		if err != nil {
			return memory.ListPage{}, err
		}
		query += ` AND (created_at, id) > ($3, $4)`
		args = append(args, afterAt, afterID)
	}
	query += fmt.Sprintf(` ORDER BY created_at, id LIMIT %d`, limit+1)

	conn, err := s.acquire(ctx)
	if err != nil {
		return memory.ListPage{}, err
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, query, args...)
	if err != nil {
		return memory.ListPage{}, fmt.Errorf("listing %s records: %w", scope, err)
	}
	defer rows.Close()

	var records []memory.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return memory.ListPage{}, fmt.Errorf("scanning record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return memory.ListPage{}, fmt.Errorf("iterating records: %w", err)
	}

	page := memory.ListPage{}
	if len(records) > limit {
		records = records[:limit]
		last := records[len(records)-1]
		page.NextCursor = memory.EncodeCursor(last.CreatedAt, last.ID)
	}
	page.Records = records
	return page, nil
}

// SearchSimilar runs a nearest-neighbour query over the scope, restricted
// to ready embeddings, ordered by ascending cosine distance with ties
// broken by more recent created_at. Scores are cosine similarity.
func (s *Store) SearchSimilar(ctx context.Context, query []float32, scope memory.Scope, topK int) ([]memory.ScoredRecord, error) {
	if len(query) != s.opts.EmbeddingDim {
		return nil, fmt.Errorf("query vector has %d dimensions, want %d", len(query), s.opts.EmbeddingDim)
	}
	if topK <= 0 {
		topK = defaultTopK
	}

	conn, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	vec := pgvector.NewVector(query)
	rows, err := conn.Query(ctx, `
		SELECT `+recordColumns+`, embedding <=> $1 AS distance
		FROM memories
		WHERE scope = $2
		  AND embedding_status = 'ready'
		  AND deleted_at IS NULL
		ORDER BY embedding <=> $1, created_at DESC, id
		LIMIT $3`, vec, scope, topK)
	if err != nil {
		return nil, fmt.Errorf("searching %s records: %w", scope, err)
	}
	defer rows.Close()

	var results []memory.ScoredRecord
	for rows.Next() {
		var rec memory.Record
		var emb *pgvector.Vector
		var distance float64
		if err := rows.Scan(
			&rec.ID, &rec.Scope, &rec.Key, &rec.Content,
			&rec.CreatedAt, &rec.UpdatedAt, &emb, &rec.EmbeddingStatus,
			&distance,
		); err != nil {
			return nil, fmt.Errorf("scanning search result: %w", err)
		}
		if emb != nil {
			rec.Embedding = emb.Slice()
		}
		rec.CreatedAt = rec.CreatedAt.UTC()
		rec.UpdatedAt = rec.UpdatedAt.UTC()
		results = append(results, memory.ScoredRecord{
			Record: rec,
			Score:  float32(1 - distance),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating search results: %w", err)
	}
	return results, nil
}

// Delete tombstones the record. The row stays in place so the queue and
// migration see a consistent corpus; listings and search exclude it.
func (s *Store) Delete(ctx context.Context, id string) error {
	conn, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `
		UPDATE memories SET deleted_at = now()
		WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("deleting record %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return memory.ErrNotFound
	}
	return nil
}
