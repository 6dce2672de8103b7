package memory

import (
	"context"
	"encoding/base64"
	"fmt"
	"iter"
	"strings"
	"time"
)

// Capabilities reports what a backend can do beyond the basic operations.
type Capabilities struct {
	// SimilaritySearch is true when SearchSimilar is implemented.
	SimilaritySearch bool
	// Embeddings is true when the backend computes vectors for records
	// (via its embedding queue). Backends without it leave every record
	// at StatusPending.
	Embeddings bool
}

// ListOptions controls a single ListByScope page.
type ListOptions struct {
	// Since excludes records created before this time. Zero means no bound.
	Since time.Time
	// Cursor resumes a previous listing; empty starts from the beginning.
	Cursor string
	// Limit caps the page size. Zero or negative uses the backend default.
	Limit int
}

// ListPage is one page of records in ascending created-at order.
// NextCursor is empty when the listing is exhausted.
type ListPage struct {
	Records    []Record
	NextCursor string
}

// Store is the capability contract implemented by every backend.
// Callers hold only this interface; the concrete backend is selected once
// at startup.
type Store interface {
	// Put creates or overwrites the record addressed by scope+key and
	// returns its id. A non-empty rec.ID is honoured for new records
	// (migration relies on this); overwrites keep the existing id.
	// The write is atomic: a concurrent reader never observes a partial
	// record.
	Put(ctx context.Context, rec Record) (string, error)

	// Get returns the record with the given id, or ErrNotFound if it is
	// absent or tombstoned.
	Get(ctx context.Context, id string) (Record, error)

	// ListByScope returns one page of records in the scope, ascending by
	// created-at, restartable via the page cursor.
	ListByScope(ctx context.Context, scope Scope, opts ListOptions) (ListPage, error)

	// SearchSimilar returns up to topK records nearest to the query
	// vector within the scope, descending by similarity, excluding any
	// record whose embedding is not ready. Backends without the
	// capability return ErrUnsupported.
	SearchSimilar(ctx context.Context, query []float32, scope Scope, topK int) ([]ScoredRecord, error)

	// Delete tombstones the record. Subsequent Get returns ErrNotFound
	// and the id never reappears in listings or search results.
	Delete(ctx context.Context, id string) error

	// Capabilities reports the backend's optional capabilities.
	Capabilities() Capabilities

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

// Scan drives ListByScope page by page and yields each record lazily.
// Iteration stops at the first error; already-yielded records are never
// re-yielded on the next page because cursors are keyset-based.
func Scan(ctx context.Context, s Store, scope Scope, since time.Time) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		opts := ListOptions{Since: since}
		for {
			page, err := s.ListByScope(ctx, scope, opts)
			if err != nil {
				yield(Record{}, err)
				return
			}
			for _, rec := range page.Records {
				if !yield(rec, nil) {
					return
				}
			}
			if page.NextCursor == "" {
				return
			}
			opts.Cursor = page.NextCursor
		}
	}
}

// EncodeCursor builds an opaque keyset cursor from the last record of a
// page. Both backends order by (created_at, id), so the pair resumes a
// listing exactly where it stopped even under concurrent inserts.
func EncodeCursor(createdAt time.Time, id string) string {
	raw := createdAt.UTC().Format(time.RFC3339Nano) + "|" + id
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor reverses EncodeCursor.
func DecodeCursor(cursor string) (time.Time, string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("decoding cursor: %w", err)
	}
	at, id, ok := strings.Cut(string(raw), "|")
	if !ok || id == "" {
		return time.Time{}, "", fmt.Errorf("malformed cursor %q", cursor)
	}
	t, err := time.Parse(time.RFC3339Nano, at)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("parsing cursor timestamp: %w", err)
	}
	return t, id, nil
}
