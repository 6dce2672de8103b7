// Package filestore implements the memory store over a directory of
// markdown files. One file per record: daily/YYYY-MM-DD.md keyed by date,
// longterm/<slug>.md keyed by slug. There is no index beyond the
// filesystem; the backend targets low-volume development use.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/recallhq/recall/internal/memory"
)

const defaultPageSize = 100

// Store is the file-backed memory store.
type Store struct {
	root string

	// Serializes read-modify-write cycles within the process. Cross-process
	// readers are safe regardless because writes are temp+rename.
	mu sync.Mutex
}

var _ memory.Store = (*Store)(nil)

// Open creates (if needed) the scope directories under root and returns
// the store.
func Open(root string) (*Store, error) {
	for _, scope := range memory.Scopes() {
		if err := os.MkdirAll(filepath.Join(root, string(scope)), 0o755); err != nil {
			return nil, fmt.Errorf("creating scope directory: %w", err)
		}
	}
	return &Store{root: root}, nil
}

// Root returns the directory the store was opened on.
func (s *Store) Root() string { return s.root }

func (s *Store) Capabilities() memory.Capabilities {
	return memory.Capabilities{}
}

func (s *Store) Close() error { return nil }

// Ping verifies the root directory is still present and readable.
func (s *Store) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := os.Stat(s.root); err != nil {
		return fmt.Errorf("%w: %v", memory.ErrUnavailable, err)
	}
	return nil
}

func (s *Store) path(scope memory.Scope, key string) string {
	return filepath.Join(s.root, string(scope), key+".md")
}

// Put creates or overwrites the record at scope+key. Overwrites keep the
// existing id and created-at; new records honour a caller-supplied id and
// created-at (migration and tests rely on this).
func (s *Store) Put(ctx context.Context, rec memory.Record) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
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
	if err := validateKey(rec.Key); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(rec.Scope, rec.Key)
	if existing, err := readRecord(path, rec.Scope, rec.Key); err == nil {
		// Overwrite: identity and creation time are immutable. A put on a
		// tombstoned key falls through below and starts a fresh identity;
		// deleted ids never come back.
		rec.ID = existing.ID
		rec.CreatedAt = existing.CreatedAt
		if rec.UpdatedAt.IsZero() {
			rec.UpdatedAt = now
		}
	} else if !errors.Is(err, os.ErrNotExist) && !errors.Is(err, errTombstoned) {
		return "", fmt.Errorf("reading existing record: %w", err)
	} else {
		if rec.ID == "" {
			rec.ID = uuid.New().String()
		}
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = now
		}
		if rec.UpdatedAt.IsZero() {
			rec.UpdatedAt = rec.CreatedAt
		}
	}

	// The file backend has no vector capability.
	rec.Embedding = nil
	rec.EmbeddingStatus = memory.StatusPending

	if err := writeRecord(path, rec, false); err != nil {
		return "", err
	}
	return rec.ID, nil
}

// Get scans both scope directories for the record with the given id.
func (s *Store) Get(ctx context.Context, id string) (memory.Record, error) {
	rec, _, err := s.findByID(ctx, id)
	return rec, err
}

// Delete tombstones the record with the given id. The file stays in place
// with a deleted marker so listings and migration see a consistent corpus.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, path, err := s.findByID(ctx, id)
	if err != nil {
		return err
	}
	if err := writeRecord(path, rec, true); err != nil {
		return fmt.Errorf("tombstoning %s: %w", id, err)
	}
	return nil
}

// SearchSimilar is not available on the file backend.
func (s *Store) SearchSimilar(ctx context.Context, query []float32, scope memory.Scope, topK int) ([]memory.ScoredRecord, error) {
	return nil, memory.ErrUnsupported
}

// ListByScope enumerates the scope directory, parses records lazily,
// and returns one page in ascending (created-at, id) order.
func (s *Store) ListByScope(ctx context.Context, scope memory.Scope, opts memory.ListOptions) (memory.ListPage, error) {
	if err := ctx.Err(); err != nil {
		return memory.ListPage{}, err
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}

	var afterAt time.Time
	var afterID string
	if opts.Cursor != "" {
		var err error
		afterAt, afterID, err = memory.DecodeCursor(opts.Cursor)
		if err != nil {
			return memory.ListPage{}, err
		}
	}

	dir := filepath.Join(s.root, string(scope))
	entries, err := os.ReadDir(dir)
	if err != nil {
		return memory.ListPage{}, fmt.Errorf("%w: reading %s: %v", memory.ErrUnavailable, dir, err)
	}

	var records []memory.Record
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return memory.ListPage{}, err
		}
		key, ok := recordKey(entry)
		if !ok {
			continue
		}
		rec, err := readRecord(filepath.Join(dir, entry.Name()), scope, key)
		if errors.Is(err, errTombstoned) {
			continue
		}
		if err != nil {
			return memory.ListPage{}, fmt.Errorf("parsing %s: %w", entry.Name(), err)
		}
		if !opts.Since.IsZero() && rec.CreatedAt.Before(opts.Since) {
			continue
		}
		if afterID != "" && !after(rec, afterAt, afterID) {
			continue
		}
		records = append(records, rec)
	}

	sort.Slice(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.Before(records[j].CreatedAt)
		}
		return records[i].ID < records[j].ID
	})

	page := memory.ListPage{}
	if len(records) > limit {
		records = records[:limit]
		last := records[len(records)-1]
		page.NextCursor = memory.EncodeCursor(last.CreatedAt, last.ID)
	}
	page.Records = records
	return page, nil
}

// after reports whether rec sorts strictly after the (at, id) cursor pair.
func after(rec memory.Record, at time.Time, id string) bool {
	if rec.CreatedAt.After(at) {
		return true
	}
	return rec.CreatedAt.Equal(at) && rec.ID > id
}

func (s *Store) findByID(ctx context.Context, id string) (memory.Record, string, error) {
	for _, scope := range memory.Scopes() {
		dir := filepath.Join(s.root, string(scope))
		entries, err := os.ReadDir(dir)
		if err != nil {
			return memory.Record{}, "", fmt.Errorf("%w: reading %s: %v", memory.ErrUnavailable, dir, err)
		}
		for _, entry := range entries {
			if err := ctx.Err(); err != nil {
				return memory.Record{}, "", err
			}
			key, ok := recordKey(entry)
			if !ok {
				continue
			}
			path := filepath.Join(dir, entry.Name())
			rec, err := readRecord(path, scope, key)
			if errors.Is(err, errTombstoned) {
				continue
			}
			if err != nil {
				return memory.Record{}, "", fmt.Errorf("parsing %s: %w", entry.Name(), err)
			}
			if rec.ID == id {
				return rec, path, nil
			}
		}
	}
	return memory.Record{}, "", memory.ErrNotFound
}

func recordKey(entry os.DirEntry) (string, bool) {
	name := entry.Name()
	if entry.IsDir() || !strings.HasSuffix(name, ".md") || strings.HasPrefix(name, ".") {
		return "", false
	}
	return strings.TrimSuffix(name, ".md"), true
}

// validateKey rejects keys that would escape the scope directory or
// collide with temp files.
func validateKey(key string) error {
	if key == "" || strings.HasPrefix(key, ".") ||
		strings.ContainsAny(key, "/\\") || key != filepath.Base(key) {
		return fmt.Errorf("invalid record key %q", key)
	}
	return nil
}
