package filestore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/recallhq/recall/internal/memory"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return store
}

func TestPutGetRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.Put(ctx, memory.Record{
		Scope:   memory.ScopeLongTerm,
		Key:     "preferences",
		Content: "prefers dark mode\nand vim bindings",
	})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if id == "" {
		t.Fatal("Put returned empty id")
	}

	rec, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Content != "prefers dark mode\nand vim bindings" {
		t.Errorf("content mismatch: %q", rec.Content)
	}
	if rec.Scope != memory.ScopeLongTerm || rec.Key != "preferences" {
		t.Errorf("scope/key mismatch: %s/%s", rec.Scope, rec.Key)
	}
	if rec.EmbeddingStatus != memory.StatusPending {
		t.Errorf("embedding status = %q, want pending", rec.EmbeddingStatus)
	}
	if rec.CreatedAt.IsZero() || rec.UpdatedAt.IsZero() {
		t.Error("timestamps not set")
	}
}

func TestPutOverwriteKeepsIdentity(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id1, err := store.Put(ctx, memory.Record{
		Scope: memory.ScopeLongTerm, Key: "projects", Content: "v1",
	})
	if err != nil {
		t.Fatalf("first Put: %v", err)
	}
	first, err := store.Get(ctx, id1)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	id2, err := store.Put(ctx, memory.Record{
		Scope: memory.ScopeLongTerm, Key: "projects", Content: "v2",
	})
	if err != nil {
		t.Fatalf("second Put: %v", err)
	}
	if id2 != id1 {
		t.Errorf("overwrite changed id: %s -> %s", id1, id2)
	}

	rec, err := store.Get(ctx, id1)
	if err != nil {
		t.Fatalf("Get after overwrite: %v", err)
	}
	if rec.Content != "v2" {
		t.Errorf("content = %q, want v2", rec.Content)
	}
	if !rec.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("overwrite changed created_at: %v -> %v", first.CreatedAt, rec.CreatedAt)
	}
}

func TestDailyKeyDefaultsToDate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	created := time.Date(2026, 8, 27, 15, 4, 5, 0, time.UTC)
	id, err := store.Put(ctx, memory.Record{
		Scope:     memory.ScopeDaily,
		Content:   "stood up the staging cluster",
		CreatedAt: created,
	})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	rec, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Key != "2026-08-27" {
		t.Errorf("daily key = %q, want 2026-08-27", rec.Key)
	}
	if _, err := os.Stat(filepath.Join(store.Root(), "daily", "2026-08-27.md")); err != nil {
		t.Errorf("expected daily file on disk: %v", err)
	}
}

func TestLongTermRequiresKey(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Put(context.Background(), memory.Record{
		Scope: memory.ScopeLongTerm, Content: "keyless",
	})
	if err == nil {
		t.Fatal("expected an error for keyless longterm record")
	}
}

func TestPutRejectsEscapingKeys(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, key := range []string{"../escape", "a/b", ".hidden", "..", `a\b`} {
		_, err := store.Put(ctx, memory.Record{
			Scope: memory.ScopeLongTerm, Key: key, Content: "x",
		})
		if err == nil {
			t.Errorf("Put with key %q should fail", key)
		}
	}
}

func TestDeleteTombstones(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.Put(ctx, memory.Record{
		Scope: memory.ScopeLongTerm, Key: "secrets", Content: "old password hints",
	})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	if err := store.Delete(ctx, id); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if _, err := store.Get(ctx, id); !errors.Is(err, memory.ErrNotFound) {
		t.Errorf("Get after delete: got %v, want ErrNotFound", err)
	}
	if err := store.Delete(ctx, id); !errors.Is(err, memory.ErrNotFound) {
		t.Errorf("second Delete: got %v, want ErrNotFound", err)
	}

	// The file stays on disk as a tombstone.
	if _, err := os.Stat(filepath.Join(store.Root(), "longterm", "secrets.md")); err != nil {
		t.Errorf("tombstone file missing: %v", err)
	}

	page, err := store.ListByScope(ctx, memory.ScopeLongTerm, memory.ListOptions{})
	if err != nil {
		t.Fatalf("ListByScope: %v", err)
	}
	if len(page.Records) != 0 {
		t.Errorf("tombstoned record still listed: %+v", page.Records)
	}
}

func TestPutAfterDeleteStartsFreshIdentity(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.Put(ctx, memory.Record{
		Scope: memory.ScopeLongTerm, Key: "contacts", Content: "v1",
	})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := store.Delete(ctx, id); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	id2, err := store.Put(ctx, memory.Record{
		Scope: memory.ScopeLongTerm, Key: "contacts", Content: "v2",
	})
	if err != nil {
		t.Fatalf("Put after delete: %v", err)
	}
	if id2 == id {
		t.Error("reusing a deleted key must not resurrect the old id")
	}
	if _, err := store.Get(ctx, id); !errors.Is(err, memory.ErrNotFound) {
		t.Errorf("old id should stay gone, got %v", err)
	}
}

func TestGetUnknownID(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Get(context.Background(), "nope"); !errors.Is(err, memory.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestSearchSimilarUnsupported(t *testing.T) {
	store := newTestStore(t)

	_, err := store.SearchSimilar(context.Background(), []float32{0.1}, memory.ScopeLongTerm, 3)
	if !errors.Is(err, memory.ErrUnsupported) {
		t.Errorf("got %v, want ErrUnsupported", err)
	}
	if store.Capabilities().SimilaritySearch {
		t.Error("file backend must not advertise similarity search")
	}
}

func TestListByScopeOrderingAndCursor(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	keys := []string{"alpha", "bravo", "charlie", "delta", "echo"}
	for i, key := range keys {
		_, err := store.Put(ctx, memory.Record{
			Scope:     memory.ScopeLongTerm,
			Key:       key,
			Content:   key + " notes",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("Put %s: %v", key, err)
		}
	}

	// First page of two.
	page, err := store.ListByScope(ctx, memory.ScopeLongTerm, memory.ListOptions{Limit: 2})
	if err != nil {
		t.Fatalf("ListByScope: %v", err)
	}
	if len(page.Records) != 2 || page.NextCursor == "" {
		t.Fatalf("got %d records, cursor %q", len(page.Records), page.NextCursor)
	}
	if page.Records[0].Key != "alpha" || page.Records[1].Key != "bravo" {
		t.Errorf("page 1 order: %s, %s", page.Records[0].Key, page.Records[1].Key)
	}

	// Walk the rest via cursors.
	var rest []string
	cursor := page.NextCursor
	for cursor != "" {
		page, err = store.ListByScope(ctx, memory.ScopeLongTerm, memory.ListOptions{Limit: 2, Cursor: cursor})
		if err != nil {
			t.Fatalf("ListByScope cursor page: %v", err)
		}
		for _, rec := range page.Records {
			rest = append(rest, rec.Key)
		}
		cursor = page.NextCursor
	}
	want := []string{"charlie", "delta", "echo"}
	if len(rest) != len(want) {
		t.Fatalf("got %v, want %v", rest, want)
	}
	for i := range want {
		if rest[i] != want[i] {
			t.Errorf("position %d: got %q, want %q", i, rest[i], want[i])
		}
	}
}

func TestListByScopeSince(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	for i, key := range []string{"old", "mid", "new"} {
		_, err := store.Put(ctx, memory.Record{
			Scope:     memory.ScopeLongTerm,
			Key:       key,
			Content:   key,
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		})
		if err != nil {
			t.Fatalf("Put %s: %v", key, err)
		}
	}

	page, err := store.ListByScope(ctx, memory.ScopeLongTerm, memory.ListOptions{
		Since: base.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("ListByScope: %v", err)
	}
	if len(page.Records) != 2 {
		t.Fatalf("got %d records, want 2", len(page.Records))
	}
	if page.Records[0].Key != "mid" || page.Records[1].Key != "new" {
		t.Errorf("got %s, %s", page.Records[0].Key, page.Records[1].Key)
	}
}

func TestScopesAreIsolated(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.Put(ctx, memory.Record{Scope: memory.ScopeDaily, Content: "daily note"}); err != nil {
		t.Fatalf("Put daily: %v", err)
	}
	if _, err := store.Put(ctx, memory.Record{Scope: memory.ScopeLongTerm, Key: "note", Content: "longterm note"}); err != nil {
		t.Fatalf("Put longterm: %v", err)
	}

	page, err := store.ListByScope(ctx, memory.ScopeDaily, memory.ListOptions{})
	if err != nil {
		t.Fatalf("ListByScope: %v", err)
	}
	if len(page.Records) != 1 || page.Records[0].Content != "daily note" {
		t.Errorf("daily listing leaked across scopes: %+v", page.Records)
	}
}

func TestPingAfterRootRemoved(t *testing.T) {
	root := t.TempDir()
	store, err := Open(root)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := store.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	if err := os.RemoveAll(root); err != nil {
		t.Fatalf("RemoveAll: %v", err)
	}
	if err := store.Ping(context.Background()); !errors.Is(err, memory.ErrUnavailable) {
		t.Errorf("got %v, want ErrUnavailable", err)
	}
}
