package filestore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/recallhq/recall/internal/memory"
)

// Records are markdown files with a small front-matter header:
//
//	---
//	id: 6b3f…
//	created_at: 2026-08-27T09:15:00.000000001Z
//	updated_at: 2026-08-27T09:15:00.000000001Z
//	---
//	<content>
//
// Tombstoned records carry an extra "deleted: true" line.

const frontMatterDelim = "---"

// errTombstoned marks a record that exists on disk but has been deleted.
var errTombstoned = errors.New("record tombstoned")

func readRecord(path string, scope memory.Scope, key string) (memory.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return memory.Record{}, err
	}

	text := string(data)
	if !strings.HasPrefix(text, frontMatterDelim+"\n") {
		return memory.Record{}, fmt.Errorf("missing front matter in %s", filepath.Base(path))
	}
	rest := text[len(frontMatterDelim)+1:]
	header, content, ok := strings.Cut(rest, "\n"+frontMatterDelim+"\n")
	if !ok {
		return memory.Record{}, fmt.Errorf("unterminated front matter in %s", filepath.Base(path))
	}

	rec := memory.Record{
		Scope:           scope,
		Key:             key,
		EmbeddingStatus: memory.StatusPending,
	}
	deleted := false
	for _, line := range strings.Split(header, "\n") {
		field, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.TrimSpace(field) {
		case "id":
			rec.ID = value
		case "created_at":
			rec.CreatedAt, err = time.Parse(time.RFC3339Nano, value)
			if err != nil {
				return memory.Record{}, fmt.Errorf("parsing created_at: %w", err)
			}
		case "updated_at":
			rec.UpdatedAt, err = time.Parse(time.RFC3339Nano, value)
			if err != nil {
				return memory.Record{}, fmt.Errorf("parsing updated_at: %w", err)
			}
		case "deleted":
			deleted = value == "true"
		}
	}
	if rec.ID == "" || rec.CreatedAt.IsZero() {
		return memory.Record{}, fmt.Errorf("incomplete front matter in %s", filepath.Base(path))
	}
	rec.Content = content
	if deleted {
		return rec, errTombstoned
	}
	return rec, nil
}

// writeRecord serializes the record and atomically replaces the target
// file: write to a temp file in the same directory, fsync, then rename.
// A concurrent reader sees either the old record or the new one, never a
// partial write.
func writeRecord(path string, rec memory.Record, deleted bool) error {
	var b strings.Builder
	b.WriteString(frontMatterDelim + "\n")
	fmt.Fprintf(&b, "id: %s\n", rec.ID)
	fmt.Fprintf(&b, "created_at: %s\n", rec.CreatedAt.UTC().Format(time.RFC3339Nano))
	fmt.Fprintf(&b, "updated_at: %s\n", rec.UpdatedAt.UTC().Format(time.RFC3339Nano))
	if deleted {
		b.WriteString("deleted: true\n")
	}
	b.WriteString(frontMatterDelim + "\n")
	b.WriteString(rec.Content)

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(b.String()); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("renaming into place: %w", err)
	}
	return nil
}
