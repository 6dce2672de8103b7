package migrate

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/recallhq/recall/internal/memory"
)

// checkpointFile lives beside the source corpus so the checkpoint travels
// with the data it describes and a fresh destination never inherits a
// stale one.
const checkpointFile = ".migrate-checkpoint.json"

// scopeMark records the last successfully migrated (created_at, id) pair
// for one scope.
type scopeMark struct {
	CreatedAt time.Time `json:"created_at"`
	ID        string    `json:"id"`
}

type checkpoint struct {
	path   string
	Scopes map[memory.Scope]scopeMark `json:"scopes"`
}

func loadCheckpoint(sourceRoot string) (*checkpoint, error) {
	cp := &checkpoint{
		path:   filepath.Join(sourceRoot, checkpointFile),
		Scopes: make(map[memory.Scope]scopeMark),
	}
	data, err := os.ReadFile(cp.path)
	if errors.Is(err, os.ErrNotExist) {
		return cp, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading checkpoint: %w", err)
	}
	if err := json.Unmarshal(data, cp); err != nil {
		return nil, fmt.Errorf("parsing checkpoint: %w", err)
	}
	return cp, nil
}

// advance records progress for a scope and persists it with a temp-file
// rename, so a crash mid-write cannot corrupt the checkpoint.
func (cp *checkpoint) advance(scope memory.Scope, rec memory.Record) error {
	cp.Scopes[scope] = scopeMark{CreatedAt: rec.CreatedAt, ID: rec.ID}

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return err
	}
	tmp := cp.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing checkpoint: %w", err)
	}
	if err := os.Rename(tmp, cp.path); err != nil {
		return fmt.Errorf("renaming checkpoint: %w", err)
	}
	return nil
}

// cursor returns the resume cursor for a scope, or "" when the scope has
// no recorded progress.
func (cp *checkpoint) cursor(scope memory.Scope) string {
	mark, ok := cp.Scopes[scope]
	if !ok {
		return ""
	}
	return memory.EncodeCursor(mark.CreatedAt, mark.ID)
}
