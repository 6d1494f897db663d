package rental

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"labScope/internal/model"
)

// Cursor records the last block whose logs were fully dispatched, so a
// restarted watcher resumes where it stopped instead of skipping to the
// head and missing the gap.
type Cursor struct {
	Contract           string `json:"contract"`
	LastProcessedBlock uint64 `json:"last_processed_block"`
	UpdatedAt          string `json:"updated_at"`
}

// CursorStore persists the watcher cursor as a small JSON file. An
// empty path disables persistence entirely.
type CursorStore struct {
	path string
}

func NewCursorStore(path string) *CursorStore {
	return &CursorStore{path: path}
}

// Load returns the stored cursor if one exists for the given contract.
// A cursor written for a different contract is ignored rather than
// resumed from.
func (c *CursorStore) Load(contract string) (Cursor, bool, error) {
	if c == nil || c.path == "" {
		return Cursor{}, false, nil
	}

	data, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Cursor{}, false, nil
		}
		return Cursor{}, false, fmt.Errorf("read cursor: %w", err)
	}

	var cur Cursor
	if err := json.Unmarshal(data, &cur); err != nil {
		return Cursor{}, false, fmt.Errorf("parse cursor: %w", err)
	}
	if !strings.EqualFold(cur.Contract, contract) {
		return Cursor{}, false, nil
	}

	return cur, true, nil
}

// Save writes the cursor atomically via a temp file rename.
func (c *CursorStore) Save(contract string, lastProcessed uint64) error {
	if c == nil || c.path == "" {
		return nil
	}

	dir := filepath.Dir(c.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create cursor dir: %w", err)
		}
	}

	cur := Cursor{
		Contract:           model.NormalizeAddress(contract),
		LastProcessedBlock: lastProcessed,
		UpdatedAt:          time.Now().UTC().Format(time.RFC3339Nano),
	}
	data, err := json.Marshal(cur)
	if err != nil {
		return fmt.Errorf("marshal cursor: %w", err)
	}

	tmpPath := c.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write cursor tmp: %w", err)
	}
	if err := os.Rename(tmpPath, c.path); err != nil {
		return fmt.Errorf("rename cursor: %w", err)
	}

	return nil
}
