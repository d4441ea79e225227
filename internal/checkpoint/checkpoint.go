// Package checkpoint persists the indexer's progress record atomically.
//
// The on-disk format is a single JSON object with a trailing newline:
//
//	{"lastProcessedBlock": 123, "pendingAgentIds": ["7", "42"]}
//
// Writes go to a sibling temporary file followed by an atomic rename, so a
// reader always sees a complete prior or complete new version.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Checkpoint records the highest block whose events have been folded in and
// the agents deferred to the next cycle by the batch-size cap.
// A nil LastProcessedBlock means no cycle has completed yet.
type Checkpoint struct {
	LastProcessedBlock *uint64  `json:"lastProcessedBlock"`
	PendingAgentIDs    []string `json:"pendingAgentIds"`
}

// Store reads and writes a checkpoint file.
type Store struct {
	path string
}

// NewStore returns a store backed by the file at path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load reads the checkpoint. A missing file yields the zero checkpoint.
// Pending IDs are sanitized: non-numeric, negative, and duplicate entries are
// dropped, preserving first-seen order.
func (s *Store) Load() (Checkpoint, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Checkpoint{PendingAgentIDs: []string{}}, nil
	}
	if err != nil {
		return Checkpoint{}, fmt.Errorf("checkpoint: read %s: %w", s.path, err)
	}

	var raw struct {
		LastProcessedBlock *uint64 `json:"lastProcessedBlock"`
		PendingAgentIDs    []any   `json:"pendingAgentIds"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Checkpoint{}, fmt.Errorf("checkpoint: parse %s: %w", s.path, err)
	}

	return Checkpoint{
		LastProcessedBlock: raw.LastProcessedBlock,
		PendingAgentIDs:    sanitizeIDs(raw.PendingAgentIDs),
	}, nil
}

// Save writes cp via temp file + atomic rename.
func (s *Store) Save(cp Checkpoint) error {
	if cp.PendingAgentIDs == nil {
		cp.PendingAgentIDs = []string{}
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("checkpoint: marshal: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("checkpoint: create temp: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("checkpoint: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("checkpoint: close temp: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("checkpoint: rename: %w", err)
	}
	return nil
}

// sanitizeIDs keeps decimal strings only, first occurrence wins. Numeric JSON
// entries are accepted when they are non-negative integers.
func sanitizeIDs(raw []any) []string {
	out := []string{}
	seen := make(map[string]bool, len(raw))
	for _, v := range raw {
		var id string
		switch x := v.(type) {
		case string:
			id = x
		case float64:
			if x < 0 || x != float64(uint64(x)) {
				continue
			}
			id = fmt.Sprintf("%d", uint64(x))
		default:
			continue
		}
		if !isDecimal(id) || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func isDecimal(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
