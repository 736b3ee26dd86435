// Package checkpoint persists apply-engine progress so an interrupted run
// can resume without re-executing completed operations. One checkpoint
// file exists per profile; it is deleted when a plan finishes cleanly.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"lingsync/internal/logging"
)

// Checkpoint records how far an apply run has progressed.
//
// LastProcessedIndex is the cursor into the canonicalized (re-ordered)
// operation sequence. CompletedOps holds stable operation identifiers
// already executed, so a resume with a shifted index base still skips
// re-application. Fields are declared in sorted-key order; the file is
// written with sorted keys.
type Checkpoint struct {
	CompletedOps       []string `json:"completed_ops"`
	LastProcessedIndex int      `json:"last_processed_index"`
	RunID              string   `json:"run_id"`
}

// Store reads and writes per-profile checkpoint files in a directory.
type Store struct {
	dir string
}

// NewStore creates a store rooted at dir. An empty dir means the current
// working directory.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Path returns the checkpoint file path for a profile.
func (s *Store) Path(profileName string) string {
	name := fmt.Sprintf(".lingq_sync_checkpoint_%s.json", profileName)
	if s.dir == "" {
		return name
	}
	return filepath.Join(s.dir, name)
}

// Load reads the checkpoint for a profile. A missing or malformed file
// yields (nil, nil): a bad checkpoint means "start over", never a fatal
// error.
func (s *Store) Load(profileName string) (*Checkpoint, error) {
	path := s.Path(profileName)

	// #nosec G304 - path is derived from the profile name within the store dir
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		logging.Warn("discarding malformed checkpoint",
			logging.Profile(profileName),
			logging.Err(err),
		)
		return nil, nil
	}
	if cp.RunID == "" {
		return nil, nil
	}
	if cp.LastProcessedIndex < 0 {
		cp.LastProcessedIndex = 0
	}
	if cp.CompletedOps == nil {
		cp.CompletedOps = []string{}
	}
	return &cp, nil
}

// Save writes the checkpoint atomically: serialize to a temp file in the
// same directory, then rename over the destination.
func (s *Store) Save(profileName string, cp *Checkpoint) error {
	path := s.Path(profileName)

	out := *cp
	if out.CompletedOps == nil {
		out.CompletedOps = []string{}
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}
	data = append(data, '\n')

	tmp := path + ".tmp"
	// #nosec G306 - checkpoints contain no secrets
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace checkpoint: %w", err)
	}
	return nil
}

// Clear removes the checkpoint for a profile. Missing files are fine.
func (s *Store) Clear(profileName string) error {
	err := os.Remove(s.Path(profileName))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove checkpoint: %w", err)
	}
	return nil
}
