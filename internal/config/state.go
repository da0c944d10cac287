package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// LocalState is the per-checkout state kept in .mpy_sync/state.json.
type LocalState struct {
	LastUpload *UploadSummary `json:"last_upload,omitempty"`
}

type UploadSummary struct {
	At          time.Time `json:"at"`
	Device      string    `json:"device"`
	Transferred int       `json:"transferred"`
	Skipped     int       `json:"skipped"`
	Failed      bool      `json:"failed,omitempty"`
}

// LocalStatePath returns the path to .mpy_sync/state.json under root.
func LocalStatePath(root string) string {
	return filepath.Join(root, StateDir, "state.json")
}

// LoadLocalState loads the local state, returning an empty one when absent.
func LoadLocalState(root string) (*LocalState, error) {
	data, err := os.ReadFile(LocalStatePath(root))
	if os.IsNotExist(err) {
		return &LocalState{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read local state: %w", err)
	}

	var st LocalState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("failed to parse local state: %w", err)
	}
	return &st, nil
}

// Save writes the local state under root.
func (st *LocalState) Save(root string) error {
	path := LocalStatePath(root)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create %s directory: %w", StateDir, err)
	}

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal local state: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write local state: %w", err)
	}
	return nil
}
