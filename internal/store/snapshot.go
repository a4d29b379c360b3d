package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"rpc-router-go/internal/rpc"
)

// snapshotSchemaVersion guards against reading a file written by an
// incompatible build.
const snapshotSchemaVersion = 1

// Snapshot is the persisted provider-stats file.
type Snapshot struct {
	SchemaVersion int                    `json:"schema_version"`
	WrittenAt     time.Time              `json:"written_at"`
	Providers     []rpc.ProviderSnapshot `json:"providers"`
}

// StatsStore writes provider stats to a JSON file atomically: the payload
// goes to a temp file in the same directory, then renames over the target,
// so a crash mid-write never corrupts the previous snapshot.
type StatsStore struct {
	dir  string
	path string
}

// NewStatsStore creates the store, creating dir as needed.
func NewStatsStore(dir string) (*StatsStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create stats directory: %w", err)
	}
	return &StatsStore{dir: dir, path: filepath.Join(dir, "providers.json")}, nil
}

// Save writes the snapshot.
func (s *StatsStore) Save(providers []rpc.ProviderSnapshot) error {
	snap := Snapshot{
		SchemaVersion: snapshotSchemaVersion,
		WrittenAt:     time.Now().UTC(),
		Providers:     providers,
	}
	payload, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, "providers-*.json.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close snapshot: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}
	return nil
}

// Load reads the last snapshot. A missing file is not an error; the caller
// gets an empty slice.
func (s *StatsStore) Load() ([]rpc.ProviderSnapshot, error) {
	payload, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	if snap.SchemaVersion != snapshotSchemaVersion {
		return nil, fmt.Errorf("unsupported snapshot schema version: %d", snap.SchemaVersion)
	}
	return snap.Providers, nil
}
