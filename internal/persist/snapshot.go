package persist

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rcliao/tiered-memory/internal/model"
)

// SnapshotVersion is the schema version of exported memory state. Imports
// with any other version are rejected wholesale.
const SnapshotVersion = 1

// Snapshot is the versioned, self-describing document produced by export
// and consumed by import. Plain JSON: no executable content.
type Snapshot struct {
	Version    int           `json:"version"`
	ExportedAt time.Time     `json:"exported_at"`
	ShortTerm  []*model.Item `json:"short_term"`
	Episodic   []*model.Item `json:"episodic"`
	Semantic   []*model.Item `json:"semantic"`
}

// EncodeSnapshot marshals a snapshot for transport or storage.
func EncodeSnapshot(s *Snapshot) ([]byte, error) {
	s.Version = SnapshotVersion
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("%w: marshal snapshot: %v", model.ErrPersistence, err)
	}
	return data, nil
}

// DecodeSnapshot parses and version-checks a snapshot. Corruption and
// version mismatch both fail before any state is touched.
func DecodeSnapshot(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: parse snapshot: %v", model.ErrPersistence, err)
	}
	if s.Version != SnapshotVersion {
		return nil, fmt.Errorf("%w: got version %d, want %d", model.ErrSnapshotVersion, s.Version, SnapshotVersion)
	}
	return &s, nil
}
