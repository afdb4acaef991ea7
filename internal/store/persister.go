package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/raphaelgruber/maigret-api/internal/models"
)

// SnapshotVersion is the current durable format version.
const SnapshotVersion = 1

// Snapshot is the full durable state: every session keyed by identifier.
// It is rewritten in full on every mutation.
type Snapshot struct {
	Version  int                       `json:"version"`
	SavedAt  time.Time                 `json:"savedAt"`
	Sessions map[string]models.Session `json:"sessions"`
}

// Persister is a durable medium for snapshots.
type Persister interface {
	// Load returns the last saved snapshot, or an empty one if nothing was saved yet.
	Load(ctx context.Context) (Snapshot, error)
	// Save replaces the stored snapshot.
	Save(ctx context.Context, snap Snapshot) error
	Close() error
}

// EmptySnapshot returns a snapshot with no sessions in the current version.
func EmptySnapshot() Snapshot {
	return Snapshot{Version: SnapshotVersion, Sessions: map[string]models.Session{}}
}

// EncodeSnapshot serializes a snapshot for byte-oriented backends.
func EncodeSnapshot(snap Snapshot) ([]byte, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return data, nil
}

// DecodeSnapshot parses bytes produced by EncodeSnapshot.
func DecodeSnapshot(data []byte) (Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %w", ErrCorruptSnapshot, err)
	}
	if snap.Sessions == nil {
		snap.Sessions = map[string]models.Session{}
	}
	return snap, nil
}
