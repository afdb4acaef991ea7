package db

import (
	"context"
	"fmt"
	"time"

	"github.com/raphaelgruber/maigret-api/internal/store"
	"github.com/surrealdb/surrealdb.go"
)

const snapshotID = "sessions"

type snapshotRow struct {
	Version int    `json:"version"`
	Data    string `json:"data"`
}

// SnapshotPersister stores the session snapshot as a single SurrealDB record.
// It implements store.Persister.
type SnapshotPersister struct {
	client *Client
}

var _ store.Persister = (*SnapshotPersister)(nil)

// NewSnapshotPersister ensures the schema and returns a persister.
func NewSnapshotPersister(ctx context.Context, client *Client) (*SnapshotPersister, error) {
	if err := client.InitSchema(ctx); err != nil {
		return nil, err
	}
	return &SnapshotPersister{client: client}, nil
}

// Load returns the saved snapshot, or an empty one when none exists.
func (p *SnapshotPersister) Load(ctx context.Context) (store.Snapshot, error) {
	results, err := surrealdb.Query[[]snapshotRow](ctx, p.client.db, `
		SELECT version, data FROM type::record("session_snapshot", $id)
	`, map[string]any{"id": snapshotID})
	if err != nil {
		return store.Snapshot{}, fmt.Errorf("select snapshot: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return store.EmptySnapshot(), nil
	}
	return store.DecodeSnapshot([]byte((*results)[0].Result[0].Data))
}

// Save upserts the snapshot record.
func (p *SnapshotPersister) Save(ctx context.Context, snap store.Snapshot) error {
	data, err := store.EncodeSnapshot(snap)
	if err != nil {
		return err
	}
	savedAt := snap.SavedAt
	if savedAt.IsZero() {
		savedAt = time.Now()
	}

	_, err = surrealdb.Query[any](ctx, p.client.db, `
		UPSERT type::record("session_snapshot", $id) SET
			version = $version,
			data = $data,
			sessions = $sessions,
			saved_at = type::datetime($saved_at)
	`, map[string]any{
		"id":       snapshotID,
		"version":  snap.Version,
		"data":     string(data),
		"sessions": len(snap.Sessions),
		"saved_at": savedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("upsert snapshot: %w", wrapQueryError(err))
	}
	return nil
}

// Close closes the underlying connection.
func (p *SnapshotPersister) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return p.client.Close(ctx)
}
