package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"LendLedger/internal/core"
)

// SnapshotStore saves and loads full ledger snapshots. A warm restart loads
// the latest snapshot and replays events from its sequence forward; a cold
// restart replays the full log.
type SnapshotStore struct {
	db *sql.DB
}

func NewSnapshotStore(db *sql.DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

// Save persists a snapshot keyed by its sequence. Re-saving the same
// sequence overwrites the stored data.
func (s *SnapshotStore) Save(ctx context.Context, snap core.SnapshotState) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO lend_snapshots (snapshot_id, sequence, data, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, created_at = $4
	`, uuid.New(), snap.Sequence, data, time.Now().UTC())
	return err
}

// LoadLatest returns the most recent snapshot, or nil for a cold start.
func (s *SnapshotStore) LoadLatest(ctx context.Context) (*core.SnapshotState, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT data FROM lend_snapshots
		ORDER BY sequence DESC
		LIMIT 1
	`)

	var data []byte
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap core.SnapshotState
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}
