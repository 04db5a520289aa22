// Package persistence stores the append-only event log and periodic state
// snapshots in Postgres via lib/pq. Writes are batched by the worker; reads
// recover the ledger at startup (latest snapshot, then replay).
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"LendLedger/internal/event"
)

// EventLogWriter batch-inserts event rows. Multi-row INSERT with
// ON CONFLICT DO NOTHING keeps retried batches idempotent: the sequence is
// the primary key, so a replayed row is a no-op.
type EventLogWriter struct {
	db *sql.DB
}

func NewEventLogWriter(db *sql.DB) *EventLogWriter {
	return &EventLogWriter{db: db}
}

// WriteBatch writes a batch of event rows inside the given transaction.
func (w *EventLogWriter) WriteBatch(ctx context.Context, tx *sql.Tx, rows []event.Row) error {
	if len(rows) == 0 {
		return nil
	}

	query := `INSERT INTO lend_events
		(sequence, event_id, event_type, timestamp, payload)
		VALUES `

	values := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*5)

	for i, r := range rows {
		base := i * 5
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5,
		))
		args = append(args, r.Sequence, r.EventID, r.Type, r.Timestamp, []byte(r.Payload))
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// LoadEventsFrom reads event rows at or after fromSequence in order, up to
// limit, for startup replay.
func (w *EventLogWriter) LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]event.Row, error) {
	rows, err := w.db.QueryContext(ctx, `
		SELECT sequence, event_id, event_type, timestamp, payload
		FROM lend_events
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []event.Row
	for rows.Next() {
		var r event.Row
		var payload []byte
		if err := rows.Scan(&r.Sequence, &r.EventID, &r.Type, &r.Timestamp, &payload); err != nil {
			return nil, err
		}
		r.Payload = payload
		out = append(out, r)
	}
	return out, rows.Err()
}

// LatestSequence returns the highest stored sequence, or 0 for an empty log.
func (w *EventLogWriter) LatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := w.db.QueryRowContext(ctx, `SELECT MAX(sequence) FROM lend_events`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil
	}
	return seq.Int64, nil
}
