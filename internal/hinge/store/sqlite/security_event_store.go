package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	dbpkg "github.com/hingelabs/hinge/server/internal/db"
	"github.com/hingelabs/hinge/server/internal/hinge/types"
)

type SecurityEventStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewSecurityEventStore(db *sql.DB, writer *dbpkg.Worker) *SecurityEventStore {
	return &SecurityEventStore{db: db, writer: writer}
}

// Insert is first-wins on event_id: a duplicate is reported back as
// inserted=false so the caller can skip downstream side effects.
func (s *SecurityEventStore) Insert(ctx context.Context, ev types.SecurityEvent) (bool, error) {
	recvMs := ev.ReceivedAt.UTC().UnixMilli()

	var payload any
	if len(ev.Payload) > 0 {
		payload = string(ev.Payload)
	}

	var inserted bool
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
INSERT INTO security_events(event_id, device_id, event_type, severity, received_at_ms, payload)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(event_id) DO NOTHING;
`, ev.EventID, ev.DeviceID, string(ev.EventType), string(ev.Severity), recvMs, payload)
		if err != nil {
			return fmt.Errorf("Insert event: %w", err)
		}
		n, _ := res.RowsAffected()
		inserted = n > 0
		return nil
	})
	return inserted, err
}

func (s *SecurityEventStore) ListByDevice(ctx context.Context, deviceID string, before time.Time, limit int) ([]types.SecurityEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	beforeMs := int64(1<<62 - 1)
	if !before.IsZero() {
		beforeMs = before.UTC().UnixMilli()
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT event_id, device_id, event_type, severity, received_at_ms, payload
FROM security_events
WHERE device_id = ? AND received_at_ms < ?
ORDER BY received_at_ms DESC
LIMIT ?;
`, deviceID, beforeMs, limit)
	if err != nil {
		return nil, fmt.Errorf("ListByDevice query: %w", err)
	}
	defer rows.Close()

	var out []types.SecurityEvent
	for rows.Next() {
		var ev types.SecurityEvent
		var recvMs int64
		var payload sql.NullString
		if err := rows.Scan(&ev.EventID, &ev.DeviceID, &ev.EventType, &ev.Severity, &recvMs, &payload); err != nil {
			return nil, fmt.Errorf("ListByDevice scan: %w", err)
		}
		ev.ReceivedAt = time.UnixMilli(recvMs).UTC()
		if payload.Valid {
			ev.Payload = []byte(payload.String)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
