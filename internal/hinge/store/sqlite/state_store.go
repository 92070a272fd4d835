package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	dbpkg "github.com/hingelabs/hinge/server/internal/db"
	"github.com/hingelabs/hinge/server/internal/hinge/store"
	"github.com/hingelabs/hinge/server/internal/hinge/types"
)

type StateStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewStateStore(db *sql.DB, writer *dbpkg.Worker) *StateStore {
	return &StateStore{db: db, writer: writer}
}

func (s *StateStore) Get(ctx context.Context, deviceID string) (types.DeviceState, error) {
	var st types.DeviceState
	var tamper int
	var battery sql.NullInt64
	var updatedMs int64

	err := s.db.QueryRowContext(ctx, `
SELECT device_id, lock_state, door_state, tamper_detected, rssi_dbm, battery_level, sequence, updated_at_ms
FROM device_states
WHERE device_id = ?;
`, deviceID).Scan(&st.DeviceID, &st.LockState, &st.DoorState, &tamper, &st.RSSIDbm, &battery, &st.Sequence, &updatedMs)

	if err == sql.ErrNoRows {
		return types.DeviceState{}, store.ErrNotFound
	}
	if err != nil {
		return types.DeviceState{}, fmt.Errorf("Get state: %w", err)
	}

	st.TamperDetected = tamper == 1
	if battery.Valid {
		v := int(battery.Int64)
		st.BatteryLevel = &v
	}
	st.UpdatedAt = time.UnixMilli(updatedMs).UTC()
	return st, nil
}

// Apply upserts under the sequence guard: the conflict branch only fires
// when the incoming sequence is strictly greater, so out-of-order reports
// leave the row untouched.
func (s *StateStore) Apply(ctx context.Context, deviceID string, report types.StateReport, receivedAt time.Time) (bool, error) {
	// database/sql rejects uint64 values above the int64 range; ingest
	// validates this at parse time, so hitting it here is a caller bug.
	if report.Sequence > math.MaxInt64 {
		return false, fmt.Errorf("Apply state: sequence %d out of int64 range", report.Sequence)
	}
	recvMs := receivedAt.UTC().UnixMilli()

	var tamper int
	if report.TamperDetected {
		tamper = 1
	}
	var battery any
	if report.BatteryLevel != nil {
		battery = *report.BatteryLevel
	}

	var applied bool
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
INSERT INTO device_states(device_id, lock_state, door_state, tamper_detected, rssi_dbm, battery_level, sequence, updated_at_ms)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(device_id) DO UPDATE SET
  lock_state      = excluded.lock_state,
  door_state      = excluded.door_state,
  tamper_detected = excluded.tamper_detected,
  rssi_dbm        = excluded.rssi_dbm,
  battery_level   = excluded.battery_level,
  sequence        = excluded.sequence,
  updated_at_ms   = excluded.updated_at_ms
WHERE excluded.sequence > device_states.sequence;
`, deviceID, string(report.LockState), string(report.DoorState), tamper, report.RSSIDbm, battery, int64(report.Sequence), recvMs)
		if err != nil {
			return fmt.Errorf("Apply state: %w", err)
		}
		n, _ := res.RowsAffected()
		applied = n > 0
		return nil
	})
	return applied, err
}
