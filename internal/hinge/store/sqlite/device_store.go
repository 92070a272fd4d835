package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	dbpkg "github.com/hingelabs/hinge/server/internal/db"
	"github.com/hingelabs/hinge/server/internal/hinge/store"
	"github.com/hingelabs/hinge/server/internal/hinge/types"
)

type DeviceStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewDeviceStore(db *sql.DB, writer *dbpkg.Worker) *DeviceStore {
	return &DeviceStore{db: db, writer: writer}
}

func (s *DeviceStore) Create(ctx context.Context, dev types.Device) error {
	enrolledMs := dev.EnrolledAt.UTC().UnixMilli()

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx,
			`SELECT 1 FROM devices WHERE device_id = ?;`, dev.DeviceID,
		).Scan(&exists)
		if err == nil {
			return store.ErrDuplicate
		}
		if err != sql.ErrNoRows {
			return fmt.Errorf("Create check device: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
INSERT INTO devices(device_id, owner_id, firmware_version, hardware_revision, secret, enrolled_at_ms)
VALUES (?, ?, ?, ?, ?, ?);
`, dev.DeviceID, dev.OwnerID, dev.FirmwareVersion, dev.HardwareRevision, dev.Secret, enrolledMs); err != nil {
			return fmt.Errorf("Create insert device: %w", err)
		}
		return nil
	})
}

func (s *DeviceStore) Get(ctx context.Context, deviceID string) (types.Device, error) {
	var dev types.Device
	var enrolledMs int64

	err := s.db.QueryRowContext(ctx, `
SELECT device_id, owner_id, firmware_version, hardware_revision, secret, enrolled_at_ms
FROM devices
WHERE device_id = ?;
`, deviceID).Scan(&dev.DeviceID, &dev.OwnerID, &dev.FirmwareVersion, &dev.HardwareRevision, &dev.Secret, &enrolledMs)

	if err == sql.ErrNoRows {
		return types.Device{}, store.ErrNotFound
	}
	if err != nil {
		return types.Device{}, fmt.Errorf("Get device: %w", err)
	}

	dev.EnrolledAt = time.UnixMilli(enrolledMs).UTC()
	return dev, nil
}

func (s *DeviceStore) UpdateFromTelemetry(ctx context.Context, deviceID, firmwareVersion, hardwareRevision string) error {
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
UPDATE devices
SET firmware_version  = CASE WHEN ? != '' THEN ? ELSE firmware_version END,
    hardware_revision = CASE WHEN ? != '' THEN ? ELSE hardware_revision END
WHERE device_id = ?;
`, firmwareVersion, firmwareVersion, hardwareRevision, hardwareRevision, deviceID)
		if err != nil {
			return fmt.Errorf("UpdateFromTelemetry: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return store.ErrNotFound
		}
		return nil
	})
}
