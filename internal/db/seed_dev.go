package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type SeedDevOptions struct {
	// DeviceSecret is the HMAC key assigned to the starter device so a dev
	// can sign telemetry by hand. Defaults to "dev-secret" if empty.
	DeviceSecret []byte
}

// SeedDev creates a single enrolled device for local development so the
// command and telemetry paths work without going through enrollment first.
func SeedDev(ctx context.Context, db *sql.DB, opt SeedDevOptions) error {
	now := time.Now().UTC().UnixMilli()

	secret := opt.DeviceSecret
	if len(secret) == 0 {
		secret = []byte("dev-secret")
	}

	if _, err := db.ExecContext(ctx, `
INSERT INTO devices(device_id, owner_id, firmware_version, hardware_revision, secret, enrolled_at_ms)
VALUES ('hinge-dev-001', 'owner-dev', '0.0.0-dev', 'rev-a', ?, ?)
ON CONFLICT(device_id) DO NOTHING;`, secret, now); err != nil {
		return fmt.Errorf("seed device hinge-dev-001: %w", err)
	}

	return nil
}
