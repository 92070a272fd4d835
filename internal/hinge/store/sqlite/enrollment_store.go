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

type EnrollmentStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewEnrollmentStore(db *sql.DB, writer *dbpkg.Worker) *EnrollmentStore {
	return &EnrollmentStore{db: db, writer: writer}
}

func (s *EnrollmentStore) Insert(ctx context.Context, code types.EnrollmentCode) error {
	issuedMs := code.IssuedAt.UTC().UnixMilli()
	expiresMs := code.ExpiresAt.UTC().UnixMilli()

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx,
			`SELECT 1 FROM enrollment_codes WHERE code = ?;`, code.Code,
		).Scan(&exists)
		if err == nil {
			return store.ErrDuplicate
		}
		if err != sql.ErrNoRows {
			return fmt.Errorf("Insert check code: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
INSERT INTO enrollment_codes(code, status, issued_at_ms, expires_at_ms)
VALUES (?, ?, ?, ?);
`, code.Code, string(code.Status), issuedMs, expiresMs); err != nil {
			return fmt.Errorf("Insert code: %w", err)
		}
		return nil
	})
}

func (s *EnrollmentStore) Get(ctx context.Context, code string) (types.EnrollmentCode, error) {
	var c types.EnrollmentCode
	var target sql.NullString
	var status string
	var issuedMs, expiresMs int64

	err := s.db.QueryRowContext(ctx, `
SELECT code, target_device_id, status, issued_at_ms, expires_at_ms
FROM enrollment_codes
WHERE code = ?;
`, code).Scan(&c.Code, &target, &status, &issuedMs, &expiresMs)

	if err == sql.ErrNoRows {
		return types.EnrollmentCode{}, store.ErrNotFound
	}
	if err != nil {
		return types.EnrollmentCode{}, fmt.Errorf("Get code: %w", err)
	}

	c.Status = types.CodeStatus(status)
	if target.Valid {
		c.TargetDeviceID = target.String
	}
	c.IssuedAt = time.UnixMilli(issuedMs).UTC()
	c.ExpiresAt = time.UnixMilli(expiresMs).UTC()
	return c, nil
}

// Redeem flips the code to used and creates the device in one transaction.
// The guarded UPDATE only matches a pending, unexpired row, so exactly one
// concurrent redeemer can win even across processes, and a redeem racing
// the expiry instant cannot consume a dead code.
func (s *EnrollmentStore) Redeem(ctx context.Context, code string, dev types.Device, now time.Time) error {
	enrolledMs := dev.EnrolledAt.UTC().UnixMilli()
	nowMs := now.UTC().UnixMilli()

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
UPDATE enrollment_codes
SET status = 'used', target_device_id = ?
WHERE code = ? AND status = 'pending' AND expires_at_ms > ?;
`, dev.DeviceID, code, nowMs)
		if err != nil {
			return fmt.Errorf("Redeem update code: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			var exists int
			err := tx.QueryRowContext(ctx,
				`SELECT 1 FROM enrollment_codes WHERE code = ?;`, code,
			).Scan(&exists)
			if err == sql.ErrNoRows {
				return store.ErrNotFound
			}
			if err != nil {
				return fmt.Errorf("Redeem check code: %w", err)
			}
			return store.ErrConflict
		}

		if _, err := tx.ExecContext(ctx, `
INSERT INTO devices(device_id, owner_id, firmware_version, hardware_revision, secret, enrolled_at_ms)
VALUES (?, ?, ?, ?, ?, ?);
`, dev.DeviceID, dev.OwnerID, dev.FirmwareVersion, dev.HardwareRevision, dev.Secret, enrolledMs); err != nil {
			return fmt.Errorf("Redeem insert device: %w", err)
		}
		return nil
	})
}

func (s *EnrollmentStore) Revoke(ctx context.Context, code string) error {
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
UPDATE enrollment_codes
SET status = 'revoked'
WHERE code = ? AND status = 'pending';
`, code)
		if err != nil {
			return fmt.Errorf("Revoke update code: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			var exists int
			err := tx.QueryRowContext(ctx,
				`SELECT 1 FROM enrollment_codes WHERE code = ?;`, code,
			).Scan(&exists)
			if err == sql.ErrNoRows {
				return store.ErrNotFound
			}
			if err != nil {
				return fmt.Errorf("Revoke check code: %w", err)
			}
			return store.ErrConflict
		}
		return nil
	})
}

// ExpirePending uses the partial index on pending codes for the sweep.
func (s *EnrollmentStore) ExpirePending(ctx context.Context, now time.Time) (int64, error) {
	nowMs := now.UTC().UnixMilli()

	var flipped int64
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
UPDATE enrollment_codes
SET status = 'expired'
WHERE status = 'pending' AND expires_at_ms <= ?;
`, nowMs)
		if err != nil {
			return fmt.Errorf("ExpirePending: %w", err)
		}
		flipped, _ = res.RowsAffected()
		return nil
	})
	return flipped, err
}
