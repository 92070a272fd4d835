package store

import (
	"context"
	"time"

	"github.com/hingelabs/hinge/server/internal/hinge/types"
)

// EnrollmentStore persists enrollment codes and performs the one store
// operation that must be atomic across two record families: redeeming a
// code and creating its device.
type EnrollmentStore interface {
	// Insert stores a new pending code. Returns ErrDuplicate if the code
	// value is already present.
	Insert(ctx context.Context, code types.EnrollmentCode) error

	// Get returns the code record or ErrNotFound.
	Get(ctx context.Context, code string) (types.EnrollmentCode, error)

	// Redeem atomically flips the code from pending to used, binds it to
	// dev.DeviceID, and creates the device record. Exactly one concurrent
	// caller can win; losers get ErrConflict, as does any attempt against
	// a code at or past its expiry, even one the sweeper has not flipped
	// yet. Returns ErrNotFound for an unknown code.
	Redeem(ctx context.Context, code string, dev types.Device, now time.Time) error

	// Revoke flips pending -> revoked. Returns ErrConflict unless the
	// code is currently pending, ErrNotFound if unknown.
	Revoke(ctx context.Context, code string) error

	// ExpirePending flips every pending code whose expires_at is at or
	// before now to expired, returning how many were flipped.
	ExpirePending(ctx context.Context, now time.Time) (int64, error)
}
