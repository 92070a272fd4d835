package store

import (
	"context"
	"time"

	"github.com/hingelabs/hinge/server/internal/hinge/types"
)

// StateStore holds the single last-known-state row per device. Apply is
// the only writer and implements the sequence-monotonicity rule: a report
// whose sequence is not strictly greater than the stored one is dropped.
type StateStore interface {
	// Get returns the last applied state or ErrNotFound if the device has
	// never reported.
	Get(ctx context.Context, deviceID string) (types.DeviceState, error)

	// Apply upserts the state row if report.Sequence is strictly greater
	// than the stored sequence. Returns applied=false (and no error) for
	// an out-of-order report.
	Apply(ctx context.Context, deviceID string, report types.StateReport, receivedAt time.Time) (applied bool, err error)
}
