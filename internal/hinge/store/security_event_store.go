package store

import (
	"context"
	"time"

	"github.com/hingelabs/hinge/server/internal/hinge/types"
)

// SecurityEventStore is an insert-only log of device security events,
// idempotent on event_id so at-least-once transport delivery cannot
// double-apply effects.
type SecurityEventStore interface {
	// Insert stores the event if its event_id is new. Returns
	// inserted=false (and no error) for a duplicate; duplicates must not
	// trigger any downstream side effect.
	Insert(ctx context.Context, ev types.SecurityEvent) (inserted bool, err error)

	// ListByDevice returns up to limit events for the device received
	// strictly before the given time, newest first. A zero before means
	// "from the latest".
	ListByDevice(ctx context.Context, deviceID string, before time.Time, limit int) ([]types.SecurityEvent, error)
}
