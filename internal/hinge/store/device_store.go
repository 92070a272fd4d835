package store

import (
	"context"

	"github.com/hingelabs/hinge/server/internal/hinge/types"
)

// DeviceStore owns the Device records created at enrollment. Devices are
// never deleted; every other component references them by id only.
type DeviceStore interface {
	// Create inserts a new device. Returns ErrDuplicate if the id exists.
	Create(ctx context.Context, dev types.Device) error

	// Get returns the device or ErrNotFound.
	Get(ctx context.Context, deviceID string) (types.Device, error)

	// UpdateFromTelemetry refreshes the firmware/hardware fields, which
	// only the device itself may change. Empty values leave the stored
	// field untouched.
	UpdateFromTelemetry(ctx context.Context, deviceID, firmwareVersion, hardwareRevision string) error
}
