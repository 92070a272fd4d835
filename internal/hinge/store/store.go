package store

import "errors"

// Sentinel errors shared by every store implementation. Services translate
// these into their own failure modes at the boundary.
var (
	// ErrNotFound means the requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicate means an insert collided with an existing primary key.
	ErrDuplicate = errors.New("duplicate record")

	// ErrConflict means a guarded update found the record in a state the
	// caller did not expect (lost a compare-and-set race).
	ErrConflict = errors.New("record state conflict")

	// ErrDeviceBusy means a ticket insert found a non-terminal ticket
	// already open for the same device.
	ErrDeviceBusy = errors.New("device has an unresolved ticket")
)
