package types

import "time"

// Device is the durable registry record for an enrolled hinge controller.
// Identity fields are immutable after enrollment; firmware and hardware
// fields are updated only from state-report telemetry sent by the device
// itself.
type Device struct {
	DeviceID         string    `json:"device_id"`
	OwnerID          string    `json:"owner_id"`
	FirmwareVersion  string    `json:"firmware_version,omitempty"`
	HardwareRevision string    `json:"hardware_revision,omitempty"`
	EnrolledAt       time.Time `json:"enrolled_at"`

	// Secret is the per-device HMAC-SHA256 key minted at enrollment.
	// It is returned to the caller exactly once, in the redeem response,
	// and never serialized afterwards.
	Secret []byte `json:"-"`
}
