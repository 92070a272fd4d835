package types

import "time"

type LockState string

const (
	LockLocked   LockState = "locked"
	LockUnlocked LockState = "unlocked"
	LockUnknown  LockState = "unknown"
)

type DoorState string

const (
	DoorOpen    DoorState = "open"
	DoorClosed  DoorState = "closed"
	DoorUnknown DoorState = "unknown"
)

// DeviceState is the single mutable last-known-state row per device.
// Sequence is the device-supplied monotonic counter; a report is applied
// only if its sequence is strictly greater than the stored one.
//
// Online/offline is never stored here. It is derived at read time from
// UpdatedAt against the heartbeat window, so a stale "online" flag cannot
// survive a process restart.
type DeviceState struct {
	DeviceID       string    `json:"device_id"`
	LockState      LockState `json:"lock_state"`
	DoorState      DoorState `json:"door_state"`
	TamperDetected bool      `json:"tamper_detected"`
	RSSIDbm        int       `json:"rssi_dbm"`
	BatteryLevel   *int      `json:"battery_level,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
	Sequence       uint64    `json:"sequence"`
}

// StateReport is a device-published state snapshot as it arrives on the
// wire (inside a telemetry envelope or on state/{device_id}).
type StateReport struct {
	Sequence         uint64    `json:"sequence"`
	LockState        LockState `json:"lock_state"`
	DoorState        DoorState `json:"door_state"`
	TamperDetected   bool      `json:"tamper_detected"`
	RSSIDbm          int       `json:"rssi_dbm"`
	BatteryLevel     *int      `json:"battery_level,omitempty"`
	FirmwareVersion  string    `json:"firmware_version,omitempty"`
	HardwareRevision string    `json:"hardware_revision,omitempty"`
}
