package types

import "time"

type CodeStatus string

const (
	CodePending CodeStatus = "pending"
	CodeUsed    CodeStatus = "used"
	CodeExpired CodeStatus = "expired"
	CodeRevoked CodeStatus = "revoked"
)

// EnrollmentCode authorizes binding one physical device to an account.
// pending -> used happens exactly once; expired and revoked are terminal.
type EnrollmentCode struct {
	Code           string     `json:"code"`
	TargetDeviceID string     `json:"target_device_id,omitempty"` // set at redemption
	IssuedAt       time.Time  `json:"issued_at"`
	ExpiresAt      time.Time  `json:"expires_at"`
	Status         CodeStatus `json:"status"`
}

// DeviceMeta is the device-supplied metadata presented at redemption.
type DeviceMeta struct {
	OwnerID          string `json:"owner_id"`
	FirmwareVersion  string `json:"firmware_version,omitempty"`
	HardwareRevision string `json:"hardware_revision,omitempty"`
}
