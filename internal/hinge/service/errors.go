package service

import "errors"

// Failure modes surfaced to callers. Validation and invariant errors are
// never retried; transient conditions are retried inside the dispatcher
// and only surface after its backoff policy is exhausted.
var (
	// Enrollment
	ErrCodeNotFound    = errors.New("enrollment code not found")
	ErrCodeExpired     = errors.New("enrollment code expired")
	ErrCodeAlreadyUsed = errors.New("enrollment code already used")
	ErrInvalidState    = errors.New("operation not valid in current state")

	// Commands
	ErrDeviceUnknown  = errors.New("device not enrolled")
	ErrDeviceBusy     = errors.New("device has a command in flight")
	ErrDeviceOffline  = errors.New("device offline")
	ErrTicketNotFound = errors.New("ticket not found")
	ErrInvalidCommand = errors.New("invalid command type")
	ErrCancelRaced    = errors.New("ticket reached a terminal state before cancel")

	// Telemetry
	ErrBadSignature     = errors.New("telemetry signature invalid")
	ErrMalformedPayload = errors.New("telemetry payload malformed")

	// Audit. Fatal: write paths that depend on the audit log stay down
	// until an operator intervenes.
	ErrChainCorrupt = errors.New("audit chain verification failed")
)
