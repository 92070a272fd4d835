package types

import (
	"encoding/json"
	"time"
)

// CommandType is the closed set of commands a hinge controller understands.
// Adding a command means adding a constant here and handling it wherever
// the compiler flags the switch as non-exhaustive.
type CommandType string

const (
	CommandLock            CommandType = "LOCK"
	CommandUnlock          CommandType = "UNLOCK"
	CommandSetAutoRelock   CommandType = "SET_AUTO_RELOCK"
	CommandRequestSnapshot CommandType = "REQUEST_SNAPSHOT"
	CommandCancel          CommandType = "CANCEL"
)

// IsValid reports whether t is a command a caller may submit. CANCEL is
// dispatcher-internal and not submittable.
func (t CommandType) IsValid() bool {
	switch t {
	case CommandLock, CommandUnlock, CommandSetAutoRelock, CommandRequestSnapshot:
		return true
	}
	return false
}

type TicketStatus string

const (
	TicketIssued   TicketStatus = "ISSUED"
	TicketAcked    TicketStatus = "ACKED"
	TicketExecuted TicketStatus = "EXECUTED"
	TicketFailed   TicketStatus = "FAILED"
	TicketTimedOut TicketStatus = "TIMED_OUT"
)

// Terminal reports whether s is a final ticket status.
func (s TicketStatus) Terminal() bool {
	switch s {
	case TicketExecuted, TicketFailed, TicketTimedOut:
		return true
	}
	return false
}

// CanTransition reports whether the status machine permits s -> next.
// Legal paths: ISSUED->ACKED->EXECUTED, ISSUED->FAILED, ACKED->FAILED,
// ISSUED->TIMED_OUT, ACKED->TIMED_OUT. Terminal states never change.
func (s TicketStatus) CanTransition(next TicketStatus) bool {
	if s.Terminal() {
		return false
	}
	switch s {
	case TicketIssued:
		return next == TicketAcked || next == TicketExecuted ||
			next == TicketFailed || next == TicketTimedOut
	case TicketAcked:
		return next == TicketExecuted || next == TicketFailed || next == TicketTimedOut
	}
	return false
}

// CommandTicket is one idempotent unit of work: one command sent to one
// device. TicketID is the caller-supplied idempotency key.
type CommandTicket struct {
	TicketID      string          `json:"ticket_id"`
	DeviceID      string          `json:"device_id"`
	CommandType   CommandType     `json:"command_type"`
	Args          json.RawMessage `json:"args,omitempty"`
	IssuedAt      time.Time       `json:"issued_at"`
	Status        TicketStatus    `json:"status"`
	FailReason    string          `json:"fail_reason,omitempty"`
	AttemptCount  int             `json:"attempt_count"`
	LastAttemptAt time.Time       `json:"last_attempt_at"`
}

// CommandMessage is the payload the dispatcher publishes on cmd/{device_id}.
type CommandMessage struct {
	TicketID    string          `json:"ticket_id"`
	CommandType CommandType     `json:"command_type"`
	Args        json.RawMessage `json:"args,omitempty"`
	IssuedAt    time.Time       `json:"issued_at"`
}
