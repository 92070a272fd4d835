package types

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// TelemetryKind discriminates inbound telemetry payloads. The tag lives in
// the payload itself, never in the topic the message arrived on, so a
// misrouted message cannot be misclassified.
type TelemetryKind string

const (
	TelemetryStateReport   TelemetryKind = "state_report"
	TelemetryAck           TelemetryKind = "ack"
	TelemetryResult        TelemetryKind = "result"
	TelemetrySecurityEvent TelemetryKind = "security_event"
)

// Telemetry is the parsed form of one signed device payload. Exactly one
// of the pointer fields is set, according to Kind.
type Telemetry struct {
	Kind     TelemetryKind `json:"type"`
	DeviceID string        `json:"device_id"`

	State    *StateReport    `json:"state,omitempty"`
	Ack      *CommandAck     `json:"ack,omitempty"`
	Result   *CommandResult  `json:"result,omitempty"`
	Security *SecurityReport `json:"security,omitempty"`
}

// CommandAck is the device's receipt confirmation for a published command.
type CommandAck struct {
	TicketID string `json:"ticket_id"`
}

// CommandResult is the device's execution outcome for an acked command.
type CommandResult struct {
	TicketID   string `json:"ticket_id"`
	OK         bool   `json:"ok"`
	ReasonCode string `json:"reason_code,omitempty"`
}

// SecurityReport is a device-reported security event before server-side
// classification and storage.
type SecurityReport struct {
	EventID    string          `json:"event_id"`
	EventType  EventType       `json:"event_type"`
	OccurredAt time.Time       `json:"occurred_at,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// ParseTelemetry decodes raw signed bytes into a Telemetry and checks that
// the discriminator matches the populated body.
func ParseTelemetry(raw []byte) (Telemetry, error) {
	var t Telemetry
	if err := json.Unmarshal(raw, &t); err != nil {
		return Telemetry{}, fmt.Errorf("decode telemetry: %w", err)
	}
	if t.DeviceID == "" {
		return Telemetry{}, fmt.Errorf("telemetry missing device_id")
	}
	switch t.Kind {
	case TelemetryStateReport:
		if t.State == nil {
			return Telemetry{}, fmt.Errorf("state_report telemetry missing state body")
		}
		// Sequences land in an int64 column; a value past that range is
		// not a counter any real device produces.
		if t.State.Sequence > math.MaxInt64 {
			return Telemetry{}, fmt.Errorf("state_report sequence %d out of range", t.State.Sequence)
		}
	case TelemetryAck:
		if t.Ack == nil || t.Ack.TicketID == "" {
			return Telemetry{}, fmt.Errorf("ack telemetry missing ticket_id")
		}
	case TelemetryResult:
		if t.Result == nil || t.Result.TicketID == "" {
			return Telemetry{}, fmt.Errorf("result telemetry missing ticket_id")
		}
	case TelemetrySecurityEvent:
		if t.Security == nil || t.Security.EventID == "" {
			return Telemetry{}, fmt.Errorf("security_event telemetry missing event_id")
		}
		if !t.Security.EventType.IsValid() {
			return Telemetry{}, fmt.Errorf("security_event telemetry has unknown event_type %q", t.Security.EventType)
		}
	default:
		return Telemetry{}, fmt.Errorf("unknown telemetry type %q", t.Kind)
	}
	return t, nil
}

// SignedEnvelope wraps raw telemetry bytes with the device's signature for
// transports that cannot carry the signature out of band (MQTT). Payload
// holds the exact signed bytes; base64 via encoding/json.
type SignedEnvelope struct {
	DeviceID  string `json:"device_id"`
	Signature string `json:"signature"` // hex HMAC-SHA256 over Payload
	Payload   []byte `json:"payload"`
}
