package types

import (
	"encoding/json"
	"time"
)

// EventType is the closed set of security-relevant events a device reports.
type EventType string

const (
	EventDoorOpened         EventType = "door_opened"
	EventDoorClosed         EventType = "door_closed"
	EventMotionDetected     EventType = "motion_detected"
	EventTamperDetected     EventType = "tamper_detected"
	EventUnauthorizedAccess EventType = "unauthorized_access"
	EventSensorOffline      EventType = "sensor_offline"
)

func (t EventType) IsValid() bool {
	switch t {
	case EventDoorOpened, EventDoorClosed, EventMotionDetected,
		EventTamperDetected, EventUnauthorizedAccess, EventSensorOffline:
		return true
	}
	return false
}

type Severity string

const (
	SeverityInfo      Severity = "info"
	SeverityWarning   Severity = "warning"
	SeverityCritical  Severity = "critical"
	SeverityEmergency Severity = "emergency"
)

// AtLeast reports whether s is min or more severe.
func (s Severity) AtLeast(min Severity) bool {
	return s.rank() >= min.rank()
}

func (s Severity) rank() int {
	switch s {
	case SeverityInfo:
		return 0
	case SeverityWarning:
		return 1
	case SeverityCritical:
		return 2
	case SeverityEmergency:
		return 3
	}
	return -1
}

// ClassifySeverity maps an event type to its severity. Device payloads do
// not get to pick their own severity; classification is server-side.
func ClassifySeverity(t EventType) Severity {
	switch t {
	case EventDoorOpened, EventDoorClosed, EventMotionDetected:
		return SeverityInfo
	case EventSensorOffline:
		return SeverityWarning
	case EventTamperDetected:
		return SeverityCritical
	case EventUnauthorizedAccess:
		return SeverityEmergency
	}
	return SeverityWarning
}

// SecurityEvent is immutable once stored. EventID is device-supplied and
// deduplicates at-least-once transport delivery: the first insert wins and
// later duplicates are dropped without side effects.
type SecurityEvent struct {
	EventID    string          `json:"event_id"`
	DeviceID   string          `json:"device_id"`
	EventType  EventType       `json:"event_type"`
	Severity   Severity        `json:"severity"`
	ReceivedAt time.Time       `json:"received_at"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}
