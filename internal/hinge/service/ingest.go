package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/hingelabs/hinge/server/internal/hinge/store"
	"github.com/hingelabs/hinge/server/internal/hinge/types"
	"github.com/hingelabs/hinge/server/internal/metrics"
	"github.com/hingelabs/hinge/server/internal/transport"
)

// Ingest verifies, classifies and applies inbound device telemetry. It is
// the single entry point for both the signed webhook and the MQTT event
// channel, and is safe under at-least-once delivery: duplicate events and
// stale acks cannot double-apply effects.
type Ingest struct {
	devices    store.DeviceStore
	events     store.SecurityEventStore
	presence   *StateService
	dispatcher *Dispatcher
	audit      *AuditLog
	notifier   Notifier
	logger     *log.Logger

	// set by BindTransport; nil when only the webhook feeds ingest
	bus transport.Transport

	// minNotifySeverity gates the notification hook.
	minNotifySeverity types.Severity
}

func NewIngest(
	devices store.DeviceStore,
	events store.SecurityEventStore,
	presence *StateService,
	dispatcher *Dispatcher,
	audit *AuditLog,
	notifier Notifier,
	logger *log.Logger,
) *Ingest {
	return &Ingest{
		devices:           devices,
		events:            events,
		presence:          presence,
		dispatcher:        dispatcher,
		audit:             audit,
		notifier:          notifier,
		logger:            logger,
		minNotifySeverity: types.SeverityCritical,
	}
}

// Ingest processes one signed payload. signatureHex is the hex HMAC-SHA256
// of raw under the device's secret. Verification failures drop the payload
// but are never silent: they are counted and written to the audit log,
// because a bad signature is itself security-relevant.
func (s *Ingest) Ingest(ctx context.Context, deviceID string, raw []byte, signatureHex string) error {
	metrics.TelemetryTotal.Inc()

	dev, err := s.devices.Get(ctx, deviceID)
	if errors.Is(err, store.ErrNotFound) {
		s.audit.note(ctx, "ingest", "telemetry.unknown_device", "device:"+deviceID,
			"severity=warning telemetry from unenrolled device dropped")
		return ErrDeviceUnknown
	}
	if err != nil {
		return err
	}

	if !verifySignature(dev.Secret, raw, signatureHex) {
		metrics.TelemetryBadSignatureTotal.Inc()
		s.audit.note(ctx, "ingest", "telemetry.bad_signature", "device:"+deviceID,
			"severity=warning payload dropped: HMAC mismatch")
		return ErrBadSignature
	}

	t, err := types.ParseTelemetry(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	// The signature proved the payload came from deviceID's key; a
	// different id inside the payload means confusion or tampering
	// upstream of the signature check.
	if t.DeviceID != deviceID {
		s.audit.note(ctx, "ingest", "telemetry.device_mismatch", "device:"+deviceID,
			"severity=warning payload claims device "+t.DeviceID)
		return fmt.Errorf("%w: signed for %s, claims %s", ErrMalformedPayload, deviceID, t.DeviceID)
	}

	now := time.Now().UTC()

	switch t.Kind {
	case types.TelemetryStateReport:
		applied, err := s.presence.ApplyReport(ctx, deviceID, *t.State, now)
		if err != nil {
			return err
		}
		if !applied {
			metrics.TelemetryOutOfOrderTotal.Inc()
			s.audit.note(ctx, "ingest", "state.out_of_order", "device:"+deviceID,
				"severity=info dropped report with sequence "+strconv.FormatUint(t.State.Sequence, 10))
			return nil
		}
		s.publishStateSnapshot(ctx, deviceID)
		return nil

	case types.TelemetryAck:
		s.dispatcher.HandleAck(ctx, deviceID, t.Ack.TicketID)
		return nil

	case types.TelemetryResult:
		s.dispatcher.HandleResult(ctx, deviceID, t.Result.TicketID, t.Result.OK, t.Result.ReasonCode)
		return nil

	case types.TelemetrySecurityEvent:
		return s.ingestSecurityEvent(ctx, deviceID, t.Security, now)
	}
	return fmt.Errorf("unhandled telemetry kind %q", t.Kind)
}

func (s *Ingest) ingestSecurityEvent(ctx context.Context, deviceID string, rep *types.SecurityReport, now time.Time) error {
	ev := types.SecurityEvent{
		EventID:    rep.EventID,
		DeviceID:   deviceID,
		EventType:  rep.EventType,
		Severity:   types.ClassifySeverity(rep.EventType),
		ReceivedAt: now,
		Payload:    rep.Payload,
	}

	inserted, err := s.events.Insert(ctx, ev)
	if err != nil {
		return err
	}
	if !inserted {
		// duplicate delivery; first insert already did everything
		return nil
	}

	s.audit.note(ctx, "ingest", "security_event.stored", "event:"+ev.EventID,
		"severity="+string(ev.Severity)+" device="+deviceID+" type="+string(ev.EventType))

	if ev.Severity.AtLeast(s.minNotifySeverity) {
		if err := s.notifier.Notify(ctx, ev); err != nil {
			s.logger.Printf("notify for event %s: %v", ev.EventID, err)
		} else {
			metrics.NotificationsTotal.Inc()
		}
	}
	return nil
}

// ListEvents is the paginated read-side for security events.
func (s *Ingest) ListEvents(ctx context.Context, deviceID string, before time.Time, limit int) ([]types.SecurityEvent, error) {
	if _, err := s.devices.Get(ctx, deviceID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrDeviceUnknown
		}
		return nil, err
	}
	return s.events.ListByDevice(ctx, deviceID, before, limit)
}

// publishStateSnapshot mirrors the latest accepted state onto the retained
// state topic so late subscribers see it without waiting for the next report.
func (s *Ingest) publishStateSnapshot(ctx context.Context, deviceID string) {
	if s.bus == nil {
		return
	}
	st, err := s.presence.GetState(ctx, deviceID)
	if err != nil {
		s.logger.Printf("state snapshot for %s: %v", deviceID, err)
		return
	}
	body, err := json.Marshal(st)
	if err != nil {
		s.logger.Printf("state snapshot for %s: %v", deviceID, err)
		return
	}
	if err := s.bus.Publish(ctx, transport.StateTopic(deviceID), body); err != nil {
		s.logger.Printf("publish state snapshot for %s: %v", deviceID, err)
	}
}

// BindTransport subscribes the ingest pipeline to every device's event
// channel and enables retained state snapshots. MQTT payloads are signed
// envelopes; the embedded payload bytes are what the device signed.
func (s *Ingest) BindTransport(bus transport.Transport) error {
	s.bus = bus
	return bus.Subscribe(transport.EventTopicPattern(), func(topic string, payload []byte) {
		var env types.SignedEnvelope
		if err := json.Unmarshal(payload, &env); err != nil {
			s.logger.Printf("bad envelope on %s: %v", topic, err)
			return
		}
		// Handlers must not block the transport; ingest does store writes.
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := s.Ingest(ctx, env.DeviceID, env.Payload, env.Signature); err != nil {
				s.logger.Printf("ingest from %s: %v", topic, err)
			}
		}()
	})
}

// Sign computes the hex HMAC-SHA256 signature for raw under secret.
// Exported for device simulators and tests.
func Sign(secret, raw []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(raw)
	return hex.EncodeToString(mac.Sum(nil))
}

func verifySignature(secret, raw []byte, signatureHex string) bool {
	sig, err := hex.DecodeString(signatureHex)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(raw)
	return hmac.Equal(sig, mac.Sum(nil))
}
