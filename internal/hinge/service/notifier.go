package service

import (
	"context"
	"log"

	"github.com/hingelabs/hinge/server/internal/hinge/types"
)

// Notifier is the hook for pushing critical and emergency security events
// to an external alerting system. Ingest guarantees at most one Notify per
// event_id.
type Notifier interface {
	Notify(ctx context.Context, ev types.SecurityEvent) error
}

// LogNotifier writes notifications to the server log. The default until a
// real alerting integration is configured.
type LogNotifier struct {
	Logger *log.Logger
}

func (n *LogNotifier) Notify(_ context.Context, ev types.SecurityEvent) error {
	n.Logger.Printf("SECURITY %s: device=%s event=%s id=%s", ev.Severity, ev.DeviceID, ev.EventType, ev.EventID)
	return nil
}
