package service_test

import (
	"context"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/hingelabs/hinge/server/internal/hinge/service"
	"github.com/hingelabs/hinge/server/internal/hinge/store/memory"
	"github.com/hingelabs/hinge/server/internal/hinge/types"
	"github.com/hingelabs/hinge/server/internal/transport"
)

// testEnv wires the full service stack over in-memory stores and the
// in-process transport, with inspection handles for everything a test
// might want to assert on.
type testEnv struct {
	devices    *memory.DeviceStore
	codes      *memory.EnrollmentStore
	tickets    *memory.TicketStore
	states     *memory.StateStore
	events     *memory.SecurityEventStore
	auditStore *memory.AuditStore
	bus        *transport.Fake
	notifier   *captureNotifier

	audit      *service.AuditLog
	presence   *service.StateService
	enrollment *service.EnrollmentService
	dispatcher *service.Dispatcher
	ingest     *service.Ingest
}

// fast dispatcher timings so timeout paths run inside a test.
var testDispatchCfg = service.DispatcherConfig{
	AckTimeout:     50 * time.Millisecond,
	ExecTimeout:    150 * time.Millisecond,
	PublishTimeout: 50 * time.Millisecond,
	MaxAttempts:    2,
	RetryBackoff:   10 * time.Millisecond,
}

func newTestEnv(t *testing.T, cfg service.DispatcherConfig) *testEnv {
	t.Helper()

	logger := log.New(io.Discard, "", 0)

	env := &testEnv{
		devices:  memory.NewDeviceStore(),
		tickets:  memory.NewTicketStore(),
		states:   memory.NewStateStore(),
		events:   memory.NewSecurityEventStore(),
		bus:      transport.NewFake(),
		notifier: &captureNotifier{},
	}
	env.codes = memory.NewEnrollmentStore(env.devices)
	env.auditStore = memory.NewAuditStore()

	env.audit = service.NewAuditLog(env.auditStore, logger)
	env.presence = service.NewStateService(env.states, env.devices, 90*time.Second)
	env.enrollment = service.NewEnrollmentService(env.codes, time.Hour, env.audit, logger)
	env.dispatcher = service.NewDispatcher(env.tickets, env.devices, env.presence, env.bus, env.audit, logger, cfg)
	env.ingest = service.NewIngest(env.devices, env.events, env.presence, env.dispatcher, env.audit, env.notifier, logger)

	t.Cleanup(env.dispatcher.Stop)
	return env
}

// seedDevice enrolls a device directly and marks it online by applying a
// fresh state report.
func (env *testEnv) seedDevice(t *testing.T, deviceID string, secret []byte, online bool) {
	t.Helper()

	env.devices.Seed(types.Device{
		DeviceID:   deviceID,
		OwnerID:    "owner-1",
		EnrolledAt: time.Now().UTC(),
		Secret:     secret,
	})
	if online {
		applied, err := env.presence.ApplyReport(context.Background(), deviceID, types.StateReport{
			Sequence:  1,
			LockState: types.LockLocked,
			DoorState: types.DoorClosed,
		}, time.Now().UTC())
		if err != nil {
			t.Fatalf("seed state: %v", err)
		}
		if !applied {
			t.Fatal("seed state not applied")
		}
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

// auditActions returns the action column of every audit entry.
func (env *testEnv) auditActions() []string {
	var out []string
	for _, e := range env.auditStore.Entries() {
		out = append(out, e.Action)
	}
	return out
}

func containsAction(actions []string, want string) bool {
	for _, a := range actions {
		if a == want {
			return true
		}
	}
	return false
}

type captureNotifier struct {
	mu     sync.Mutex
	events []types.SecurityEvent
}

func (n *captureNotifier) Notify(_ context.Context, ev types.SecurityEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return nil
}

func (n *captureNotifier) Events() []types.SecurityEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]types.SecurityEvent, len(n.events))
	copy(out, n.events)
	return out
}
