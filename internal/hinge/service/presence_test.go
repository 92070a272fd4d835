package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hingelabs/hinge/server/internal/hinge/service"
	"github.com/hingelabs/hinge/server/internal/hinge/types"
)

func TestGetStateUnknownDevice(t *testing.T) {
	env := newTestEnv(t, testDispatchCfg)

	_, err := env.presence.GetState(context.Background(), "ghost")
	if !errors.Is(err, service.ErrDeviceUnknown) {
		t.Fatalf("err = %v, want ErrDeviceUnknown", err)
	}
}

func TestGetStateBeforeFirstReport(t *testing.T) {
	env := newTestEnv(t, testDispatchCfg)
	env.seedDevice(t, "dev-1", []byte("s"), false)

	st, err := env.presence.GetState(context.Background(), "dev-1")
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if st.LockState != types.LockUnknown || st.DoorState != types.DoorUnknown {
		t.Fatalf("state = %+v, want unknown/unknown", st)
	}

	online, err := env.presence.IsOnline(context.Background(), "dev-1")
	if err != nil {
		t.Fatalf("is online: %v", err)
	}
	if online {
		t.Fatal("never-heard-from device reported online")
	}
}

func TestIsOnlineDerivedFromHeartbeatWindow(t *testing.T) {
	env := newTestEnv(t, testDispatchCfg)
	env.seedDevice(t, "dev-1", []byte("s"), false)
	ctx := context.Background()

	// Last report outside the 90s window.
	stale := time.Now().UTC().Add(-2 * time.Minute)
	if _, err := env.presence.ApplyReport(ctx, "dev-1", types.StateReport{Sequence: 1, LockState: types.LockLocked, DoorState: types.DoorClosed}, stale); err != nil {
		t.Fatalf("apply: %v", err)
	}
	online, err := env.presence.IsOnline(ctx, "dev-1")
	if err != nil {
		t.Fatalf("is online: %v", err)
	}
	if online {
		t.Fatal("online with last report outside the heartbeat window")
	}

	// A fresh report flips it back with no stored flag involved.
	if _, err := env.presence.ApplyReport(ctx, "dev-1", types.StateReport{Sequence: 2, LockState: types.LockLocked, DoorState: types.DoorClosed}, time.Now().UTC()); err != nil {
		t.Fatalf("apply: %v", err)
	}
	online, _ = env.presence.IsOnline(ctx, "dev-1")
	if !online {
		t.Fatal("offline right after a fresh report")
	}
}

func TestApplyReportSequenceMonotonic(t *testing.T) {
	env := newTestEnv(t, testDispatchCfg)
	env.seedDevice(t, "dev-1", []byte("s"), false)
	ctx := context.Background()
	now := time.Now().UTC()

	applied, err := env.presence.ApplyReport(ctx, "dev-1", types.StateReport{Sequence: 2, LockState: types.LockLocked, DoorState: types.DoorClosed}, now)
	if err != nil || !applied {
		t.Fatalf("apply seq 2: applied=%v err=%v", applied, err)
	}

	// Equal and lower sequences are both rejected.
	applied, err = env.presence.ApplyReport(ctx, "dev-1", types.StateReport{Sequence: 2, LockState: types.LockUnlocked, DoorState: types.DoorOpen}, now)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if applied {
		t.Fatal("equal sequence applied")
	}
	applied, _ = env.presence.ApplyReport(ctx, "dev-1", types.StateReport{Sequence: 1, LockState: types.LockUnlocked, DoorState: types.DoorOpen}, now)
	if applied {
		t.Fatal("lower sequence applied")
	}

	st, _ := env.presence.GetState(ctx, "dev-1")
	if st.Sequence != 2 || st.LockState != types.LockLocked {
		t.Fatalf("state = %+v, want seq 2 locked", st)
	}

	applied, _ = env.presence.ApplyReport(ctx, "dev-1", types.StateReport{Sequence: 3, LockState: types.LockUnlocked, DoorState: types.DoorOpen}, now)
	if !applied {
		t.Fatal("higher sequence rejected")
	}
}

func TestApplyReportRefreshesRegistryMeta(t *testing.T) {
	env := newTestEnv(t, testDispatchCfg)
	env.seedDevice(t, "dev-1", []byte("s"), false)
	ctx := context.Background()

	_, err := env.presence.ApplyReport(ctx, "dev-1", types.StateReport{
		Sequence:        1,
		LockState:       types.LockLocked,
		DoorState:       types.DoorClosed,
		FirmwareVersion: "2.0.1",
	}, time.Now().UTC())
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	dev, err := env.devices.Get(ctx, "dev-1")
	if err != nil {
		t.Fatalf("get device: %v", err)
	}
	if dev.FirmwareVersion != "2.0.1" {
		t.Fatalf("firmware = %q, want telemetry-updated 2.0.1", dev.FirmwareVersion)
	}
}
