package service

import (
	"context"
	"errors"
	"time"

	"github.com/hingelabs/hinge/server/internal/hinge/store"
	"github.com/hingelabs/hinge/server/internal/hinge/types"
)

// StateService is the single source of truth for last-known device state.
// All readers go through GetState/IsOnline; ApplyReport is the only writer.
type StateService struct {
	states  store.StateStore
	devices store.DeviceStore
	window  time.Duration

	now func() time.Time
}

func NewStateService(states store.StateStore, devices store.DeviceStore, heartbeatWindow time.Duration) *StateService {
	return &StateService{
		states:  states,
		devices: devices,
		window:  heartbeatWindow,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// GetState returns the last applied state. A device that has never
// reported gets an all-unknown state rather than an error, so read-side
// consumers can render something before first contact.
func (s *StateService) GetState(ctx context.Context, deviceID string) (types.DeviceState, error) {
	if _, err := s.devices.Get(ctx, deviceID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.DeviceState{}, ErrDeviceUnknown
		}
		return types.DeviceState{}, err
	}

	st, err := s.states.Get(ctx, deviceID)
	if errors.Is(err, store.ErrNotFound) {
		return types.DeviceState{
			DeviceID:  deviceID,
			LockState: types.LockUnknown,
			DoorState: types.DoorUnknown,
		}, nil
	}
	return st, err
}

// IsOnline derives presence at read time: online iff the device reported
// within the heartbeat window. Nothing is cached, so a process restart
// cannot resurrect a stale online flag.
func (s *StateService) IsOnline(ctx context.Context, deviceID string) (bool, error) {
	st, err := s.GetState(ctx, deviceID)
	if err != nil {
		return false, err
	}
	if st.UpdatedAt.IsZero() {
		return false, nil
	}
	return s.now().Sub(st.UpdatedAt) < s.window, nil
}

// ApplyReport applies a state report under the sequence-monotonicity rule
// and, when applied, refreshes the registry's firmware/hardware fields,
// which only device telemetry may change.
func (s *StateService) ApplyReport(ctx context.Context, deviceID string, report types.StateReport, receivedAt time.Time) (bool, error) {
	applied, err := s.states.Apply(ctx, deviceID, report, receivedAt)
	if err != nil || !applied {
		return applied, err
	}
	if report.FirmwareVersion != "" || report.HardwareRevision != "" {
		if err := s.devices.UpdateFromTelemetry(ctx, deviceID, report.FirmwareVersion, report.HardwareRevision); err != nil {
			return true, err
		}
	}
	return true, nil
}
