package memory

import (
	"context"
	"sync"
	"time"

	"github.com/hingelabs/hinge/server/internal/hinge/store"
	"github.com/hingelabs/hinge/server/internal/hinge/types"
)

type StateStore struct {
	mu     sync.RWMutex
	states map[string]types.DeviceState
}

func NewStateStore() *StateStore {
	return &StateStore{states: make(map[string]types.DeviceState)}
}

func (s *StateStore) Get(_ context.Context, deviceID string) (types.DeviceState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[deviceID]
	if !ok {
		return types.DeviceState{}, store.ErrNotFound
	}
	return st, nil
}

func (s *StateStore) Apply(_ context.Context, deviceID string, report types.StateReport, receivedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.states[deviceID]; ok && report.Sequence <= cur.Sequence {
		return false, nil
	}
	s.states[deviceID] = types.DeviceState{
		DeviceID:       deviceID,
		LockState:      report.LockState,
		DoorState:      report.DoorState,
		TamperDetected: report.TamperDetected,
		RSSIDbm:        report.RSSIDbm,
		BatteryLevel:   report.BatteryLevel,
		UpdatedAt:      receivedAt,
		Sequence:       report.Sequence,
	}
	return true, nil
}
