package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hingelabs/hinge/server/internal/hinge/types"
)

// SecurityEventStore is an in-memory insert-only event log, idempotent on
// event_id. Intended for tests and dev environments.
type SecurityEventStore struct {
	mu     sync.Mutex
	byID   map[string]struct{}
	events []types.SecurityEvent
}

func NewSecurityEventStore() *SecurityEventStore {
	return &SecurityEventStore{byID: make(map[string]struct{})}
}

func (s *SecurityEventStore) Insert(_ context.Context, ev types.SecurityEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[ev.EventID]; ok {
		return false, nil
	}
	s.byID[ev.EventID] = struct{}{}
	s.events = append(s.events, ev)
	return true, nil
}

func (s *SecurityEventStore) ListByDevice(_ context.Context, deviceID string, before time.Time, limit int) ([]types.SecurityEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []types.SecurityEvent
	for _, ev := range s.events {
		if ev.DeviceID != deviceID {
			continue
		}
		if !before.IsZero() && !ev.ReceivedAt.Before(before) {
			continue
		}
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.After(out[j].ReceivedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Events returns a copy of all stored events. Test-only helper.
func (s *SecurityEventStore) Events() []types.SecurityEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.SecurityEvent, len(s.events))
	copy(out, s.events)
	return out
}
