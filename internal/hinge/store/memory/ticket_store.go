package memory

import (
	"context"
	"sync"
	"time"

	"github.com/hingelabs/hinge/server/internal/hinge/store"
	"github.com/hingelabs/hinge/server/internal/hinge/types"
)

type TicketStore struct {
	mu      sync.Mutex
	tickets map[string]types.CommandTicket
}

func NewTicketStore() *TicketStore {
	return &TicketStore{tickets: make(map[string]types.CommandTicket)}
}

func (s *TicketStore) Insert(_ context.Context, t types.CommandTicket) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tickets[t.TicketID]; ok {
		return store.ErrDuplicate
	}
	for _, existing := range s.tickets {
		if existing.DeviceID == t.DeviceID && !existing.Status.Terminal() {
			return store.ErrDeviceBusy
		}
	}
	s.tickets[t.TicketID] = t
	return nil
}

func (s *TicketStore) Get(_ context.Context, ticketID string) (types.CommandTicket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[ticketID]
	if !ok {
		return types.CommandTicket{}, store.ErrNotFound
	}
	return t, nil
}

func (s *TicketStore) Transition(_ context.Context, ticketID string, from, to types.TicketStatus, failReason string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tickets[ticketID]
	if !ok {
		return store.ErrNotFound
	}
	if t.Status != from {
		return store.ErrConflict
	}
	t.Status = to
	if to == types.TicketFailed || to == types.TicketTimedOut {
		t.FailReason = failReason
	}
	s.tickets[ticketID] = t
	return nil
}

func (s *TicketStore) RecordAttempt(_ context.Context, ticketID string, attempt int, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tickets[ticketID]
	if !ok {
		return store.ErrNotFound
	}
	t.AttemptCount = attempt
	t.LastAttemptAt = at
	s.tickets[ticketID] = t
	return nil
}

func (s *TicketStore) ListNonTerminal(_ context.Context) ([]types.CommandTicket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []types.CommandTicket
	for _, t := range s.tickets {
		if !t.Status.Terminal() {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *TicketStore) PruneTerminalBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, t := range s.tickets {
		if t.Status.Terminal() && t.IssuedAt.Before(cutoff) {
			delete(s.tickets, id)
			n++
		}
	}
	return n, nil
}
