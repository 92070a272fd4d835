package memory

import (
	"context"
	"sync"
	"time"

	"github.com/hingelabs/hinge/server/internal/hinge/store"
	"github.com/hingelabs/hinge/server/internal/hinge/types"
)

// EnrollmentStore keeps codes in memory. It holds a reference to the
// device store so Redeem can mirror the sqlite implementation's
// single-transaction semantics: the code flip and the device creation
// happen under one lock.
type EnrollmentStore struct {
	mu      sync.Mutex
	codes   map[string]types.EnrollmentCode
	devices *DeviceStore
}

func NewEnrollmentStore(devices *DeviceStore) *EnrollmentStore {
	return &EnrollmentStore{
		codes:   make(map[string]types.EnrollmentCode),
		devices: devices,
	}
}

func (s *EnrollmentStore) Insert(_ context.Context, code types.EnrollmentCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.codes[code.Code]; ok {
		return store.ErrDuplicate
	}
	s.codes[code.Code] = code
	return nil
}

func (s *EnrollmentStore) Get(_ context.Context, code string) (types.EnrollmentCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.codes[code]
	if !ok {
		return types.EnrollmentCode{}, store.ErrNotFound
	}
	return c, nil
}

func (s *EnrollmentStore) Redeem(_ context.Context, code string, dev types.Device, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.codes[code]
	if !ok {
		return store.ErrNotFound
	}
	if c.Status != types.CodePending || !now.Before(c.ExpiresAt) {
		return store.ErrConflict
	}

	c.Status = types.CodeUsed
	c.TargetDeviceID = dev.DeviceID
	s.codes[code] = c
	s.devices.add(dev)
	return nil
}

func (s *EnrollmentStore) Revoke(_ context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.codes[code]
	if !ok {
		return store.ErrNotFound
	}
	if c.Status != types.CodePending {
		return store.ErrConflict
	}
	c.Status = types.CodeRevoked
	s.codes[code] = c
	return nil
}

func (s *EnrollmentStore) ExpirePending(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for k, c := range s.codes {
		if c.Status == types.CodePending && !now.Before(c.ExpiresAt) {
			c.Status = types.CodeExpired
			s.codes[k] = c
			n++
		}
	}
	return n, nil
}
