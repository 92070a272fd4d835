package memory

import (
	"context"
	"sync"

	"github.com/hingelabs/hinge/server/internal/hinge/store"
	"github.com/hingelabs/hinge/server/internal/hinge/types"
)

type DeviceStore struct {
	mu      sync.RWMutex
	devices map[string]types.Device
}

func NewDeviceStore() *DeviceStore {
	return &DeviceStore{devices: make(map[string]types.Device)}
}

func (s *DeviceStore) Create(_ context.Context, dev types.Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.devices[dev.DeviceID]; ok {
		return store.ErrDuplicate
	}
	s.devices[dev.DeviceID] = dev
	return nil
}

func (s *DeviceStore) Get(_ context.Context, deviceID string) (types.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	dev, ok := s.devices[deviceID]
	if !ok {
		return types.Device{}, store.ErrNotFound
	}
	return dev, nil
}

func (s *DeviceStore) UpdateFromTelemetry(_ context.Context, deviceID, firmwareVersion, hardwareRevision string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	dev, ok := s.devices[deviceID]
	if !ok {
		return store.ErrNotFound
	}
	if firmwareVersion != "" {
		dev.FirmwareVersion = firmwareVersion
	}
	if hardwareRevision != "" {
		dev.HardwareRevision = hardwareRevision
	}
	s.devices[deviceID] = dev
	return nil
}

// add inserts or replaces a device without duplicate checking. Used by the
// enrollment store's atomic redeem and by test seeding.
func (s *DeviceStore) add(dev types.Device) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices[dev.DeviceID] = dev
}

// Seed inserts a device directly. Test/dev helper.
func (s *DeviceStore) Seed(dev types.Device) { s.add(dev) }
