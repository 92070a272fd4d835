package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hingelabs/hinge/server/internal/hinge/store"
	sqlitestore "github.com/hingelabs/hinge/server/internal/hinge/store/sqlite"
	"github.com/hingelabs/hinge/server/internal/hinge/types"
)

func TestDeviceStore_Create_RoundTrip(t *testing.T) {
	conn := openTestDB(t)
	w := newTestWriter(t, conn)
	ds := sqlitestore.NewDeviceStore(conn, w)
	ctx := context.Background()

	want := types.Device{
		DeviceID:         "dev-1",
		OwnerID:          "owner-1",
		FirmwareVersion:  "1.0.0",
		HardwareRevision: "rev-b",
		Secret:           []byte("0123456789abcdef0123456789abcdef"),
		EnrolledAt:       time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
	if err := ds.Create(ctx, want); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := ds.Get(ctx, "dev-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.OwnerID != want.OwnerID || got.FirmwareVersion != want.FirmwareVersion {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if string(got.Secret) != string(want.Secret) {
		t.Error("secret did not round trip")
	}
	if !got.EnrolledAt.Equal(want.EnrolledAt) {
		t.Errorf("enrolled_at = %v, want %v", got.EnrolledAt, want.EnrolledAt)
	}

	if err := ds.Create(ctx, want); !errors.Is(err, store.ErrDuplicate) {
		t.Errorf("duplicate create err = %v, want ErrDuplicate", err)
	}
}

func TestDeviceStore_Get_NotFound(t *testing.T) {
	conn := openTestDB(t)
	w := newTestWriter(t, conn)
	ds := sqlitestore.NewDeviceStore(conn, w)

	if _, err := ds.Get(context.Background(), "ghost"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestDeviceStore_UpdateFromTelemetry(t *testing.T) {
	conn := openTestDB(t)
	w := newTestWriter(t, conn)
	ds := sqlitestore.NewDeviceStore(conn, w)
	ctx := context.Background()

	if err := ds.Create(ctx, types.Device{
		DeviceID:         "dev-1",
		OwnerID:          "owner-1",
		FirmwareVersion:  "1.0.0",
		HardwareRevision: "rev-a",
		Secret:           []byte("s"),
		EnrolledAt:       time.Now().UTC(),
	}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Empty fields leave the stored values alone.
	if err := ds.UpdateFromTelemetry(ctx, "dev-1", "2.0.0", ""); err != nil {
		t.Fatalf("UpdateFromTelemetry: %v", err)
	}

	got, err := ds.Get(ctx, "dev-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.FirmwareVersion != "2.0.0" {
		t.Errorf("firmware = %q, want 2.0.0", got.FirmwareVersion)
	}
	if got.HardwareRevision != "rev-a" {
		t.Errorf("hardware = %q, want untouched rev-a", got.HardwareRevision)
	}

	if err := ds.UpdateFromTelemetry(ctx, "ghost", "1.0", ""); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("unknown device err = %v, want ErrNotFound", err)
	}
}
