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

func issuedTicket(id, deviceID string) types.CommandTicket {
	return types.CommandTicket{
		TicketID:    id,
		DeviceID:    deviceID,
		CommandType: types.CommandLock,
		Args:        []byte(`{"hold":true}`),
		IssuedAt:    time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		Status:      types.TicketIssued,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Insert — round trip and idempotency key
// ═══════════════════════════════════════════════════════════════════════════

func TestTicketStore_Insert_RoundTrip(t *testing.T) {
	conn := openTestDB(t)
	w := newTestWriter(t, conn)
	ts := sqlitestore.NewTicketStore(conn, w)
	seedTestDevice(t, conn, "dev-1")
	ctx := context.Background()

	want := issuedTicket("t-1", "dev-1")
	if err := ts.Insert(ctx, want); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, err := ts.Get(ctx, "t-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.DeviceID != "dev-1" || got.CommandType != types.CommandLock || got.Status != types.TicketIssued {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if string(got.Args) != `{"hold":true}` {
		t.Errorf("args = %s", got.Args)
	}
	if !got.IssuedAt.Equal(want.IssuedAt) {
		t.Errorf("issued_at = %v, want %v", got.IssuedAt, want.IssuedAt)
	}
}

func TestTicketStore_Insert_DuplicateTicketID(t *testing.T) {
	conn := openTestDB(t)
	w := newTestWriter(t, conn)
	ts := sqlitestore.NewTicketStore(conn, w)
	seedTestDevice(t, conn, "dev-1")
	ctx := context.Background()

	if err := ts.Insert(ctx, issuedTicket("t-1", "dev-1")); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if err := ts.Insert(ctx, issuedTicket("t-1", "dev-1")); !errors.Is(err, store.ErrDuplicate) {
		t.Errorf("duplicate insert err = %v, want ErrDuplicate", err)
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Insert — at most one non-terminal ticket per device
// ═══════════════════════════════════════════════════════════════════════════

func TestTicketStore_Insert_DeviceBusy(t *testing.T) {
	conn := openTestDB(t)
	w := newTestWriter(t, conn)
	ts := sqlitestore.NewTicketStore(conn, w)
	seedTestDevice(t, conn, "dev-1")
	ctx := context.Background()

	if err := ts.Insert(ctx, issuedTicket("t-1", "dev-1")); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if err := ts.Insert(ctx, issuedTicket("t-2", "dev-1")); !errors.Is(err, store.ErrDeviceBusy) {
		t.Errorf("second insert err = %v, want ErrDeviceBusy", err)
	}
}

func TestTicketStore_Insert_AllowedAfterTerminal(t *testing.T) {
	conn := openTestDB(t)
	w := newTestWriter(t, conn)
	ts := sqlitestore.NewTicketStore(conn, w)
	seedTestDevice(t, conn, "dev-1")
	ctx := context.Background()

	if err := ts.Insert(ctx, issuedTicket("t-1", "dev-1")); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := ts.Transition(ctx, "t-1", types.TicketIssued, types.TicketExecuted, "", time.Now().UTC()); err != nil {
		t.Fatalf("transition: %v", err)
	}

	// The partial unique index only covers ISSUED/ACKED.
	if err := ts.Insert(ctx, issuedTicket("t-2", "dev-1")); err != nil {
		t.Errorf("insert after terminal: %v", err)
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Transition — compare-and-set on the current status
// ═══════════════════════════════════════════════════════════════════════════

func TestTicketStore_Transition_CAS(t *testing.T) {
	conn := openTestDB(t)
	w := newTestWriter(t, conn)
	ts := sqlitestore.NewTicketStore(conn, w)
	seedTestDevice(t, conn, "dev-1")
	ctx := context.Background()

	if err := ts.Insert(ctx, issuedTicket("t-1", "dev-1")); err != nil {
		t.Fatalf("insert: %v", err)
	}

	if err := ts.Transition(ctx, "t-1", types.TicketIssued, types.TicketAcked, "", time.Now().UTC()); err != nil {
		t.Fatalf("ISSUED -> ACKED: %v", err)
	}

	// The from-state no longer matches.
	err := ts.Transition(ctx, "t-1", types.TicketIssued, types.TicketTimedOut, "ack_timeout", time.Now().UTC())
	if !errors.Is(err, store.ErrConflict) {
		t.Errorf("stale transition err = %v, want ErrConflict", err)
	}

	if err := ts.Transition(ctx, "t-1", types.TicketAcked, types.TicketFailed, "motor_jam", time.Now().UTC()); err != nil {
		t.Fatalf("ACKED -> FAILED: %v", err)
	}

	got, err := ts.Get(ctx, "t-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != types.TicketFailed || got.FailReason != "motor_jam" {
		t.Errorf("ticket = %+v, want FAILED/motor_jam", got)
	}
}

func TestTicketStore_Transition_UnknownTicket(t *testing.T) {
	conn := openTestDB(t)
	w := newTestWriter(t, conn)
	ts := sqlitestore.NewTicketStore(conn, w)

	err := ts.Transition(context.Background(), "ghost", types.TicketIssued, types.TicketAcked, "", time.Now().UTC())
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// RecordAttempt
// ═══════════════════════════════════════════════════════════════════════════

func TestTicketStore_RecordAttempt(t *testing.T) {
	conn := openTestDB(t)
	w := newTestWriter(t, conn)
	ts := sqlitestore.NewTicketStore(conn, w)
	seedTestDevice(t, conn, "dev-1")
	ctx := context.Background()

	if err := ts.Insert(ctx, issuedTicket("t-1", "dev-1")); err != nil {
		t.Fatalf("insert: %v", err)
	}

	at := time.Date(2026, 8, 1, 12, 0, 30, 0, time.UTC)
	if err := ts.RecordAttempt(ctx, "t-1", 2, at); err != nil {
		t.Fatalf("RecordAttempt: %v", err)
	}

	got, err := ts.Get(ctx, "t-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.AttemptCount != 2 {
		t.Errorf("attempt_count = %d, want 2", got.AttemptCount)
	}
	if !got.LastAttemptAt.Equal(at) {
		t.Errorf("last_attempt_at = %v, want %v", got.LastAttemptAt, at)
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// ListNonTerminal
// ═══════════════════════════════════════════════════════════════════════════

func TestTicketStore_ListNonTerminal(t *testing.T) {
	conn := openTestDB(t)
	w := newTestWriter(t, conn)
	ts := sqlitestore.NewTicketStore(conn, w)
	ctx := context.Background()

	for _, d := range []string{"d1", "d2", "d3"} {
		seedTestDevice(t, conn, d)
	}
	if err := ts.Insert(ctx, issuedTicket("t-issued", "d1")); err != nil {
		t.Fatalf("insert t-issued: %v", err)
	}
	if err := ts.Insert(ctx, issuedTicket("t-acked", "d2")); err != nil {
		t.Fatalf("insert t-acked: %v", err)
	}
	if err := ts.Transition(ctx, "t-acked", types.TicketIssued, types.TicketAcked, "", time.Now().UTC()); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if err := ts.Insert(ctx, issuedTicket("t-done", "d3")); err != nil {
		t.Fatalf("insert t-done: %v", err)
	}
	if err := ts.Transition(ctx, "t-done", types.TicketIssued, types.TicketExecuted, "", time.Now().UTC()); err != nil {
		t.Fatalf("execute: %v", err)
	}

	open, err := ts.ListNonTerminal(ctx)
	if err != nil {
		t.Fatalf("ListNonTerminal: %v", err)
	}
	if len(open) != 2 {
		t.Fatalf("listed %d tickets, want 2", len(open))
	}
	byID := map[string]types.TicketStatus{}
	for _, tk := range open {
		byID[tk.TicketID] = tk.Status
	}
	if byID["t-issued"] != types.TicketIssued || byID["t-acked"] != types.TicketAcked {
		t.Errorf("open tickets = %v", byID)
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// PruneTerminalBefore
// ═══════════════════════════════════════════════════════════════════════════

func TestTicketStore_PruneTerminalBefore(t *testing.T) {
	conn := openTestDB(t)
	w := newTestWriter(t, conn)
	ts := sqlitestore.NewTicketStore(conn, w)
	ctx := context.Background()

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	for i, tc := range []struct {
		id       string
		device   string
		issuedAt time.Time
		terminal bool
	}{
		{"old-done", "d1", now.AddDate(0, 0, -40), true},
		{"old-open", "d2", now.AddDate(0, 0, -40), false},
		{"new-done", "d3", now, true},
	} {
		seedTestDevice(t, conn, tc.device)
		tk := issuedTicket(tc.id, tc.device)
		tk.IssuedAt = tc.issuedAt
		if err := ts.Insert(ctx, tk); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
		if tc.terminal {
			if err := ts.Transition(ctx, tc.id, types.TicketIssued, types.TicketExecuted, "", now); err != nil {
				t.Fatalf("transition %s: %v", tc.id, err)
			}
		}
	}

	deleted, err := ts.PruneTerminalBefore(ctx, now.AddDate(0, 0, -30))
	if err != nil {
		t.Fatalf("PruneTerminalBefore: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}

	if _, err := ts.Get(ctx, "old-done"); !errors.Is(err, store.ErrNotFound) {
		t.Error("old terminal ticket survived prune")
	}
	if _, err := ts.Get(ctx, "old-open"); err != nil {
		t.Errorf("old non-terminal ticket pruned: %v", err)
	}
	if _, err := ts.Get(ctx, "new-done"); err != nil {
		t.Errorf("recent terminal ticket pruned: %v", err)
	}
}
