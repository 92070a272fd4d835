package service_test

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/hingelabs/hinge/server/internal/hinge/service"
	"github.com/hingelabs/hinge/server/internal/hinge/types"
)

func TestAuditChainLinks(t *testing.T) {
	env := newTestEnv(t, testDispatchCfg)
	ctx := context.Background()

	for _, action := range []string{"a.one", "a.two", "a.three"} {
		if _, err := env.audit.Append(ctx, "test", action, "obj:1", "details"); err != nil {
			t.Fatalf("append %s: %v", action, err)
		}
	}

	entries := env.auditStore.Entries()
	if len(entries) != 3 {
		t.Fatalf("stored %d entries, want 3", len(entries))
	}
	if !bytes.Equal(entries[0].PrevHash, types.GenesisHash) {
		t.Error("first entry prev_hash is not the genesis hash")
	}
	for i := 1; i < len(entries); i++ {
		if !bytes.Equal(entries[i].PrevHash, entries[i-1].Hash) {
			t.Errorf("entry %d prev_hash does not link to entry %d", i+1, i)
		}
	}

	ok, badID, err := env.audit.VerifyChain(ctx, 1, 3)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !ok {
		t.Fatalf("verify failed at entry %d on an untouched chain", badID)
	}
	if env.audit.Halted() {
		t.Fatal("halted after a clean verification")
	}
}

func TestVerifyChainDetectsTamperAndHalts(t *testing.T) {
	env := newTestEnv(t, testDispatchCfg)
	ctx := context.Background()

	for _, action := range []string{"a.one", "a.two", "a.three"} {
		if _, err := env.audit.Append(ctx, "test", action, "obj:1", "original"); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	env.auditStore.Tamper(2, "rewritten after the fact")

	ok, badID, err := env.audit.VerifyChain(ctx, 1, 3)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if ok {
		t.Fatal("verification passed over a tampered entry")
	}
	if badID != 2 {
		t.Fatalf("first bad entry = %d, want 2", badID)
	}

	// Once tripped, every dependent write path stays down.
	if !env.audit.Halted() {
		t.Fatal("halted latch not set")
	}
	if _, err := env.audit.Append(ctx, "test", "a.four", "obj:1", ""); !errors.Is(err, service.ErrChainCorrupt) {
		t.Errorf("append err = %v, want ErrChainCorrupt", err)
	}
	if _, err := env.enrollment.IssueCode(ctx, "admin:alice"); !errors.Is(err, service.ErrChainCorrupt) {
		t.Errorf("issue code err = %v, want ErrChainCorrupt", err)
	}
	if _, err := env.dispatcher.Submit(ctx, "t-1", "dev-1", types.CommandLock, nil); !errors.Is(err, service.ErrChainCorrupt) {
		t.Errorf("submit err = %v, want ErrChainCorrupt", err)
	}
}

func TestVerifyWholeLog(t *testing.T) {
	env := newTestEnv(t, testDispatchCfg)
	ctx := context.Background()

	// An empty log verifies clean; this is the startup path on a fresh
	// database.
	ok, _, err := env.audit.Verify(ctx)
	if err != nil {
		t.Fatalf("verify empty: %v", err)
	}
	if !ok {
		t.Fatal("empty log failed verification")
	}

	for i := 0; i < 4; i++ {
		if _, err := env.audit.Append(ctx, "test", "a.n", "obj:1", ""); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	ok, _, err = env.audit.Verify(ctx)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !ok {
		t.Fatal("untouched log failed verification")
	}

	env.auditStore.Tamper(3, "rewritten")
	ok, badID, err := env.audit.Verify(ctx)
	if err != nil {
		t.Fatalf("verify tampered: %v", err)
	}
	if ok || badID != 3 {
		t.Fatalf("verify tampered = %v/%d, want failure at 3", ok, badID)
	}
	if !env.audit.Halted() {
		t.Fatal("halted latch not set")
	}
}

func TestVerifyChainPartialRange(t *testing.T) {
	env := newTestEnv(t, testDispatchCfg)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := env.audit.Append(ctx, "test", "a.n", "obj:1", ""); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	// A mid-chain range anchors its prev hash on the entry before fromID.
	ok, badID, err := env.audit.VerifyChain(ctx, 3, 5)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !ok {
		t.Fatalf("partial verify failed at entry %d", badID)
	}
}

func TestVerifyChainDetectsGap(t *testing.T) {
	env := newTestEnv(t, testDispatchCfg)
	ctx := context.Background()

	if _, err := env.audit.Append(ctx, "test", "a.one", "obj:1", ""); err != nil {
		t.Fatalf("append: %v", err)
	}

	// Asking past the end of the log is a gap, not a success.
	ok, _, err := env.audit.VerifyChain(ctx, 1, 3)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if ok {
		t.Fatal("verification passed over missing entries")
	}
}

func TestAuditListPagination(t *testing.T) {
	env := newTestEnv(t, testDispatchCfg)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := env.audit.Append(ctx, "test", "a.n", "obj:1", ""); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	page, err := env.audit.List(ctx, 0, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page) != 2 || page[0].EntryID != 1 || page[1].EntryID != 2 {
		t.Fatalf("first page = %+v", page)
	}

	page, err = env.audit.List(ctx, page[1].EntryID, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page) != 3 || page[0].EntryID != 3 {
		t.Fatalf("second page = %+v", page)
	}
}
