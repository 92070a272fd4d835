package service

import (
	"bytes"
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hingelabs/hinge/server/internal/hinge/store"
	"github.com/hingelabs/hinge/server/internal/hinge/types"
)

// AuditLog maintains the hash-chained log of privileged actions and
// security-relevant failures. Appends are serialized by a single mutex so
// prev_hash chaining has no race; everything else in the system only ever
// reads.
//
// A failed chain verification trips the halted latch: from then on every
// append fails with ErrChainCorrupt. The latch is never cleared in
// process, because auto-healing would erase the tamper evidence.
type AuditLog struct {
	store  store.AuditStore
	logger *log.Logger

	mu     sync.Mutex
	halted atomic.Bool
}

func NewAuditLog(st store.AuditStore, logger *log.Logger) *AuditLog {
	return &AuditLog{store: st, logger: logger}
}

// Append chains a new entry onto the log.
func (a *AuditLog) Append(ctx context.Context, actor, action, objectRef, details string) (types.AuditEntry, error) {
	if a.halted.Load() {
		return types.AuditEntry{}, ErrChainCorrupt
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	prev := types.GenesisHash
	last, err := a.store.Last(ctx)
	switch {
	case err == nil:
		prev = last.Hash
	case errors.Is(err, store.ErrNotFound):
		// first entry
	default:
		return types.AuditEntry{}, err
	}

	now := time.Now().UTC()
	e := types.AuditEntry{
		Actor:     actor,
		Action:    action,
		ObjectRef: objectRef,
		Details:   details,
		PrevHash:  prev,
		CreatedAt: now,
	}
	e.Hash = types.ChainHash(prev, actor, action, objectRef, details, now)

	return a.store.Append(ctx, e)
}

// VerifyChain recomputes hashes over [fromID, toID]. It returns false and
// the id of the first bad entry on a mismatch, a gap, or a broken link,
// and trips the halted latch so dependent writes stop.
func (a *AuditLog) VerifyChain(ctx context.Context, fromID, toID int64) (bool, int64, error) {
	if fromID < 1 || toID < fromID {
		return false, fromID, nil
	}

	prev := types.GenesisHash
	if fromID > 1 {
		before, err := a.store.Range(ctx, fromID-1, fromID-1)
		if err != nil {
			return false, 0, err
		}
		if len(before) == 0 {
			return a.fail(fromID - 1), fromID - 1, nil
		}
		prev = before[0].Hash
	}

	entries, err := a.store.Range(ctx, fromID, toID)
	if err != nil {
		return false, 0, err
	}

	expectID := fromID
	for _, e := range entries {
		if e.EntryID != expectID {
			return a.fail(expectID), expectID, nil
		}
		if !bytes.Equal(e.PrevHash, prev) {
			return a.fail(e.EntryID), e.EntryID, nil
		}
		want := types.ChainHash(e.PrevHash, e.Actor, e.Action, e.ObjectRef, e.Details, e.CreatedAt)
		if !bytes.Equal(e.Hash, want) {
			return a.fail(e.EntryID), e.EntryID, nil
		}
		prev = e.Hash
		expectID++
	}
	if expectID != toID+1 {
		return a.fail(expectID), expectID, nil
	}
	return true, 0, nil
}

// Verify runs VerifyChain over the whole log. An empty log verifies clean.
// Called at startup and from the operator verify endpoint, so tampering in
// the database is caught in a running system, not just in tests.
func (a *AuditLog) Verify(ctx context.Context) (bool, int64, error) {
	last, err := a.store.Last(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return true, 0, nil
	}
	if err != nil {
		return false, 0, err
	}
	return a.VerifyChain(ctx, 1, last.EntryID)
}

func (a *AuditLog) fail(entryID int64) bool {
	a.halted.Store(true)
	a.logger.Printf("audit chain verification FAILED at entry %d; appends halted", entryID)
	return false
}

// Halted reports whether the chain has been found corrupt.
func (a *AuditLog) Halted() bool { return a.halted.Load() }

// List returns entries after afterID in id order, for paginated reads.
func (a *AuditLog) List(ctx context.Context, afterID int64, limit int) ([]types.AuditEntry, error) {
	return a.store.List(ctx, afterID, limit)
}

// note appends without failing the surrounding operation. Used on paths
// that record a rejected input but where the rejection itself is the
// caller's answer. Halt state still applies.
func (a *AuditLog) note(ctx context.Context, actor, action, objectRef, details string) {
	if _, err := a.Append(ctx, actor, action, objectRef, details); err != nil {
		a.logger.Printf("audit append %s failed: %v", action, err)
	}
}
