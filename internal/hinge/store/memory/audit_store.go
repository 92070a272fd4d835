package memory

import (
	"context"
	"sync"

	"github.com/hingelabs/hinge/server/internal/hinge/store"
	"github.com/hingelabs/hinge/server/internal/hinge/types"
)

// AuditStore is an in-memory append-only audit log. Entry ids start at 1
// and are dense, matching the sqlite implementation's rowid behavior.
type AuditStore struct {
	mu      sync.Mutex
	entries []types.AuditEntry
}

func NewAuditStore() *AuditStore {
	return &AuditStore{}
}

func (s *AuditStore) Append(_ context.Context, e types.AuditEntry) (types.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.EntryID = int64(len(s.entries)) + 1
	s.entries = append(s.entries, e)
	return e, nil
}

func (s *AuditStore) Last(_ context.Context) (types.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.entries) == 0 {
		return types.AuditEntry{}, store.ErrNotFound
	}
	return s.entries[len(s.entries)-1], nil
}

func (s *AuditStore) Range(_ context.Context, fromID, toID int64) ([]types.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []types.AuditEntry
	for _, e := range s.entries {
		if e.EntryID >= fromID && e.EntryID <= toID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *AuditStore) List(_ context.Context, afterID int64, limit int) ([]types.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []types.AuditEntry
	for _, e := range s.entries {
		if e.EntryID > afterID {
			out = append(out, e)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

// Tamper overwrites the details of the entry with the given id without
// recomputing hashes. Test-only helper for chain verification tests.
func (s *AuditStore) Tamper(entryID int64, details string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.entries {
		if s.entries[i].EntryID == entryID {
			s.entries[i].Details = details
			return
		}
	}
}

// Entries returns a copy of the full log. Test-only helper.
func (s *AuditStore) Entries() []types.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.AuditEntry, len(s.entries))
	copy(out, s.entries)
	return out
}
