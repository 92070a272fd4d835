package store

import (
	"context"

	"github.com/hingelabs/hinge/server/internal/hinge/types"
)

// AuditStore persists the hash-chained audit log. It stores what it is
// given; chaining (reading the predecessor, computing the hash) is the
// audit service's job, done under its append lock.
type AuditStore interface {
	// Append inserts the entry and returns it with its assigned entry id.
	// Entry ids are dense and ascending.
	Append(ctx context.Context, e types.AuditEntry) (types.AuditEntry, error)

	// Last returns the most recent entry, or ErrNotFound on an empty log.
	Last(ctx context.Context) (types.AuditEntry, error)

	// Range returns entries with fromID <= entry_id <= toID in id order.
	Range(ctx context.Context, fromID, toID int64) ([]types.AuditEntry, error)

	// List returns up to limit entries with entry_id > afterID in id
	// order, for paginated reads.
	List(ctx context.Context, afterID int64, limit int) ([]types.AuditEntry, error)
}
