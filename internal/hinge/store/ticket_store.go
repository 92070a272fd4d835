package store

import (
	"context"
	"time"

	"github.com/hingelabs/hinge/server/internal/hinge/types"
)

// TicketStore persists command tickets. The at-most-one-in-flight-per-device
// invariant is enforced here, at insert time, so it holds even across
// processes sharing one database.
type TicketStore interface {
	// Insert stores a new ISSUED ticket. Returns ErrDuplicate if the
	// ticket_id exists and ErrDeviceBusy if the device already has a
	// non-terminal ticket.
	Insert(ctx context.Context, t types.CommandTicket) error

	// Get returns the ticket or ErrNotFound.
	Get(ctx context.Context, ticketID string) (types.CommandTicket, error)

	// Transition moves the ticket from status from to status to, recording
	// failReason when to is FAILED or TIMED_OUT. Returns ErrConflict if
	// the stored status is not from (the compare-and-set lost), which is
	// how terminal states stay immutable.
	Transition(ctx context.Context, ticketID string, from, to types.TicketStatus, failReason string, now time.Time) error

	// RecordAttempt bumps attempt_count and last_attempt_at after a
	// publish attempt.
	RecordAttempt(ctx context.Context, ticketID string, attempt int, at time.Time) error

	// ListNonTerminal returns every ISSUED or ACKED ticket, for crash
	// recovery at startup.
	ListNonTerminal(ctx context.Context) ([]types.CommandTicket, error)

	// PruneTerminalBefore deletes terminal tickets issued before cutoff,
	// returning the number deleted.
	PruneTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
