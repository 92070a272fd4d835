package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	dbpkg "github.com/hingelabs/hinge/server/internal/db"
	"github.com/hingelabs/hinge/server/internal/hinge/store"
	"github.com/hingelabs/hinge/server/internal/hinge/types"
)

type TicketStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewTicketStore(db *sql.DB, writer *dbpkg.Worker) *TicketStore {
	return &TicketStore{db: db, writer: writer}
}

func (s *TicketStore) Insert(ctx context.Context, t types.CommandTicket) error {
	issuedMs := t.IssuedAt.UTC().UnixMilli()

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx,
			`SELECT 1 FROM command_tickets WHERE ticket_id = ?;`, t.TicketID,
		).Scan(&exists)
		if err == nil {
			return store.ErrDuplicate
		}
		if err != sql.ErrNoRows {
			return fmt.Errorf("Insert check ticket: %w", err)
		}

		err = tx.QueryRowContext(ctx, `
SELECT 1 FROM command_tickets
WHERE device_id = ? AND status IN ('ISSUED', 'ACKED');
`, t.DeviceID).Scan(&exists)
		if err == nil {
			return store.ErrDeviceBusy
		}
		if err != sql.ErrNoRows {
			return fmt.Errorf("Insert check in-flight: %w", err)
		}

		var args any
		if len(t.Args) > 0 {
			args = string(t.Args)
		}
		// idx_tickets_inflight backstops the in-flight check for writers
		// outside this process.
		if _, err := tx.ExecContext(ctx, `
INSERT INTO command_tickets(ticket_id, device_id, command_type, args, status, attempt_count, issued_at_ms)
VALUES (?, ?, ?, ?, ?, ?, ?);
`, t.TicketID, t.DeviceID, string(t.CommandType), args, string(t.Status), t.AttemptCount, issuedMs); err != nil {
			return fmt.Errorf("Insert ticket: %w", err)
		}
		return nil
	})
}

func (s *TicketStore) Get(ctx context.Context, ticketID string) (types.CommandTicket, error) {
	var t types.CommandTicket
	var commandType, status string
	var args sql.NullString
	var issuedMs int64
	var lastAttemptMs sql.NullInt64

	err := s.db.QueryRowContext(ctx, `
SELECT ticket_id, device_id, command_type, args, status, fail_reason, attempt_count, issued_at_ms, last_attempt_at_ms
FROM command_tickets
WHERE ticket_id = ?;
`, ticketID).Scan(&t.TicketID, &t.DeviceID, &commandType, &args, &status, &t.FailReason, &t.AttemptCount, &issuedMs, &lastAttemptMs)

	if err == sql.ErrNoRows {
		return types.CommandTicket{}, store.ErrNotFound
	}
	if err != nil {
		return types.CommandTicket{}, fmt.Errorf("Get ticket: %w", err)
	}

	t.CommandType = types.CommandType(commandType)
	t.Status = types.TicketStatus(status)
	if args.Valid {
		t.Args = []byte(args.String)
	}
	t.IssuedAt = time.UnixMilli(issuedMs).UTC()
	if lastAttemptMs.Valid {
		t.LastAttemptAt = time.UnixMilli(lastAttemptMs.Int64).UTC()
	}
	return t, nil
}

func (s *TicketStore) Transition(ctx context.Context, ticketID string, from, to types.TicketStatus, failReason string, _ time.Time) error {
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
UPDATE command_tickets
SET status = ?, fail_reason = ?
WHERE ticket_id = ? AND status = ?;
`, string(to), failReason, ticketID, string(from))
		if err != nil {
			return fmt.Errorf("Transition: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			var exists int
			err := tx.QueryRowContext(ctx,
				`SELECT 1 FROM command_tickets WHERE ticket_id = ?;`, ticketID,
			).Scan(&exists)
			if err == sql.ErrNoRows {
				return store.ErrNotFound
			}
			if err != nil {
				return fmt.Errorf("Transition check ticket: %w", err)
			}
			return store.ErrConflict
		}
		return nil
	})
}

func (s *TicketStore) RecordAttempt(ctx context.Context, ticketID string, attempt int, at time.Time) error {
	atMs := at.UTC().UnixMilli()

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
UPDATE command_tickets
SET attempt_count = ?, last_attempt_at_ms = ?
WHERE ticket_id = ?;
`, attempt, atMs, ticketID)
		if err != nil {
			return fmt.Errorf("RecordAttempt: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return store.ErrNotFound
		}
		return nil
	})
}

// ListNonTerminal uses the idx_tickets_inflight partial index.
func (s *TicketStore) ListNonTerminal(ctx context.Context) ([]types.CommandTicket, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT ticket_id, device_id, command_type, args, status, fail_reason, attempt_count, issued_at_ms, last_attempt_at_ms
FROM command_tickets
WHERE status IN ('ISSUED', 'ACKED')
ORDER BY issued_at_ms;
`)
	if err != nil {
		return nil, fmt.Errorf("ListNonTerminal: %w", err)
	}
	defer rows.Close()

	var out []types.CommandTicket
	for rows.Next() {
		var t types.CommandTicket
		var commandType, status string
		var args sql.NullString
		var issuedMs int64
		var lastAttemptMs sql.NullInt64

		if err := rows.Scan(&t.TicketID, &t.DeviceID, &commandType, &args, &status, &t.FailReason, &t.AttemptCount, &issuedMs, &lastAttemptMs); err != nil {
			return nil, fmt.Errorf("ListNonTerminal scan: %w", err)
		}
		t.CommandType = types.CommandType(commandType)
		t.Status = types.TicketStatus(status)
		if args.Valid {
			t.Args = []byte(args.String)
		}
		t.IssuedAt = time.UnixMilli(issuedMs).UTC()
		if lastAttemptMs.Valid {
			t.LastAttemptAt = time.UnixMilli(lastAttemptMs.Int64).UTC()
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// PruneTerminalBefore uses the idx_tickets_terminal_age partial index.
func (s *TicketStore) PruneTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	cutoffMs := cutoff.UTC().UnixMilli()

	var deleted int64
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
DELETE FROM command_tickets
WHERE status IN ('EXECUTED', 'FAILED', 'TIMED_OUT') AND issued_at_ms < ?;
`, cutoffMs)
		if err != nil {
			return fmt.Errorf("PruneTerminalBefore: %w", err)
		}
		deleted, _ = res.RowsAffected()
		return nil
	})
	return deleted, err
}
