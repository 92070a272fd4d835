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

type AuditStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewAuditStore(db *sql.DB, writer *dbpkg.Worker) *AuditStore {
	return &AuditStore{db: db, writer: writer}
}

func (s *AuditStore) Append(ctx context.Context, e types.AuditEntry) (types.AuditEntry, error) {
	createdMs := e.CreatedAt.UTC().UnixMilli()

	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
INSERT INTO audit_entries(actor, action, object_ref, details, prev_hash, hash, created_at_ms)
VALUES (?, ?, ?, ?, ?, ?, ?);
`, e.Actor, e.Action, e.ObjectRef, e.Details, e.PrevHash, e.Hash, createdMs)
		if err != nil {
			return fmt.Errorf("Append entry: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("Append last id: %w", err)
		}
		e.EntryID = id
		return nil
	})
	if err != nil {
		return types.AuditEntry{}, err
	}
	return e, nil
}

func (s *AuditStore) Last(ctx context.Context) (types.AuditEntry, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT entry_id, actor, action, object_ref, details, prev_hash, hash, created_at_ms
FROM audit_entries
ORDER BY entry_id DESC
LIMIT 1;
`)
	return scanEntry(row)
}

func (s *AuditStore) Range(ctx context.Context, fromID, toID int64) ([]types.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT entry_id, actor, action, object_ref, details, prev_hash, hash, created_at_ms
FROM audit_entries
WHERE entry_id >= ? AND entry_id <= ?
ORDER BY entry_id;
`, fromID, toID)
	if err != nil {
		return nil, fmt.Errorf("Range query: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (s *AuditStore) List(ctx context.Context, afterID int64, limit int) ([]types.AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT entry_id, actor, action, object_ref, details, prev_hash, hash, created_at_ms
FROM audit_entries
WHERE entry_id > ?
ORDER BY entry_id
LIMIT ?;
`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("List query: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (types.AuditEntry, error) {
	var e types.AuditEntry
	var createdMs int64
	err := row.Scan(&e.EntryID, &e.Actor, &e.Action, &e.ObjectRef, &e.Details, &e.PrevHash, &e.Hash, &createdMs)
	if err == sql.ErrNoRows {
		return types.AuditEntry{}, store.ErrNotFound
	}
	if err != nil {
		return types.AuditEntry{}, fmt.Errorf("scan audit entry: %w", err)
	}
	e.CreatedAt = time.UnixMilli(createdMs).UTC()
	return e, nil
}

func scanEntries(rows *sql.Rows) ([]types.AuditEntry, error) {
	var out []types.AuditEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
