package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/spotledger/internal/domain"
)

// AuditStore implements domain.AuditStore on SQLite. detail is stored as
// JSON text.
type AuditStore struct {
	db *DB
}

// NewAuditStore creates an AuditStore.
func NewAuditStore(db *DB) *AuditStore {
	return &AuditStore{db: db}
}

// Log appends an audit entry.
func (s *AuditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	detailJSON, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("sqlite: marshal audit detail: %w", err)
	}
	_, err = s.db.db.ExecContext(ctx,
		`INSERT INTO audit_log (event, detail, created_at) VALUES (?, ?, ?)`,
		event, string(detailJSON), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("sqlite: log audit event %s: %w", event, err)
	}
	return nil
}

// List returns audit entries, newest first.
func (s *AuditStore) List(ctx context.Context, event string, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	query := `SELECT id, event, detail, created_at FROM audit_log WHERE 1=1`
	var args []any
	if event != "" {
		query += " AND event = ?"
		args = append(args, event)
	}
	if opts.Since != nil {
		query += " AND created_at >= ?"
		args = append(args, formatTime(*opts.Since))
	}
	if opts.Until != nil {
		query += " AND created_at <= ?"
		args = append(args, formatTime(*opts.Until))
	}
	query += " ORDER BY id DESC" + limitClause(opts, &args)

	rows, err := s.db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		var detail, created string
		if err := rows.Scan(&e.ID, &e.Event, &detail, &created); err != nil {
			return nil, fmt.Errorf("sqlite: scan audit entry: %w", err)
		}
		if detail != "" && detail != "null" {
			if err := json.Unmarshal([]byte(detail), &e.Detail); err != nil {
				return nil, fmt.Errorf("sqlite: unmarshal audit detail: %w", err)
			}
		}
		if e.CreatedAt, err = parseTime(created); err != nil {
			return nil, fmt.Errorf("sqlite: scan audit entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

var _ domain.AuditStore = (*AuditStore)(nil)
