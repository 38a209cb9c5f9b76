package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/spotledger/internal/domain"
)

// DiscrepancyStore implements domain.DiscrepancyStore on SQLite.
type DiscrepancyStore struct {
	db *DB
}

// NewDiscrepancyStore creates a DiscrepancyStore.
func NewDiscrepancyStore(db *DB) *DiscrepancyStore {
	return &DiscrepancyStore{db: db}
}

const discrepancyCols = `id, exchange, symbol, system_balance, exchange_balance,
	difference, severity, note, reconciled, detected_at`

// AppendDiscrepancies inserts all rows in one transaction.
func (s *DiscrepancyStore) AppendDiscrepancies(ctx context.Context, ds []domain.InventoryDiscrepancy) error {
	if len(ds) == 0 {
		return nil
	}
	return s.db.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO inventory_discrepancies (`+discrepancyCols+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("sqlite: prepare discrepancy insert: %w", err)
		}
		defer stmt.Close()

		for i, d := range ds {
			if _, err := stmt.ExecContext(ctx,
				d.ID, d.Exchange, d.Symbol,
				d.SystemBalance.String(), d.ExchangeBalance.String(), d.Difference.String(),
				string(d.Severity), d.Note, d.Reconciled, formatTime(d.DetectedAt),
			); err != nil {
				return fmt.Errorf("sqlite: insert discrepancy %d (%s): %w", i, d.Symbol, err)
			}
		}
		return nil
	})
}

// ListDiscrepancies returns findings for exchange (all when empty), newest first.
func (s *DiscrepancyStore) ListDiscrepancies(ctx context.Context, exchange string, opts domain.ListOpts) ([]domain.InventoryDiscrepancy, error) {
	query := `SELECT ` + discrepancyCols + ` FROM inventory_discrepancies WHERE 1=1`
	var args []any
	if exchange != "" {
		query += " AND exchange = ?"
		args = append(args, exchange)
	}
	if opts.Since != nil {
		query += " AND detected_at >= ?"
		args = append(args, formatTime(*opts.Since))
	}
	if opts.Until != nil {
		query += " AND detected_at <= ?"
		args = append(args, formatTime(*opts.Until))
	}
	query += " ORDER BY detected_at DESC, symbol" + limitClause(opts, &args)
	return s.query(ctx, query, args...)
}

// ListDiscrepanciesBefore returns up to limit findings detected before the
// cutoff, oldest first.
func (s *DiscrepancyStore) ListDiscrepanciesBefore(ctx context.Context, before time.Time, limit int) ([]domain.InventoryDiscrepancy, error) {
	args := []any{formatTime(before)}
	query := `SELECT ` + discrepancyCols + ` FROM inventory_discrepancies WHERE detected_at < ? ORDER BY detected_at, symbol` +
		limitClause(domain.ListOpts{Limit: limit}, &args)
	return s.query(ctx, query, args...)
}

func (s *DiscrepancyStore) query(ctx context.Context, query string, args ...any) ([]domain.InventoryDiscrepancy, error) {
	rows, err := s.db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list discrepancies: %w", err)
	}
	defer rows.Close()

	var out []domain.InventoryDiscrepancy
	for rows.Next() {
		var d domain.InventoryDiscrepancy
		var system, onExchange, diff, severity, detected string
		if err := rows.Scan(&d.ID, &d.Exchange, &d.Symbol, &system, &onExchange, &diff,
			&severity, &d.Note, &d.Reconciled, &detected); err != nil {
			return nil, fmt.Errorf("sqlite: scan discrepancy: %w", err)
		}
		if d.SystemBalance, err = decimal.NewFromString(system); err != nil {
			return nil, fmt.Errorf("sqlite: scan discrepancy: %w", err)
		}
		if d.ExchangeBalance, err = decimal.NewFromString(onExchange); err != nil {
			return nil, fmt.Errorf("sqlite: scan discrepancy: %w", err)
		}
		if d.Difference, err = decimal.NewFromString(diff); err != nil {
			return nil, fmt.Errorf("sqlite: scan discrepancy: %w", err)
		}
		if d.DetectedAt, err = parseTime(detected); err != nil {
			return nil, fmt.Errorf("sqlite: scan discrepancy: %w", err)
		}
		d.Severity = domain.Severity(severity)
		out = append(out, d)
	}
	return out, rows.Err()
}

var _ domain.DiscrepancyStore = (*DiscrepancyStore)(nil)
