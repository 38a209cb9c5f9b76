package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/spotledger/internal/domain"
)

// DiscrepancyStore implements domain.DiscrepancyStore using PostgreSQL.
type DiscrepancyStore struct {
	pool *pgxpool.Pool
}

// NewDiscrepancyStore creates a new DiscrepancyStore backed by the given pool.
func NewDiscrepancyStore(pool *pgxpool.Pool) *DiscrepancyStore {
	return &DiscrepancyStore{pool: pool}
}

const discrepancySelectCols = `id::text, exchange, symbol, system_balance::text,
	exchange_balance::text, difference::text, severity, note, reconciled, detected_at`

// AppendDiscrepancies inserts all rows in one batch.
func (s *DiscrepancyStore) AppendDiscrepancies(ctx context.Context, ds []domain.InventoryDiscrepancy) error {
	if len(ds) == 0 {
		return nil
	}

	const query = `
		INSERT INTO inventory_discrepancies (id, exchange, symbol, system_balance,
			exchange_balance, difference, severity, note, reconciled, detected_at)
		VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6::numeric, $7, $8, $9, $10)`

	batch := &pgx.Batch{}
	for _, d := range ds {
		batch.Queue(query,
			d.ID, d.Exchange, d.Symbol,
			d.SystemBalance.String(), d.ExchangeBalance.String(), d.Difference.String(),
			string(d.Severity), d.Note, d.Reconciled, d.DetectedAt,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range ds {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert discrepancy %d (%s): %w", i, ds[i].Symbol, err)
		}
	}
	return nil
}

// ListDiscrepancies returns findings for exchange (all when empty), newest first.
func (s *DiscrepancyStore) ListDiscrepancies(ctx context.Context, exchange string, opts domain.ListOpts) ([]domain.InventoryDiscrepancy, error) {
	query := `SELECT ` + discrepancySelectCols + ` FROM inventory_discrepancies WHERE 1=1`
	args := []any{}
	argIdx := 1

	if exchange != "" {
		query += fmt.Sprintf(" AND exchange = $%d", argIdx)
		args = append(args, exchange)
		argIdx++
	}
	if opts.Since != nil {
		query += fmt.Sprintf(" AND detected_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND detected_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY detected_at DESC, symbol"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	return s.query(ctx, query, args...)
}

// ListDiscrepanciesBefore returns up to limit findings detected before the
// cutoff, oldest first.
func (s *DiscrepancyStore) ListDiscrepanciesBefore(ctx context.Context, before time.Time, limit int) ([]domain.InventoryDiscrepancy, error) {
	query := `SELECT ` + discrepancySelectCols + ` FROM inventory_discrepancies WHERE detected_at < $1 ORDER BY detected_at, symbol`
	args := []any{before}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}
	return s.query(ctx, query, args...)
}

func (s *DiscrepancyStore) query(ctx context.Context, query string, args ...any) ([]domain.InventoryDiscrepancy, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list discrepancies: %w", err)
	}
	defer rows.Close()

	var out []domain.InventoryDiscrepancy
	for rows.Next() {
		var d domain.InventoryDiscrepancy
		var system, onExchange, diff, severity string
		if err := rows.Scan(
			&d.ID, &d.Exchange, &d.Symbol,
			&system, &onExchange, &diff,
			&severity, &d.Note, &d.Reconciled, &d.DetectedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan discrepancy: %w", err)
		}
		if err := parseDecimals(
			decimalField{system, &d.SystemBalance},
			decimalField{onExchange, &d.ExchangeBalance},
			decimalField{diff, &d.Difference},
		); err != nil {
			return nil, fmt.Errorf("postgres: scan discrepancy: %w", err)
		}
		d.Severity = domain.Severity(severity)
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list discrepancies rows: %w", err)
	}
	return out, nil
}

// Compile-time interface check.
var _ domain.DiscrepancyStore = (*DiscrepancyStore)(nil)
