package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/spotledger/internal/domain"
)

// LedgerStore implements domain.LedgerStore using PostgreSQL. Numeric
// columns are written and read as text so no precision is lost.
type LedgerStore struct {
	pool *pgxpool.Pool
}

// NewLedgerStore creates a new LedgerStore backed by the given connection pool.
func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

const positionSelectCols = `id::text, symbol, exchange, quantity::text, avg_cost_basis::text,
	total_cost::text, buy_order_ids, first_buy_at, last_buy_at, realized_pnl::text,
	status, closed_at`

const tradeSelectCols = `order_id, symbol, exchange, side, quantity::text, price::text,
	fee::text, fee_currency, net_amount::text, executed_at, is_maker, slippage_bps::text`

// CommitTrade upserts the position row and appends the trade in a single
// transaction, serialised per key with a transaction-scoped advisory lock.
func (s *LedgerStore) CommitTrade(ctx context.Context, pos domain.Position, t domain.Trade) error {
	orderIDs, err := json.Marshal(pos.BuyOrderIDs)
	if err != nil {
		return fmt.Errorf("postgres: marshal buy orders: %w", err)
	}

	err = withTx(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, pos.Key().String()); err != nil {
			return fmt.Errorf("postgres: advisory lock %s: %w", pos.Key(), err)
		}

		const upsertPosition = `
			INSERT INTO positions (id, symbol, exchange, quantity, avg_cost_basis, total_cost,
				buy_order_ids, first_buy_at, last_buy_at, realized_pnl, status, closed_at, updated_at)
			VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6::numeric, $7, $8, $9, $10::numeric, $11, $12, NOW())
			ON CONFLICT (id) DO UPDATE SET
				quantity       = EXCLUDED.quantity,
				avg_cost_basis = EXCLUDED.avg_cost_basis,
				total_cost     = EXCLUDED.total_cost,
				buy_order_ids  = EXCLUDED.buy_order_ids,
				last_buy_at    = EXCLUDED.last_buy_at,
				realized_pnl   = EXCLUDED.realized_pnl,
				status         = EXCLUDED.status,
				closed_at      = EXCLUDED.closed_at,
				updated_at     = NOW()`
		if _, err := tx.Exec(ctx, upsertPosition,
			pos.ID, pos.Symbol, pos.Exchange,
			pos.Quantity.String(), pos.AvgCostBasis.String(), pos.TotalCost.String(),
			orderIDs, pos.FirstBuyAt, pos.LastBuyAt, pos.RealizedPnL.String(),
			string(pos.Status), pos.ClosedAt,
		); err != nil {
			return fmt.Errorf("postgres: upsert position %s: %w", pos.ID, err)
		}

		const insertTrade = `
			INSERT INTO trades (order_id, position_id, symbol, exchange, side, quantity, price,
				fee, fee_currency, net_amount, is_maker, slippage_bps, executed_at)
			VALUES ($1, $2, $3, $4, $5, $6::numeric, $7::numeric, $8::numeric, $9, $10::numeric, $11, $12::numeric, $13)`
		if _, err := tx.Exec(ctx, insertTrade,
			t.OrderID, pos.ID, t.Symbol, t.Exchange, string(t.Side),
			t.Quantity.String(), t.Price.String(), t.Fee.String(), t.FeeCurrency,
			t.NetAmount.String(), t.IsMaker, t.SlippageBps.String(), t.Timestamp,
		); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("postgres: order %s: %w", t.OrderID, domain.ErrDuplicateTrade)
			}
			return fmt.Errorf("postgres: insert trade %s: %w", t.OrderID, err)
		}
		return nil
	})
	if err != nil && !errors.Is(err, domain.ErrDuplicateTrade) {
		return fmt.Errorf("%w: %w", domain.ErrStorage, err)
	}
	return err
}

// ListOpenPositions returns every open position.
func (s *LedgerStore) ListOpenPositions(ctx context.Context) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE status = 'open' ORDER BY exchange, symbol`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open positions: %w", err)
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list open positions rows: %w", err)
	}
	return out, nil
}

// GetPosition returns a position row, open or closed.
func (s *LedgerStore) GetPosition(ctx context.Context, id string) (domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE id = $1`
	p, err := scanPosition(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return p, nil
}

// GetOpenPosition returns the open row for key.
func (s *LedgerStore) GetOpenPosition(ctx context.Context, key domain.PositionKey) (domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE exchange = $1 AND symbol = $2 AND status = 'open'`
	p, err := scanPosition(s.pool.QueryRow(ctx, query, key.Exchange, key.Symbol))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get open position %s: %w", key, err)
	}
	return p, nil
}

// ListTrades returns trades matching filter, newest first.
func (s *LedgerStore) ListTrades(ctx context.Context, f domain.TradeFilter, opts domain.ListOpts) ([]domain.Trade, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE 1=1`
	args := []any{}
	argIdx := 1

	if f.Symbol != "" {
		query += fmt.Sprintf(" AND symbol = $%d", argIdx)
		args = append(args, f.Symbol)
		argIdx++
	}
	if f.Exchange != "" {
		query += fmt.Sprintf(" AND exchange = $%d", argIdx)
		args = append(args, f.Exchange)
		argIdx++
	}
	if f.Side != "" {
		query += fmt.Sprintf(" AND side = $%d", argIdx)
		args = append(args, string(f.Side))
		argIdx++
	}
	if opts.Since != nil {
		query += fmt.Sprintf(" AND executed_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND executed_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY executed_at DESC, order_id"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	return s.queryTrades(ctx, query, args...)
}

// ListTradesBefore returns up to limit trades executed before the cutoff,
// oldest first.
func (s *LedgerStore) ListTradesBefore(ctx context.Context, before time.Time, limit int) ([]domain.Trade, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE executed_at < $1 ORDER BY executed_at, order_id`
	args := []any{before}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}
	return s.queryTrades(ctx, query, args...)
}

func (s *LedgerStore) queryTrades(ctx context.Context, query string, args ...any) ([]domain.Trade, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades: %w", err)
	}
	defer rows.Close()

	var out []domain.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan trade: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list trades rows: %w", err)
	}
	return out, nil
}

func scanPosition(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var qty, avg, total, pnl, status string
	var orderIDs []byte

	if err := row.Scan(
		&p.ID, &p.Symbol, &p.Exchange,
		&qty, &avg, &total, &orderIDs,
		&p.FirstBuyAt, &p.LastBuyAt, &pnl,
		&status, &p.ClosedAt,
	); err != nil {
		return domain.Position{}, err
	}
	if err := parseDecimals(
		decimalField{qty, &p.Quantity},
		decimalField{avg, &p.AvgCostBasis},
		decimalField{total, &p.TotalCost},
		decimalField{pnl, &p.RealizedPnL},
	); err != nil {
		return domain.Position{}, err
	}
	if err := json.Unmarshal(orderIDs, &p.BuyOrderIDs); err != nil {
		return domain.Position{}, fmt.Errorf("buy_order_ids: %w", err)
	}
	p.Status = domain.PositionStatus(status)
	return p, nil
}

func scanTrade(row pgx.Row) (domain.Trade, error) {
	var t domain.Trade
	var side, qty, price, fee, net, slip string

	if err := row.Scan(
		&t.OrderID, &t.Symbol, &t.Exchange, &side,
		&qty, &price, &fee, &t.FeeCurrency, &net,
		&t.Timestamp, &t.IsMaker, &slip,
	); err != nil {
		return domain.Trade{}, err
	}
	if err := parseDecimals(
		decimalField{qty, &t.Quantity},
		decimalField{price, &t.Price},
		decimalField{fee, &t.Fee},
		decimalField{net, &t.NetAmount},
		decimalField{slip, &t.SlippageBps},
	); err != nil {
		return domain.Trade{}, err
	}
	t.Side = domain.TradeSide(side)
	return t, nil
}

type decimalField struct {
	raw string
	dst *decimal.Decimal
}

func parseDecimals(fields ...decimalField) error {
	for _, f := range fields {
		v, err := decimal.NewFromString(f.raw)
		if err != nil {
			return fmt.Errorf("parse decimal %q: %w", f.raw, err)
		}
		*f.dst = v
	}
	return nil
}

// Compile-time interface check.
var _ domain.LedgerStore = (*LedgerStore)(nil)
