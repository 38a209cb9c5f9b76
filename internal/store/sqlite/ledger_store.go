package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/spotledger/internal/domain"
)

// LedgerStore implements domain.LedgerStore on SQLite.
type LedgerStore struct {
	db *DB
}

// NewLedgerStore creates a LedgerStore.
func NewLedgerStore(db *DB) *LedgerStore {
	return &LedgerStore{db: db}
}

const positionCols = `id, symbol, exchange, quantity, avg_cost_basis, total_cost,
	buy_order_ids, first_buy_at, last_buy_at, realized_pnl, status, closed_at`

const tradeCols = `order_id, symbol, exchange, side, quantity, price, fee,
	fee_currency, net_amount, executed_at, is_maker, slippage_bps`

// CommitTrade upserts the position and appends the trade in one transaction.
func (s *LedgerStore) CommitTrade(ctx context.Context, pos domain.Position, t domain.Trade) error {
	orderIDs, err := json.Marshal(pos.BuyOrderIDs)
	if err != nil {
		return fmt.Errorf("sqlite: marshal buy orders: %w", err)
	}
	var closedAt sql.NullString
	if pos.ClosedAt != nil {
		closedAt = sql.NullString{String: formatTime(*pos.ClosedAt), Valid: true}
	}

	err = s.db.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO positions (`+positionCols+`, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				quantity = excluded.quantity,
				avg_cost_basis = excluded.avg_cost_basis,
				total_cost = excluded.total_cost,
				buy_order_ids = excluded.buy_order_ids,
				last_buy_at = excluded.last_buy_at,
				realized_pnl = excluded.realized_pnl,
				status = excluded.status,
				closed_at = excluded.closed_at,
				updated_at = excluded.updated_at`,
			pos.ID, pos.Symbol, pos.Exchange,
			pos.Quantity.String(), pos.AvgCostBasis.String(), pos.TotalCost.String(),
			string(orderIDs), formatTime(pos.FirstBuyAt), formatTime(pos.LastBuyAt),
			pos.RealizedPnL.String(), string(pos.Status), closedAt, formatTime(time.Now()),
		)
		if err != nil {
			return fmt.Errorf("sqlite: upsert position %s: %w", pos.ID, err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO trades (order_id, position_id, symbol, exchange, side, quantity, price,
				fee, fee_currency, net_amount, is_maker, slippage_bps, executed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.OrderID, pos.ID, t.Symbol, t.Exchange, string(t.Side),
			t.Quantity.String(), t.Price.String(), t.Fee.String(), t.FeeCurrency,
			t.NetAmount.String(), t.IsMaker, t.SlippageBps.String(), formatTime(t.Timestamp),
		)
		if err != nil {
			if isConstraintViolation(err) {
				return fmt.Errorf("sqlite: order %s: %w", t.OrderID, domain.ErrDuplicateTrade)
			}
			return fmt.Errorf("sqlite: insert trade %s: %w", t.OrderID, err)
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
	rows, err := s.db.db.QueryContext(ctx,
		`SELECT `+positionCols+` FROM positions WHERE status = 'open' ORDER BY exchange, symbol`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list open positions: %w", err)
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan position: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetPosition returns a position row, open or closed.
func (s *LedgerStore) GetPosition(ctx context.Context, id string) (domain.Position, error) {
	row := s.db.db.QueryRowContext(ctx, `SELECT `+positionCols+` FROM positions WHERE id = ?`, id)
	p, err := scanPosition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Position{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Position{}, fmt.Errorf("sqlite: get position %s: %w", id, err)
	}
	return p, nil
}

// GetOpenPosition returns the open row for key.
func (s *LedgerStore) GetOpenPosition(ctx context.Context, key domain.PositionKey) (domain.Position, error) {
	row := s.db.db.QueryRowContext(ctx,
		`SELECT `+positionCols+` FROM positions WHERE exchange = ? AND symbol = ? AND status = 'open'`,
		key.Exchange, key.Symbol)
	p, err := scanPosition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Position{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Position{}, fmt.Errorf("sqlite: get open position %s: %w", key, err)
	}
	return p, nil
}

// ListTrades returns trades matching filter, newest first.
func (s *LedgerStore) ListTrades(ctx context.Context, f domain.TradeFilter, opts domain.ListOpts) ([]domain.Trade, error) {
	var where []string
	var args []any
	if f.Symbol != "" {
		where = append(where, "symbol = ?")
		args = append(args, f.Symbol)
	}
	if f.Exchange != "" {
		where = append(where, "exchange = ?")
		args = append(args, f.Exchange)
	}
	if f.Side != "" {
		where = append(where, "side = ?")
		args = append(args, string(f.Side))
	}
	if opts.Since != nil {
		where = append(where, "executed_at >= ?")
		args = append(args, formatTime(*opts.Since))
	}
	if opts.Until != nil {
		where = append(where, "executed_at <= ?")
		args = append(args, formatTime(*opts.Until))
	}

	query := `SELECT ` + tradeCols + ` FROM trades`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY executed_at DESC, order_id" + limitClause(opts, &args)
	return s.queryTrades(ctx, query, args...)
}

// ListTradesBefore returns up to limit trades executed before the cutoff,
// oldest first.
func (s *LedgerStore) ListTradesBefore(ctx context.Context, before time.Time, limit int) ([]domain.Trade, error) {
	args := []any{formatTime(before)}
	query := `SELECT ` + tradeCols + ` FROM trades WHERE executed_at < ? ORDER BY executed_at, order_id` +
		limitClause(domain.ListOpts{Limit: limit}, &args)
	return s.queryTrades(ctx, query, args...)
}

func (s *LedgerStore) queryTrades(ctx context.Context, query string, args ...any) ([]domain.Trade, error) {
	rows, err := s.db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list trades: %w", err)
	}
	defer rows.Close()

	var out []domain.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan trade: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPosition(row scanner) (domain.Position, error) {
	var p domain.Position
	var qty, avg, total, orderIDs, first, last, pnl, status string
	var closedAt sql.NullString

	if err := row.Scan(&p.ID, &p.Symbol, &p.Exchange, &qty, &avg, &total,
		&orderIDs, &first, &last, &pnl, &status, &closedAt); err != nil {
		return domain.Position{}, err
	}

	var err error
	if p.Quantity, err = decimal.NewFromString(qty); err != nil {
		return domain.Position{}, err
	}
	if p.AvgCostBasis, err = decimal.NewFromString(avg); err != nil {
		return domain.Position{}, err
	}
	if p.TotalCost, err = decimal.NewFromString(total); err != nil {
		return domain.Position{}, err
	}
	if p.RealizedPnL, err = decimal.NewFromString(pnl); err != nil {
		return domain.Position{}, err
	}
	if p.FirstBuyAt, err = parseTime(first); err != nil {
		return domain.Position{}, err
	}
	if p.LastBuyAt, err = parseTime(last); err != nil {
		return domain.Position{}, err
	}
	if closedAt.Valid {
		at, err := parseTime(closedAt.String)
		if err != nil {
			return domain.Position{}, err
		}
		p.ClosedAt = &at
	}
	if err := json.Unmarshal([]byte(orderIDs), &p.BuyOrderIDs); err != nil {
		return domain.Position{}, err
	}
	p.Status = domain.PositionStatus(status)
	return p, nil
}

func scanTrade(row scanner) (domain.Trade, error) {
	var t domain.Trade
	var side, qty, price, fee, net, executed, slip string

	if err := row.Scan(&t.OrderID, &t.Symbol, &t.Exchange, &side, &qty, &price, &fee,
		&t.FeeCurrency, &net, &executed, &t.IsMaker, &slip); err != nil {
		return domain.Trade{}, err
	}

	var err error
	for _, f := range []struct {
		raw string
		dst *decimal.Decimal
	}{
		{qty, &t.Quantity}, {price, &t.Price}, {fee, &t.Fee}, {net, &t.NetAmount}, {slip, &t.SlippageBps},
	} {
		if *f.dst, err = decimal.NewFromString(f.raw); err != nil {
			return domain.Trade{}, err
		}
	}
	if t.Timestamp, err = parseTime(executed); err != nil {
		return domain.Trade{}, err
	}
	t.Side = domain.TradeSide(side)
	return t, nil
}

func limitClause(opts domain.ListOpts, args *[]any) string {
	if opts.Limit <= 0 && opts.Offset <= 0 {
		return ""
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = -1
	}
	*args = append(*args, limit, opts.Offset)
	return " LIMIT ? OFFSET ?"
}

var _ domain.LedgerStore = (*LedgerStore)(nil)
