package ledger

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/spotledger/internal/domain"
)

// Summary rolls up the open positions. marks supplies current prices for
// unrealized PnL; positions without a mark are counted as unpriced.
func (l *Ledger) Summary(marks map[domain.PositionKey]decimal.Decimal) domain.PositionSummary {
	sum := domain.PositionSummary{
		ByExchange:  make(map[string]domain.ExchangeSummary),
		GeneratedAt: time.Now().UTC(),
	}
	for _, p := range l.Positions("") {
		ex := sum.ByExchange[p.Exchange]
		ex.Exchange = p.Exchange
		ex.Positions++
		ex.TotalCost = ex.TotalCost.Add(p.TotalCost)
		ex.RealizedPnL = ex.RealizedPnL.Add(p.RealizedPnL)

		if mark, ok := marks[p.Key()]; ok {
			value := mark.Mul(p.Quantity)
			ex.MarketValue = ex.MarketValue.Add(value)
			ex.UnrealizedPnL = ex.UnrealizedPnL.Add(value.Sub(p.TotalCost))
		} else {
			ex.Unpriced++
		}
		sum.ByExchange[p.Exchange] = ex
	}

	for _, ex := range sum.ByExchange {
		sum.TotalPositions += ex.Positions
		sum.TotalCost = sum.TotalCost.Add(ex.TotalCost)
		sum.RealizedPnL = sum.RealizedPnL.Add(ex.RealizedPnL)
		sum.UnrealizedPnL = sum.UnrealizedPnL.Add(ex.UnrealizedPnL)
	}
	return sum
}
