// Package fees resolves exchange trading fee rates.
package fees

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/spotledger/internal/config"
	"github.com/alanyoungcy/spotledger/internal/domain"
)

// Model is an immutable fee schedule keyed by lower-case exchange name.
// It is safe for concurrent use.
type Model struct {
	rates map[string]config.FeeRates
}

// NewModel copies schedule into a Model. Exchange names are normalised.
func NewModel(schedule map[string]config.FeeRates) *Model {
	rates := make(map[string]config.FeeRates, len(schedule))
	for name, r := range schedule {
		rates[domain.NormalizeExchange(name)] = r
	}
	return &Model{rates: rates}
}

// Rate returns the maker or taker fee rate for exchange.
func (m *Model) Rate(exchange string, isMaker bool) (decimal.Decimal, error) {
	r, ok := m.rates[domain.NormalizeExchange(exchange)]
	if !ok {
		return decimal.Zero, fmt.Errorf("fees: %q: %w", exchange, domain.ErrUnknownExchange)
	}
	if isMaker {
		return r.Maker, nil
	}
	return r.Taker, nil
}

// Known reports whether exchange has a fee schedule.
func (m *Model) Known(exchange string) bool {
	_, ok := m.rates[domain.NormalizeExchange(exchange)]
	return ok
}

// Exchanges returns the configured exchanges in sorted order.
func (m *Model) Exchanges() []string {
	out := make([]string, 0, len(m.rates))
	for name := range m.rates {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
