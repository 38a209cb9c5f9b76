// Package balances reads exchange balance snapshots for reconciliation.
package balances

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/alanyoungcy/spotledger/internal/domain"
)

// quantity decodes a YAML scalar straight into a decimal so values such as
// 0.1 never pass through float64.
type quantity struct {
	decimal.Decimal
}

func (q *quantity) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: balance must be a scalar", node.Line)
	}
	d, err := decimal.NewFromString(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	q.Decimal = d
	return nil
}

// Snapshot is a point-in-time copy of what exchanges report holding.
//
//	taken_at: 2026-01-31T00:00:00Z
//	exchanges:
//	  binance:
//	    BTCUSDT: "0.5"
//	    ETHUSDT: 2
type Snapshot struct {
	TakenAt   time.Time                      `yaml:"taken_at"`
	Exchanges map[string]map[string]quantity `yaml:"exchanges"`
}

// FileSource implements domain.BalanceSource over a YAML snapshot file. The
// file is re-read on every call so an external exporter can replace it.
type FileSource struct {
	path string
}

// NewFileSource creates a FileSource reading path.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// Load parses the snapshot file.
func (s *FileSource) Load() (Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("balances: read %s: %w", s.path, err)
	}
	var snap Snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("balances: parse %s: %w", s.path, err)
	}
	return snap, nil
}

// Exchanges lists the exchanges present in the snapshot.
func (s *FileSource) Exchanges() ([]string, error) {
	snap, err := s.Load()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(snap.Exchanges))
	for ex := range snap.Exchanges {
		out = append(out, domain.NormalizeExchange(ex))
	}
	return out, nil
}

// Balances returns the exchange's balances. Exchange names match case
// insensitively. It returns domain.ErrNotFound when the snapshot has no
// entry for the exchange.
func (s *FileSource) Balances(_ context.Context, exchange string) (map[string]decimal.Decimal, error) {
	snap, err := s.Load()
	if err != nil {
		return nil, err
	}
	want := domain.NormalizeExchange(exchange)
	for ex, held := range snap.Exchanges {
		if domain.NormalizeExchange(ex) != want {
			continue
		}
		out := make(map[string]decimal.Decimal, len(held))
		for sym, q := range held {
			out[sym] = q.Decimal
		}
		return out, nil
	}
	return nil, fmt.Errorf("balances: %s not in %s: %w", exchange, s.path, domain.ErrNotFound)
}

var _ domain.BalanceSource = (*FileSource)(nil)
