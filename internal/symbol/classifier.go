// Package symbol decides which trading symbols are plain spot pairs.
package symbol

import (
	"strings"

	"github.com/alanyoungcy/spotledger/internal/domain"
)

// derivativeMarkers are substrings that indicate a derivative, leveraged
// token or margin product. Separators are included because spot symbols
// here are written without them (BTCUSDT, ETHBTC).
var derivativeMarkers = []string{
	"PERP", "SWAP", "-", "_", "FUTURE", "FUT", "MARGIN", "LEVER",
	"BULL", "BEAR", "UP", "DOWN", "3L", "3S", "5L", "5S",
}

// quoteSuffixes are the quote assets a spot symbol may end in.
var quoteSuffixes = []string{"USDT", "USDC", "BTC", "ETH", "AUD", "USD"}

// Classifier is stateless and safe for concurrent use.
type Classifier struct{}

// NewClassifier returns a Classifier.
func NewClassifier() *Classifier { return &Classifier{} }

// IsSpotEligible reports whether symbol is a plain spot pair. Anything
// that is not recognised is rejected.
func (c *Classifier) IsSpotEligible(symbol string) bool {
	return c.Reason(symbol) == ""
}

// Reason explains why symbol is not spot-eligible, or returns "" when it is.
func (c *Classifier) Reason(symbol string) string {
	s := domain.NormalizeSymbol(symbol)
	if s == "" {
		return "empty symbol"
	}
	for _, m := range derivativeMarkers {
		if strings.Contains(s, m) {
			return "contains derivative marker " + m
		}
	}
	for _, q := range quoteSuffixes {
		if strings.HasSuffix(s, q) && len(s) > len(q) {
			return ""
		}
	}
	return "no recognised quote asset"
}
