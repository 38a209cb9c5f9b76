package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Severity grades an inventory discrepancy.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// NoteUnexplainedAsset annotates a balance held on an exchange that the
// ledger never bought.
const NoteUnexplainedAsset = "unexplained asset - never sell"

// InventoryDiscrepancy is a mismatch between ledger quantity and the
// balance an exchange reports.
type InventoryDiscrepancy struct {
	ID              string          `json:"id"`
	Exchange        string          `json:"exchange"`
	Symbol          string          `json:"symbol"`
	SystemBalance   decimal.Decimal `json:"system_balance"`
	ExchangeBalance decimal.Decimal `json:"exchange_balance"`
	Difference      decimal.Decimal `json:"difference"`
	Severity        Severity        `json:"severity"`
	Note            string          `json:"note,omitempty"`
	Reconciled      bool            `json:"reconciled"`
	DetectedAt      time.Time       `json:"detected_at"`
}

// ReconciliationReport is the result of one reconcile pass over an exchange.
type ReconciliationReport struct {
	Exchange      string                 `json:"exchange"`
	CheckedAt     time.Time              `json:"checked_at"`
	Positions     int                    `json:"positions"`
	Discrepancies []InventoryDiscrepancy `json:"discrepancies"`
	Reconciled    bool                   `json:"reconciled"`
}

// Critical returns the discrepancies graded critical.
func (r ReconciliationReport) Critical() []InventoryDiscrepancy {
	var out []InventoryDiscrepancy
	for _, d := range r.Discrepancies {
		if d.Severity == SeverityCritical {
			out = append(out, d)
		}
	}
	return out
}
