package domain

import "time"

// EventType names a ledger event.
type EventType string

const (
	EventBuyRecorded      EventType = "buy_recorded"
	EventSellAccepted     EventType = "sell_accepted"
	EventSellRejected     EventType = "sell_rejected"
	EventSellRecorded     EventType = "sell_recorded"
	EventPositionClosed   EventType = "position_closed"
	EventDiscrepancyFound EventType = "discrepancy_found"
)

// LedgerEventsChannel is the pub/sub channel ledger events are published on.
const LedgerEventsChannel = "ledger:events"

// LedgerEventsStream is the capped stream ledger events are appended to for
// replay.
const LedgerEventsStream = "ledger:events:log"

// LedgerEvent is a structured record of a ledger decision or mutation.
type LedgerEvent struct {
	Type     EventType      `json:"type"`
	Symbol   string         `json:"symbol,omitempty"`
	Exchange string         `json:"exchange,omitempty"`
	Detail   map[string]any `json:"detail,omitempty"`
	At       time.Time      `json:"at"`
}
