package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/alanyoungcy/spotledger/internal/domain"
)

// EventPublisher fans ledger events out to the log, the signal bus and the
// audit log. bus and audit may be nil. Delivery failures are logged and never
// returned; the event has already happened.
type EventPublisher struct {
	bus    domain.SignalBus
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewEventPublisher creates an EventPublisher.
func NewEventPublisher(bus domain.SignalBus, audit domain.AuditStore, logger *slog.Logger) *EventPublisher {
	return &EventPublisher{bus: bus, audit: audit, logger: logger}
}

// Publish records ev durably: it is logged, sent to live subscribers,
// appended to the event stream and written to the audit log. A zero At is
// set to the current time.
func (p *EventPublisher) Publish(ctx context.Context, ev domain.LedgerEvent) {
	p.emit(ctx, &ev, true)
}

// Broadcast logs ev and sends it to live subscribers only. Validation
// results use it since callers poll Validate on every price tick.
func (p *EventPublisher) Broadcast(ctx context.Context, ev domain.LedgerEvent) {
	p.emit(ctx, &ev, false)
}

func (p *EventPublisher) emit(ctx context.Context, ev *domain.LedgerEvent, persist bool) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	level := slog.LevelInfo
	switch ev.Type {
	case domain.EventSellRejected, domain.EventDiscrepancyFound:
		level = slog.LevelWarn
	}
	p.logger.Log(ctx, level, "ledger event",
		slog.String("event", string(ev.Type)),
		slog.String("symbol", ev.Symbol),
		slog.String("exchange", ev.Exchange),
		slog.Any("detail", ev.Detail),
	)

	if p.bus != nil {
		payload, err := json.Marshal(ev)
		if err == nil {
			err = p.bus.Publish(ctx, domain.LedgerEventsChannel, payload)
			if persist {
				err = errors.Join(err, p.bus.StreamAppend(ctx, domain.LedgerEventsStream, payload))
			}
		}
		if err != nil {
			p.logger.WarnContext(ctx, "events: publish failed",
				slog.String("event", string(ev.Type)),
				slog.String("error", err.Error()),
			)
		}
	}

	if persist && p.audit != nil {
		detail := make(map[string]any, len(ev.Detail)+2)
		for k, v := range ev.Detail {
			detail[k] = v
		}
		detail["symbol"] = ev.Symbol
		detail["exchange"] = ev.Exchange
		if err := p.audit.Log(ctx, string(ev.Type), detail); err != nil {
			p.logger.WarnContext(ctx, "events: audit log failed",
				slog.String("event", string(ev.Type)),
				slog.String("error", err.Error()),
			)
		}
	}
}
