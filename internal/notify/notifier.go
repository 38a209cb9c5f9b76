// Package notify delivers operator alerts (unexplained balances, ledger
// invariant violations) to chat channels. Alerts are filtered by event type
// so operators receive only what they asked for.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/spotledger/internal/config"
	"github.com/alanyoungcy/spotledger/internal/logging"
)

// Sender is one notification channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier dispatches alerts to every registered Sender.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. Only events listed in events are
// forwarded by Notify; an empty list forwards everything.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// FromConfig builds a Notifier from the [notify] section. Telegram and
// Discord are added when their credentials are set. With neither, alerts are
// written to the log at CRITICAL so they are never silently dropped.
func FromConfig(cfg config.NotifyConfig, logger *slog.Logger) *Notifier {
	var senders []Sender
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		senders = append(senders, NewTelegramSender(cfg.TelegramToken, cfg.TelegramChatID))
	}
	if cfg.DiscordWebhookURL != "" {
		senders = append(senders, NewDiscordSender(cfg.DiscordWebhookURL))
	}
	if len(senders) == 0 {
		senders = append(senders, NewLogSender(logger))
	}
	return NewNotifier(senders, cfg.Events, logger)
}

// Notify sends the alert if its event type is allowed.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// NotifyAll sends the alert regardless of event type.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	return n.dispatch(ctx, title, message)
}

// dispatch tries every sender; one failing sender does not stop the rest.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}

// LogSender writes alerts to the structured log.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender creates a LogSender.
func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger.With(slog.String("component", "alert"))}
}

func (l *LogSender) Send(ctx context.Context, title, message string) error {
	l.logger.Log(ctx, logging.LevelCritical, title, slog.String("message", message))
	return nil
}

func (l *LogSender) Name() string { return "log" }
