package notify

import (
	"context"
	"fmt"

	"github.com/go-resty/resty/v2"
)

// DiscordSender delivers alerts to a Discord webhook.
type DiscordSender struct {
	webhookURL string
	client     *resty.Client
}

// NewDiscordSender creates a DiscordSender for the webhook URL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		client:     newHTTPClient(),
	}
}

// Send posts the alert with the title in bold. Discord answers 204.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	err := postJSON(ctx, d.client, d.webhookURL, map[string]string{
		"content": fmt.Sprintf("**%s**\n%s", title, message),
	})
	if err != nil {
		return fmt.Errorf("discord: %w", err)
	}
	return nil
}

func (d *DiscordSender) Name() string { return "discord" }
