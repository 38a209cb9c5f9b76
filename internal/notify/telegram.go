package notify

import (
	"context"
	"fmt"

	"github.com/go-resty/resty/v2"
)

const telegramAPI = "https://api.telegram.org"

// TelegramSender delivers alerts through the Telegram Bot API.
type TelegramSender struct {
	baseURL string
	token   string
	chatID  string
	client  *resty.Client
}

// NewTelegramSender creates a TelegramSender for a bot token and chat.
func NewTelegramSender(token, chatID string) *TelegramSender {
	return &TelegramSender{
		baseURL: telegramAPI,
		token:   token,
		chatID:  chatID,
		client:  newHTTPClient(),
	}
}

// Send posts to sendMessage with the title in bold.
func (t *TelegramSender) Send(ctx context.Context, title, message string) error {
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)
	err := postJSON(ctx, t.client, url, map[string]string{
		"chat_id":    t.chatID,
		"text":       fmt.Sprintf("*%s*\n%s", title, message),
		"parse_mode": "Markdown",
	})
	if err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	return nil
}

func (t *TelegramSender) Name() string { return "telegram" }
