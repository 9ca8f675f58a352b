package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	ferrors "git.home.luguber.info/inful/relforge/internal/foundation/errors"
	"github.com/hashicorp/go-retryablehttp"
)

// TelegramChannel posts the announcement through the Telegram bot API.
type TelegramChannel struct {
	client *retryablehttp.Client
	token  string
	chatID string
}

// NewTelegramChannel creates the channel for a bot token and chat.
func NewTelegramChannel(client *retryablehttp.Client, token, chatID string) *TelegramChannel {
	return &TelegramChannel{client: client, token: token, chatID: chatID}
}

func (t *TelegramChannel) Name() string { return "telegram" }

// Send posts the plain-text announcement to the configured chat.
func (t *TelegramChannel) Send(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(map[string]string{
		"chat_id": t.chatID,
		"text":    msg.Text,
	})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.token)
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, url, payload)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryNotify, "telegram delivery failed").Build()
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return ferrors.NewError(ferrors.CategoryNotify,
			fmt.Sprintf("telegram delivery rejected with status %d", resp.StatusCode)).Build()
	}
	return nil
}
