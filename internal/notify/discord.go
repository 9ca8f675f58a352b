package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"unicode/utf8"

	ferrors "git.home.luguber.info/inful/relforge/internal/foundation/errors"
	"github.com/hashicorp/go-retryablehttp"
)

// DiscordChannel posts the announcement to a Discord webhook.
type DiscordChannel struct {
	client     *retryablehttp.Client
	webhookURL string
}

// NewDiscordChannel creates the channel for a webhook URL.
func NewDiscordChannel(client *retryablehttp.Client, webhookURL string) *DiscordChannel {
	return &DiscordChannel{client: client, webhookURL: webhookURL}
}

func (d *DiscordChannel) Name() string { return "discord" }

// Send posts an embed with the release subject and notes.
func (d *DiscordChannel) Send(ctx context.Context, msg Message) error {
	// Discord caps embed descriptions at 4096 characters.
	description := truncate(msg.Text, 4000)
	payload, err := json.Marshal(map[string]any{
		"embeds": []map[string]any{{
			"title":       msg.Subject,
			"description": description,
			"url":         msg.URL,
		}},
	})
	if err != nil {
		return err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, payload)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryNotify, "discord delivery failed").Build()
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return ferrors.NewError(ferrors.CategoryNotify,
			fmt.Sprintf("discord delivery rejected with status %d", resp.StatusCode)).Build()
	}
	return nil
}

// truncate shortens s to at most max bytes on a rune boundary, appending an
// ellipsis when anything was cut.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}
