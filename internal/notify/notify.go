// Package notify announces a published release across independent channels.
// Channel delivery is best-effort: each channel is attempted exactly once per
// run and one channel's failure never affects the others or the pipeline.
package notify

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"git.home.luguber.info/inful/relforge/internal/config"
	ferrors "git.home.luguber.info/inful/relforge/internal/foundation/errors"
	"github.com/hashicorp/go-retryablehttp"
)

// Channel is the uniform adapter contract every announcement backend
// implements.
type Channel interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// Delivery records the outcome of one channel attempt.
type Delivery struct {
	Channel string
	Err     error
}

// Fanout attempts delivery on every channel concurrently and reports the
// per-channel outcomes. It never returns an error; a failed announcement
// does not change the release outcome.
func Fanout(ctx context.Context, channels []Channel, msg Message) []Delivery {
	deliveries := make([]Delivery, len(channels))
	var wg sync.WaitGroup
	for i, ch := range channels {
		wg.Add(1)
		go func(i int, ch Channel) {
			defer wg.Done()
			err := ch.Send(ctx, msg)
			deliveries[i] = Delivery{Channel: ch.Name(), Err: err}
			if err != nil {
				slog.Warn("Release announcement failed", "channel", ch.Name(), "error", err)
			} else {
				slog.Info("Release announced", "channel", ch.Name())
			}
		}(i, ch)
	}
	wg.Wait()
	return deliveries
}

// newHTTPClient builds the shared retrying HTTP client for webhook-style
// channels. Connection errors and 500-range responses retry automatically.
func newHTTPClient() *retryablehttp.Client {
	client := retryablehttp.NewClient()
	client.HTTPClient.Timeout = 10 * time.Second
	client.RetryMax = 2
	client.Logger = nil
	return client
}

// BuildChannels instantiates every channel enabled in configuration.
// A channel that cannot be constructed (missing secret, unreachable broker)
// is reported but does not block the others: the pipeline still runs.
func BuildChannels(cfg config.NotifyConfig) ([]Channel, []error) {
	var channels []Channel
	var errs []error
	httpClient := newHTTPClient()

	if cfg.Telegram != nil {
		token := os.Getenv(cfg.Telegram.TokenEnv)
		if token == "" {
			errs = append(errs, ferrors.NewError(ferrors.CategoryNotify,
				"telegram token not set (env "+cfg.Telegram.TokenEnv+")").Warning().Build())
		} else {
			channels = append(channels, NewTelegramChannel(httpClient, token, cfg.Telegram.ChatID))
		}
	}
	if cfg.Discord != nil {
		url := os.Getenv(cfg.Discord.WebhookURLEnv)
		if url == "" {
			errs = append(errs, ferrors.NewError(ferrors.CategoryNotify,
				"discord webhook URL not set (env "+cfg.Discord.WebhookURLEnv+")").Warning().Build())
		} else {
			channels = append(channels, NewDiscordChannel(httpClient, url))
		}
	}
	if cfg.Email != nil {
		channels = append(channels, NewEmailChannel(*cfg.Email))
	}
	if cfg.NATS != nil {
		ch, err := NewNATSChannel(*cfg.NATS)
		if err != nil {
			errs = append(errs, err)
		} else {
			channels = append(channels, ch)
		}
	}
	return channels, errs
}
