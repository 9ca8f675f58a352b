package config

import "fmt"

// Validate checks invariants that later stages rely on: a non-empty target
// matrix with unique identities and at most one cleanup owner, and enough
// host coordinates to reach the release host at all.
func (c *Config) Validate() error {
	if c.Product.Name == "" {
		return fmt.Errorf("product.name is required")
	}
	if c.Host.Owner == "" || c.Host.Repo == "" {
		return fmt.Errorf("host.owner and host.repo are required")
	}
	if c.Source.URL == "" {
		return fmt.Errorf("source.url is required")
	}
	if len(c.Targets) == 0 {
		return fmt.Errorf("at least one build target is required")
	}

	seen := make(map[string]struct{}, len(c.Targets))
	cleanupOwners := 0
	for i, t := range c.Targets {
		if t.OS == "" || t.Arch == "" {
			return fmt.Errorf("target %d: os and arch are required", i)
		}
		key := t.IdentityKey()
		if _, dup := seen[key]; dup {
			return fmt.Errorf("duplicate target %s", key)
		}
		seen[key] = struct{}{}
		if t.CleanupOwner {
			cleanupOwners++
		}
	}
	if cleanupOwners > 1 {
		return fmt.Errorf("at most one target may own asset cleanup, got %d", cleanupOwners)
	}

	if NormalizeRetryBackoff(string(c.Retry.Backoff)) == "" {
		return fmt.Errorf("unknown retry backoff mode %q", c.Retry.Backoff)
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries cannot be negative")
	}

	if c.Notify.Telegram != nil {
		if c.Notify.Telegram.TokenEnv == "" || c.Notify.Telegram.ChatID == "" {
			return fmt.Errorf("notify.telegram requires token_env and chat_id")
		}
	}
	if c.Notify.Discord != nil && c.Notify.Discord.WebhookURLEnv == "" {
		return fmt.Errorf("notify.discord requires webhook_url_env")
	}
	if c.Notify.Email != nil {
		if c.Notify.Email.SMTPAddr == "" || c.Notify.Email.From == "" || len(c.Notify.Email.To) == 0 {
			return fmt.Errorf("notify.email requires smtp_addr, from and to")
		}
	}
	if c.Notify.NATS != nil && c.Notify.NATS.URL == "" {
		return fmt.Errorf("notify.nats requires url")
	}
	return nil
}
