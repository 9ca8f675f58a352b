package config

import "time"

const (
	defaultBuildCommand  = "pnpm"
	defaultBuildTimeout  = 45 * time.Minute
	defaultUploadTimeout = 10 * time.Minute
	defaultConcurrency   = 3
	defaultTokenEnv      = "GITHUB_TOKEN"
	defaultNATSSubject   = "relforge.release.published"
	defaultListen        = ":8385"
)

// DefaultDaemonConfig returns daemon settings for configs without a daemon
// section, used when daemon mode is forced from the command line.
func DefaultDaemonConfig() *DaemonConfig {
	return &DaemonConfig{Listen: defaultListen, DataDir: "./relforge-data"}
}

// applyDefaults fills zero values after parsing. Explicit config always wins.
func (c *Config) applyDefaults() {
	if c.Build.Command == "" {
		c.Build.Command = defaultBuildCommand
	}
	if c.Build.Timeout == 0 {
		c.Build.Timeout = Duration(defaultBuildTimeout)
	}
	if c.Build.Concurrency <= 0 {
		c.Build.Concurrency = defaultConcurrency
	}
	if c.Host.TokenEnv == "" {
		c.Host.TokenEnv = defaultTokenEnv
	}
	if c.Host.UploadTimeout == 0 {
		c.Host.UploadTimeout = Duration(defaultUploadTimeout)
	}
	if c.Source.Branch == "" {
		c.Source.Branch = "main"
	}
	if c.Retry.Backoff == "" {
		c.Retry.Backoff = RetryBackoffLinear
	}
	if c.Retry.Initial == 0 {
		c.Retry.Initial = Duration(time.Second)
	}
	if c.Retry.Max == 0 {
		c.Retry.Max = Duration(30 * time.Second)
	}
	if c.Retry.MaxRetries == 0 {
		c.Retry.MaxRetries = 2
	}
	if c.Notify.NATS != nil && c.Notify.NATS.Subject == "" {
		c.Notify.NATS.Subject = defaultNATSSubject
	}
	if c.Daemon != nil {
		if c.Daemon.Listen == "" {
			c.Daemon.Listen = defaultListen
		}
		if c.Daemon.DataDir == "" {
			c.Daemon.DataDir = "./relforge-data"
		}
	}
	if c.Logging.Level == "" {
		c.Logging.Level = string(LogLevelInfo)
	}
	if c.Logging.Format == "" {
		c.Logging.Format = string(LogFormatText)
	}
}
