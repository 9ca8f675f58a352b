package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the relforge configuration: the product being released,
// where its source lives, the release host, the build target matrix, and the
// announcement channels.
type Config struct {
	Product ProductConfig  `yaml:"product"`
	Source  SourceConfig   `yaml:"source"`
	Host    HostConfig     `yaml:"host"`
	Build   BuildConfig    `yaml:"build"`
	Targets []TargetConfig `yaml:"targets"`
	Notify  NotifyConfig   `yaml:"notify"`
	Retry   RetryConfig    `yaml:"retry"`
	Logging LoggingConfig  `yaml:"logging"`
	Daemon  *DaemonConfig  `yaml:"daemon,omitempty"`
}

// ProductConfig identifies the application being released.
type ProductConfig struct {
	Name string `yaml:"name"`
	// BundleManifest is the path (relative to the source checkout) of the
	// bundler manifest handed to the external builder.
	BundleManifest string `yaml:"bundle_manifest,omitempty"`
}

// SourceConfig describes the application source repository.
type SourceConfig struct {
	URL       string `yaml:"url"`
	Branch    string `yaml:"branch,omitempty"`
	Workspace string `yaml:"workspace,omitempty"` // checkout root, defaults to a temp dir
}

// HostConfig describes the release host (GitHub releases).
type HostConfig struct {
	Owner         string   `yaml:"owner"`
	Repo          string   `yaml:"repo"`
	TokenEnv      string   `yaml:"token_env,omitempty"` // env var holding the API token
	BaseURL       string   `yaml:"base_url,omitempty"`  // for GitHub Enterprise
	UploadTimeout Duration `yaml:"upload_timeout,omitempty"`
}

// BuildConfig controls the external builder invocation and job scheduling.
type BuildConfig struct {
	Command     string   `yaml:"command,omitempty"` // builder executable, e.g. "pnpm"
	Timeout     Duration `yaml:"timeout,omitempty"` // per-target execution bound
	Concurrency int      `yaml:"concurrency,omitempty"`
}

// TargetConfig declares one build target of the matrix. Behavior differences
// between targets are data here, not code: adding a target is a config change.
type TargetConfig struct {
	OS       string `yaml:"os"`
	Arch     string `yaml:"arch"`
	Category string `yaml:"category,omitempty"`
	// Portable requests a secondary portable artifact after the installer build.
	Portable bool `yaml:"portable,omitempty"`
	// ExtraToolchainTarget names an additional native toolchain target that
	// must be installed before building (e.g. a cross target triple).
	ExtraToolchainTarget string `yaml:"extra_toolchain_target,omitempty"`
	// CleanupOwner marks the single target whose job runs stale-asset cleanup.
	CleanupOwner bool `yaml:"cleanup_owner,omitempty"`
	// MediaType overrides the default upload content type for this target.
	MediaType string `yaml:"media_type,omitempty"`
}

// IdentityKey is the target's identity string, identical to the runtime
// descriptor key that names manifest platform entries and keys coordinator
// outcomes. Validation dedupes on this exact string: two targets that are
// distinct as tuples but render the same key would silently shadow each
// other downstream.
func (t TargetConfig) IdentityKey() string {
	parts := []string{t.OS, t.Arch}
	if t.Category != "" {
		parts = append(parts, t.Category)
	}
	return strings.Join(parts, "-")
}

// NotifyConfig enables announcement channels. Nil sections are disabled.
type NotifyConfig struct {
	Telegram *TelegramConfig `yaml:"telegram,omitempty"`
	Discord  *DiscordConfig  `yaml:"discord,omitempty"`
	Email    *EmailConfig    `yaml:"email,omitempty"`
	NATS     *NATSConfig     `yaml:"nats,omitempty"`
}

// TelegramConfig configures the Telegram bot channel.
type TelegramConfig struct {
	TokenEnv string `yaml:"token_env"`
	ChatID   string `yaml:"chat_id"`
}

// DiscordConfig configures the Discord webhook channel.
type DiscordConfig struct {
	WebhookURLEnv string `yaml:"webhook_url_env"`
}

// EmailConfig configures the SMTP announcement channel.
type EmailConfig struct {
	SMTPAddr    string   `yaml:"smtp_addr"` // host:port
	From        string   `yaml:"from"`
	To          []string `yaml:"to"`
	UserEnv     string   `yaml:"user_env,omitempty"`
	PasswordEnv string   `yaml:"password_env,omitempty"`
}

// NATSConfig configures the NATS release-event channel.
type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject,omitempty"`
}

// RetryConfig controls transient publish retry behavior.
type RetryConfig struct {
	Backoff    RetryBackoffMode `yaml:"backoff,omitempty"`
	Initial    Duration         `yaml:"initial,omitempty"`
	Max        Duration         `yaml:"max,omitempty"`
	MaxRetries int              `yaml:"max_retries,omitempty"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"`
}

// DaemonConfig configures the webhook/schedule daemon mode.
type DaemonConfig struct {
	Listen           string `yaml:"listen,omitempty"`
	WebhookSecretEnv string `yaml:"webhook_secret_env,omitempty"`
	NightlySchedule  string `yaml:"nightly_schedule,omitempty"` // cron spec, empty disables
	DataDir          string `yaml:"data_dir,omitempty"`
}

// Duration wraps time.Duration with YAML support for "30s" style values.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Load loads configuration from the specified file, layering .env files into
// the process environment first so token_env style references resolve.
func Load(configPath string) (*Config, error) {
	loadEnvFiles()

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read configuration: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse configuration: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
