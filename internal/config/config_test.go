package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
product:
  name: aurora
source:
  url: https://git.example.com/inful/aurora.git
host:
  owner: inful
  repo: aurora
build:
  timeout: 20m
  concurrency: 2
targets:
  - os: windows
    arch: x64
    category: nsis
    portable: true
    cleanup_owner: true
  - os: linux
    arch: x64
    category: appimage
  - os: darwin
    arch: aarch64
    category: dmg
    extra_toolchain_target: aarch64-apple-darwin
notify:
  nats:
    url: nats://localhost:4222
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relforge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadSampleConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "aurora", cfg.Product.Name)
	assert.Len(t, cfg.Targets, 3)
	assert.True(t, cfg.Targets[0].Portable)
	assert.True(t, cfg.Targets[0].CleanupOwner)
	assert.Equal(t, "aarch64-apple-darwin", cfg.Targets[2].ExtraToolchainTarget)
	assert.Equal(t, 20*time.Minute, cfg.Build.Timeout.Std())
	assert.Equal(t, 2, cfg.Build.Concurrency)
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "pnpm", cfg.Build.Command)
	assert.Equal(t, "GITHUB_TOKEN", cfg.Host.TokenEnv)
	assert.Equal(t, RetryBackoffLinear, cfg.Retry.Backoff)
	assert.Equal(t, 2, cfg.Retry.MaxRetries)
	assert.Equal(t, defaultNATSSubject, cfg.Notify.NATS.Subject)
	assert.Equal(t, "main", cfg.Source.Branch)
}

func TestValidateRejectsDuplicateTargets(t *testing.T) {
	cfg := &Config{
		Product: ProductConfig{Name: "aurora"},
		Source:  SourceConfig{URL: "https://example.com/r.git"},
		Host:    HostConfig{Owner: "inful", Repo: "aurora"},
		Targets: []TargetConfig{
			{OS: "linux", Arch: "x64", Category: "appimage"},
			{OS: "linux", Arch: "x64", Category: "appimage"},
		},
	}
	cfg.applyDefaults()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate target")
}

func TestValidateRejectsCollidingTargetKeys(t *testing.T) {
	// Distinct tuples that render the same identity key would shadow each
	// other in manifest platform entries and coordinator outcomes.
	cfg := &Config{
		Product: ProductConfig{Name: "aurora"},
		Source:  SourceConfig{URL: "https://example.com/r.git"},
		Host:    HostConfig{Owner: "inful", Repo: "aurora"},
		Targets: []TargetConfig{
			{OS: "linux", Arch: "x64-musl"},
			{OS: "linux", Arch: "x64", Category: "musl"},
		},
	}
	cfg.applyDefaults()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate target linux-x64-musl")
}

func TestValidateRejectsTwoCleanupOwners(t *testing.T) {
	cfg := &Config{
		Product: ProductConfig{Name: "aurora"},
		Source:  SourceConfig{URL: "https://example.com/r.git"},
		Host:    HostConfig{Owner: "inful", Repo: "aurora"},
		Targets: []TargetConfig{
			{OS: "windows", Arch: "x64", CleanupOwner: true},
			{OS: "linux", Arch: "x64", CleanupOwner: true},
		},
	}
	cfg.applyDefaults()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cleanup")
}

func TestValidateRequiresTargets(t *testing.T) {
	cfg := &Config{
		Product: ProductConfig{Name: "aurora"},
		Source:  SourceConfig{URL: "https://example.com/r.git"},
		Host:    HostConfig{Owner: "inful", Repo: "aurora"},
	}
	cfg.applyDefaults()
	require.Error(t, cfg.Validate())
}

func TestNormalizeRetryBackoff(t *testing.T) {
	assert.Equal(t, RetryBackoffExponential, NormalizeRetryBackoff(" Exponential "))
	assert.Equal(t, RetryBackoffMode(""), NormalizeRetryBackoff("jitter"))
}

func TestNormalizeLogLevel(t *testing.T) {
	assert.Equal(t, LogLevelDebug, NormalizeLogLevel("DEBUG"))
	assert.Equal(t, LogLevelInfo, NormalizeLogLevel("bogus"))
}
