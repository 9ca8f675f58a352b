package release

import (
	"testing"

	"git.home.luguber.info/inful/relforge/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTargets() []config.TargetConfig {
	return []config.TargetConfig{
		{OS: "windows", Arch: "x64", Category: "nsis", Portable: true, CleanupOwner: true},
		{OS: "linux", Arch: "x64", Category: "appimage"},
		{OS: "darwin", Arch: "aarch64", Category: "dmg", ExtraToolchainTarget: "aarch64-apple-darwin"},
	}
}

func TestTargetsFromConfigPreservesOrderAndFlags(t *testing.T) {
	set := TargetsFromConfig(sampleTargets())
	require.Len(t, set, 3)
	assert.Equal(t, "windows-x64-nsis", set[0].Key())
	assert.True(t, set[0].Portable)
	assert.Equal(t, "aarch64-apple-darwin", set[2].ExtraToolchainTarget)
}

func TestTargetKeysAreUnique(t *testing.T) {
	set := TargetsFromConfig(sampleTargets())
	seen := map[string]bool{}
	for _, key := range set.Keys() {
		assert.False(t, seen[key], "duplicate key %s", key)
		seen[key] = true
	}
}

func TestKeyMatchesConfigIdentityKey(t *testing.T) {
	targets := append(sampleTargets(), config.TargetConfig{OS: "linux", Arch: "x64"})
	set := TargetsFromConfig(targets)
	for i, tc := range targets {
		assert.Equal(t, tc.IdentityKey(), set[i].Key())
	}
}

func TestCleanupOwner(t *testing.T) {
	set := TargetsFromConfig(sampleTargets())
	owner, ok := set.CleanupOwner()
	require.True(t, ok)
	assert.Equal(t, "windows", owner.OS)

	none := TargetsFromConfig(sampleTargets()[1:])
	_, ok = none.CleanupOwner()
	assert.False(t, ok)
}

func TestNewContextGeneratesID(t *testing.T) {
	ctx := NewContext("", "v1.2.0", "notes")
	assert.NotEmpty(t, ctx.ID)
	assert.Equal(t, ChannelStable, ctx.Channel)
	assert.Equal(t, "1.2.0", ctx.Version())

	given := NewContext("rel-42", "2.0.0", "")
	assert.Equal(t, "rel-42", given.ID)
	assert.Equal(t, "2.0.0", given.Version())
}

func TestNightlyContext(t *testing.T) {
	ctx := NewNightlyContext("nightly-20260831")
	assert.Equal(t, ChannelNightly, ctx.Channel)
	assert.NotEmpty(t, ctx.Notes)
}
