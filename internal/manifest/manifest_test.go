package manifest

import (
	"context"
	"encoding/json"
	"testing"

	"git.home.luguber.info/inful/relforge/internal/config"
	ferrors "git.home.luguber.info/inful/relforge/internal/foundation/errors"
	"git.home.luguber.info/inful/relforge/internal/host/hosttest"
	"git.home.luguber.info/inful/relforge/internal/release"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTargets() release.TargetSet {
	return release.TargetsFromConfig([]config.TargetConfig{
		{OS: "windows", Arch: "x64", Category: "nsis"},
		{OS: "linux", Arch: "x64", Category: "appimage"},
		{OS: "darwin", Arch: "aarch64", Category: "dmg"},
	})
}

func testAssets(targets release.TargetSet) map[string]release.PublishedAsset {
	assets := make(map[string]release.PublishedAsset)
	for i, t := range targets {
		assets[t.Key()] = release.PublishedAsset{
			Name:      t.Key() + ".bin",
			URL:       "https://releases.test/v1.2.0/" + t.Key(),
			Checksum:  "abc",
			Size:      int64(100 + i),
			Signature: "sig-" + t.Key(),
		}
	}
	return assets
}

func TestBuildCoversEveryTargetExactlyOnce(t *testing.T) {
	targets := testTargets()
	rel := release.NewContext("r1", "v1.2.0", "notes")

	m, err := Build(rel, targets, testAssets(targets))
	require.NoError(t, err)
	assert.Equal(t, "1.2.0", m.Version)
	require.Len(t, m.Platforms, len(targets))
	for _, target := range targets {
		entry, ok := m.Platforms[target.Key()]
		require.True(t, ok, "missing platform %s", target.Key())
		assert.NotEmpty(t, entry.URL)
		assert.Equal(t, "sig-"+target.Key(), entry.Signature)
	}
}

func TestBuildRefusesPartialAssetSet(t *testing.T) {
	targets := testTargets()
	assets := testAssets(targets)
	delete(assets, targets[1].Key())

	_, err := Build(release.NewContext("r1", "v1.2.0", ""), targets, assets)
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryManifest))
	assert.Contains(t, err.Error(), targets[1].Key())
}

func TestRenderIsDeterministic(t *testing.T) {
	targets := testTargets()
	rel := release.NewContext("r1", "v1.2.0", "notes")

	first, err := Build(rel, targets, testAssets(targets))
	require.NoError(t, err)
	second, err := Build(rel, targets, testAssets(targets))
	require.NoError(t, err)

	a, err := first.Render()
	require.NoError(t, err)
	b, err := second.Render()
	require.NoError(t, err)
	assert.Equal(t, a, b, "identical asset sets must render byte-identical manifests")
}

func TestPublishOverwritesPriorManifest(t *testing.T) {
	fake := hosttest.New()
	rel := release.NewContext("r1", "v1.2.0", "")
	fake.Seed(rel.Tag, AssetName, []byte(`{"version":"1.1.0"}`))

	targets := testTargets()
	m, err := Build(rel, targets, testAssets(targets))
	require.NoError(t, err)

	pub := NewPublisher(fake)
	asset, err := pub.Publish(context.Background(), rel, m)
	require.NoError(t, err)
	assert.Equal(t, AssetName, asset.Name)

	stored, ok := fake.Asset(rel.Tag, AssetName)
	require.True(t, ok)

	var parsed UpdateManifest
	require.NoError(t, json.Unmarshal(stored.Payload, &parsed))
	assert.Equal(t, "1.2.0", parsed.Version)
	assert.Len(t, parsed.Platforms, 3)
}
