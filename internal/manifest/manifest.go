// Package manifest builds and publishes the machine-readable update manifest
// the application's self-update client consumes.
package manifest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	ferrors "git.home.luguber.info/inful/relforge/internal/foundation/errors"
	"git.home.luguber.info/inful/relforge/internal/host"
	"git.home.luguber.info/inful/relforge/internal/release"
)

// AssetName is the fixed name the manifest is published under. Update clients
// resolve it relative to the release download URL, so it never changes.
const AssetName = "latest.json"

// UpdateManifest is the published schema. Changes must be additive only:
// released client versions parse this.
type UpdateManifest struct {
	Version   string                   `json:"version"`
	Notes     string                   `json:"notes,omitempty"`
	Platforms map[string]PlatformEntry `json:"platforms"`
}

// PlatformEntry describes the update artifact for one target.
type PlatformEntry struct {
	URL       string `json:"url"`
	Signature string `json:"signature,omitempty"`
	Size      int64  `json:"size"`
}

// Build derives the manifest for the release from the published asset per
// target. Precondition: every target in the set must have a published asset;
// a partial manifest would make update clients advertise platforms that have
// no valid artifact, so missing entries refuse loudly instead.
func Build(rel release.Context, targets release.TargetSet, assets map[string]release.PublishedAsset) (*UpdateManifest, error) {
	if len(targets) == 0 {
		return nil, ferrors.NewError(ferrors.CategoryManifest, "no targets configured").Build()
	}

	platforms := make(map[string]PlatformEntry, len(targets))
	for _, target := range targets {
		asset, ok := assets[target.Key()]
		if !ok {
			return nil, ferrors.NewError(ferrors.CategoryManifest,
				fmt.Sprintf("no published asset for target %s; refusing to build a partial manifest", target.Key())).
				WithContext("tag", rel.Tag).Build()
		}
		platforms[target.Key()] = PlatformEntry{
			URL:       asset.URL,
			Signature: asset.Signature,
			Size:      asset.Size,
		}
	}

	return &UpdateManifest{
		Version:   rel.Version(),
		Notes:     rel.Notes,
		Platforms: platforms,
	}, nil
}

// Render serializes the manifest. Output is deterministic: encoding/json
// orders map keys, so identical inputs produce byte-identical documents,
// which update-client caches and tests rely on.
func (m *UpdateManifest) Render() ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("render manifest: %w", err)
	}
	return append(data, '\n'), nil
}

// Publisher uploads a rendered manifest to the release host, overwriting any
// prior manifest for the same version.
type Publisher struct {
	host host.ReleaseHost
}

// NewPublisher creates a manifest publisher.
func NewPublisher(h host.ReleaseHost) *Publisher {
	return &Publisher{host: h}
}

// Publish renders and uploads the manifest. The asset lifecycle manager has
// normally deleted the previous manifest already; the host's last-write-wins
// upload covers the case where it has not.
func (p *Publisher) Publish(ctx context.Context, rel release.Context, m *UpdateManifest) (release.PublishedAsset, error) {
	data, err := m.Render()
	if err != nil {
		return release.PublishedAsset{}, err
	}

	tmp := filepath.Join(os.TempDir(), fmt.Sprintf("relforge-%s-%s", rel.ID, AssetName))
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return release.PublishedAsset{}, ferrors.WrapError(err, ferrors.CategoryFileSystem, "stage manifest").Build()
	}
	defer os.Remove(tmp)

	asset, err := p.host.Upload(ctx, rel, AssetName, tmp, "application/json")
	if err != nil {
		return release.PublishedAsset{}, ferrors.WrapError(err, ferrors.CategoryManifest, "publish update manifest").Build()
	}
	return asset, nil
}
