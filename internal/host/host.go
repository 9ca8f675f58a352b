// Package host abstracts the release host: the remote namespace where
// release assets and the update manifest live.
package host

import (
	"context"

	"git.home.luguber.info/inful/relforge/internal/release"
)

// ReleaseHost is the release host capability. Both operations are idempotent
// from the orchestrator's point of view: uploading over an existing name
// overwrites it, deleting a missing asset counts as zero deletions.
type ReleaseHost interface {
	// EnsureRelease makes sure a host-side release exists for the context's
	// tag, creating it when missing.
	EnsureRelease(ctx context.Context, rel release.Context) error
	// Upload publishes a local file under the given asset name and returns
	// the record of what is now live.
	Upload(ctx context.Context, rel release.Context, name, path, mediaType string) (release.PublishedAsset, error)
	// DeleteMatching removes all assets of the release whose names match any
	// of the suffix patterns, returning how many were deleted. Zero is valid.
	DeleteMatching(ctx context.Context, rel release.Context, patterns []string) (int, error)
}

// StalePatterns are the filename suffixes the asset lifecycle manager clears
// before a re-run uploads fresh artifacts: installers, bundles, detached
// signatures, and the update manifest itself.
var StalePatterns = []string{
	".msi",
	".exe",
	".dmg",
	".app.tar.gz",
	".AppImage",
	".deb",
	".rpm",
	".zip",
	".sig",
	"latest.json",
}
