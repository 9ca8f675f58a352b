package host

import (
	"context"
	"log/slog"

	ferrors "git.home.luguber.info/inful/relforge/internal/foundation/errors"
	"git.home.luguber.info/inful/relforge/internal/release"
)

// AssetCleaner removes previously published assets for a release so re-runs
// are idempotent. It runs once per pipeline, owned by the designated target's
// job, and must conclude before any upload of a matching name begins.
type AssetCleaner struct {
	host     ReleaseHost
	patterns []string
}

// NewAssetCleaner creates a cleaner using the default stale-name patterns.
func NewAssetCleaner(h ReleaseHost) *AssetCleaner {
	return &AssetCleaner{host: h, patterns: StalePatterns}
}

// WithPatterns overrides the matched suffixes (fluent helper, used in tests).
func (c *AssetCleaner) WithPatterns(patterns []string) *AssetCleaner {
	c.patterns = patterns
	return c
}

// Clean deletes stale assets for the release. An empty or already-clean
// namespace is success with zero deletions, never an error.
func (c *AssetCleaner) Clean(ctx context.Context, rel release.Context) (int, error) {
	deleted, err := c.host.DeleteMatching(ctx, rel, c.patterns)
	if err != nil {
		return 0, ferrors.WrapError(err, ferrors.CategoryHost, "stale asset cleanup failed").
			WithContext("tag", rel.Tag).Build()
	}
	if deleted > 0 {
		slog.Info("Deleted stale release assets", "tag", rel.Tag, "count", deleted)
	} else {
		slog.Debug("No stale release assets to delete", "tag", rel.Tag)
	}
	return deleted, nil
}
