package host

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"

	"git.home.luguber.info/inful/relforge/internal/config"
	ferrors "git.home.luguber.info/inful/relforge/internal/foundation/errors"
	"git.home.luguber.info/inful/relforge/internal/release"
	"github.com/google/go-github/v66/github"
)

// GitHubHost publishes releases through the GitHub Releases API.
type GitHubHost struct {
	client *github.Client
	owner  string
	repo   string

	mu         sync.Mutex
	releaseIDs map[string]int64 // tag -> host release id
}

// NewGitHubHost builds a host from configuration. The API token is read from
// the configured environment variable; a missing token is an auth error up
// front rather than a failed upload later.
func NewGitHubHost(cfg config.HostConfig) (*GitHubHost, error) {
	token := os.Getenv(cfg.TokenEnv)
	if token == "" {
		return nil, ferrors.NewError(ferrors.CategoryAuth,
			fmt.Sprintf("release host token not set (env %s)", cfg.TokenEnv)).Fatal().Build()
	}
	client := github.NewClient(nil).WithAuthToken(token)
	if cfg.BaseURL != "" {
		var err error
		client, err = client.WithEnterpriseURLs(cfg.BaseURL, cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("configure enterprise base URL: %w", err)
		}
	}
	return &GitHubHost{
		client:     client,
		owner:      cfg.Owner,
		repo:       cfg.Repo,
		releaseIDs: make(map[string]int64),
	}, nil
}

// EnsureRelease resolves (or creates) the host release for the tag and caches
// its identifier for subsequent asset operations.
func (g *GitHubHost) EnsureRelease(ctx context.Context, rel release.Context) error {
	_, err := g.releaseID(ctx, rel)
	return err
}

func (g *GitHubHost) releaseID(ctx context.Context, rel release.Context) (int64, error) {
	g.mu.Lock()
	if id, ok := g.releaseIDs[rel.Tag]; ok {
		g.mu.Unlock()
		return id, nil
	}
	g.mu.Unlock()

	ghRel, resp, err := g.client.Repositories.GetReleaseByTag(ctx, g.owner, g.repo, rel.Tag)
	if err != nil && resp != nil && resp.StatusCode == http.StatusNotFound {
		ghRel, _, err = g.client.Repositories.CreateRelease(ctx, g.owner, g.repo, &github.RepositoryRelease{
			TagName:    github.String(rel.Tag),
			Name:       github.String(rel.Tag),
			Body:       github.String(rel.Notes),
			Prerelease: github.Bool(rel.Channel == release.ChannelNightly),
		})
	}
	if err != nil {
		return 0, classifyHostError(err, "resolve release")
	}

	g.mu.Lock()
	g.releaseIDs[rel.Tag] = ghRel.GetID()
	g.mu.Unlock()
	return ghRel.GetID(), nil
}

// Upload publishes a local file as a release asset. An existing asset with
// the same name is deleted first so the result is last-write-wins even when
// the cleanup pass missed it.
func (g *GitHubHost) Upload(ctx context.Context, rel release.Context, name, path, mediaType string) (release.PublishedAsset, error) {
	id, err := g.releaseID(ctx, rel)
	if err != nil {
		return release.PublishedAsset{}, err
	}

	if err := g.deleteAssetByName(ctx, id, name); err != nil {
		return release.PublishedAsset{}, err
	}

	checksum, size, err := fileChecksum(path)
	if err != nil {
		return release.PublishedAsset{}, ferrors.WrapError(err, ferrors.CategoryFileSystem, "read artifact for upload").Build()
	}

	f, err := os.Open(path)
	if err != nil {
		return release.PublishedAsset{}, ferrors.WrapError(err, ferrors.CategoryFileSystem, "open artifact").Build()
	}
	defer f.Close()

	asset, _, err := g.client.Repositories.UploadReleaseAsset(ctx, g.owner, g.repo, id, &github.UploadOptions{
		Name:      name,
		MediaType: mediaType,
	}, f)
	if err != nil {
		return release.PublishedAsset{}, classifyHostError(err, "upload asset")
	}

	return release.PublishedAsset{
		Name:     name,
		URL:      asset.GetBrowserDownloadURL(),
		Checksum: checksum,
		Size:     size,
	}, nil
}

// DeleteMatching removes all assets whose names end in any of the patterns.
// A release that does not exist yet on the host means nothing to delete.
func (g *GitHubHost) DeleteMatching(ctx context.Context, rel release.Context, patterns []string) (int, error) {
	ghRel, resp, err := g.client.Repositories.GetReleaseByTag(ctx, g.owner, g.repo, rel.Tag)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return 0, nil
		}
		return 0, classifyHostError(err, "list release")
	}

	deleted := 0
	opts := &github.ListOptions{PerPage: 100}
	for {
		assets, resp, err := g.client.Repositories.ListReleaseAssets(ctx, g.owner, g.repo, ghRel.GetID(), opts)
		if err != nil {
			return deleted, classifyHostError(err, "list assets")
		}
		for _, asset := range assets {
			if !matchesAny(asset.GetName(), patterns) {
				continue
			}
			if _, err := g.client.Repositories.DeleteReleaseAsset(ctx, g.owner, g.repo, asset.GetID()); err != nil {
				return deleted, classifyHostError(err, "delete asset")
			}
			deleted++
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return deleted, nil
}

func (g *GitHubHost) deleteAssetByName(ctx context.Context, releaseID int64, name string) error {
	opts := &github.ListOptions{PerPage: 100}
	for {
		assets, resp, err := g.client.Repositories.ListReleaseAssets(ctx, g.owner, g.repo, releaseID, opts)
		if err != nil {
			return classifyHostError(err, "list assets")
		}
		for _, asset := range assets {
			if asset.GetName() == name {
				if _, err := g.client.Repositories.DeleteReleaseAsset(ctx, g.owner, g.repo, asset.GetID()); err != nil {
					return classifyHostError(err, "delete conflicting asset")
				}
			}
		}
		if resp.NextPage == 0 {
			return nil
		}
		opts.Page = resp.NextPage
	}
}

func matchesAny(name string, patterns []string) bool {
	for _, p := range patterns {
		if strings.HasSuffix(name, p) {
			return true
		}
	}
	return false
}

func fileChecksum(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	h := sha256.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), size, nil
}

// classifyHostError maps GitHub client failures onto the transient-vs-fatal
// taxonomy the publisher's retry loop keys off.
func classifyHostError(err error, op string) error {
	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return ferrors.WrapError(err, ferrors.CategoryHost, op+" rate limited").RateLimited().Build()
	}
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return ferrors.WrapError(err, ferrors.CategoryHost, op+" rate limited").RateLimited().Build()
	}
	var respErr *github.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		switch code := respErr.Response.StatusCode; {
		case code == http.StatusUnauthorized || code == http.StatusForbidden:
			return ferrors.WrapError(err, ferrors.CategoryAuth, op+" rejected by host").Fatal().Build()
		case code >= 500:
			return ferrors.WrapError(err, ferrors.CategoryHost, op+" host error").Retryable().Build()
		default:
			return ferrors.WrapError(err, ferrors.CategoryHost, op+" failed").Build()
		}
	}
	// No structured response at all: network-level failure, retry-eligible.
	return ferrors.WrapError(err, ferrors.CategoryNetwork, op+" network failure").Retryable().Build()
}
