// Package gitsource checks out the application source at the revision being
// released. Each pipeline run builds from its own checkout so concurrent jobs
// never share mutable working trees.
package gitsource

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"git.home.luguber.info/inful/relforge/internal/config"
	ferrors "git.home.luguber.info/inful/relforge/internal/foundation/errors"
	"git.home.luguber.info/inful/relforge/internal/release"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// Client handles Git operations against the application source repository.
type Client struct {
	source    config.SourceConfig
	workspace string
	created   bool
}

// NewClient creates a client rooted at the configured workspace directory.
// An empty workspace resolves to a temporary directory on first use.
func NewClient(source config.SourceConfig) *Client {
	return &Client{source: source, workspace: source.Workspace}
}

// ensureWorkspace lazily creates the checkout root.
func (c *Client) ensureWorkspace() error {
	if c.workspace == "" {
		dir, err := os.MkdirTemp("", "relforge-src-")
		if err != nil {
			return fmt.Errorf("create workspace: %w", err)
		}
		c.workspace = dir
		c.created = true
		return nil
	}
	return os.MkdirAll(c.workspace, 0o755)
}

// Checkout clones the source repository at the revision the release context
// names: the tag for stable releases, the configured branch head for
// nightlies. Each caller passes its own checkout name so concurrent target
// jobs never share a working tree. It returns the checkout path.
func (c *Client) Checkout(ctx context.Context, rel release.Context, name string) (string, error) {
	if err := c.ensureWorkspace(); err != nil {
		return "", err
	}

	path := filepath.Join(c.workspace, name)
	if err := os.RemoveAll(path); err != nil {
		return "", fmt.Errorf("clear previous checkout: %w", err)
	}

	opts := &git.CloneOptions{
		URL:          c.source.URL,
		Depth:        1,
		SingleBranch: true,
	}
	if rel.Channel == release.ChannelNightly {
		opts.ReferenceName = plumbing.NewBranchReferenceName(c.source.Branch)
	} else {
		opts.ReferenceName = plumbing.NewTagReferenceName(rel.Tag)
	}

	slog.Debug("Checking out source", "url", c.source.URL, "ref", opts.ReferenceName.String(), "path", path)
	repo, err := git.PlainCloneContext(ctx, path, false, opts)
	if err != nil {
		return "", classifyCheckoutError(c.source.URL, rel.Tag, err)
	}
	if head, herr := repo.Head(); herr == nil {
		slog.Info("Source checked out", "tag", rel.Tag, "commit", head.Hash().String()[:8], "path", path)
	}
	return path, nil
}

// Cleanup removes the workspace when this client created it. A configured
// workspace directory is left alone for incremental reuse.
func (c *Client) Cleanup() error {
	if !c.created || c.workspace == "" {
		return nil
	}
	return os.RemoveAll(c.workspace)
}

// classifyCheckoutError maps go-git failures into classified errors so the
// coordinator can attribute blame and the publisher policy stays consistent.
func classifyCheckoutError(url, tag string, err error) error {
	l := strings.ToLower(err.Error())
	switch {
	case strings.Contains(l, "authentication") || strings.Contains(l, "invalid username or password"):
		return ferrors.WrapError(err, ferrors.CategoryAuth, "source repository authentication failed").
			WithContext("url", url).Build()
	case strings.Contains(l, "reference not found") || strings.Contains(l, "couldn't find remote ref"):
		return ferrors.WrapError(err, ferrors.CategoryNotFound, fmt.Sprintf("release tag %s not found", tag)).
			WithContext("url", url).Build()
	case strings.Contains(l, "timeout") || strings.Contains(l, "connection refused") || strings.Contains(l, "temporary"):
		return ferrors.WrapError(err, ferrors.CategoryNetwork, "source repository unreachable").
			Retryable().WithContext("url", url).Build()
	default:
		return ferrors.WrapError(err, ferrors.CategoryGit, "source checkout failed").
			WithContext("url", url).WithContext("tag", tag).Build()
	}
}
