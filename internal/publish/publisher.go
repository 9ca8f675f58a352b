// Package publish uploads built artifacts to the release host, retrying
// transient failures with backoff before escalating them as the owning
// target's failure.
package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	ferrors "git.home.luguber.info/inful/relforge/internal/foundation/errors"
	"git.home.luguber.info/inful/relforge/internal/host"
	"git.home.luguber.info/inful/relforge/internal/release"
	"git.home.luguber.info/inful/relforge/internal/retry"
)

// Publisher uploads BuildArtifacts and returns the resulting published
// records. It does not assume a clean namespace: conflicting names resolve
// last-write-wins at the host.
type Publisher struct {
	host          host.ReleaseHost
	policy        retry.Policy
	uploadTimeout time.Duration
	onRetry       func()
}

// NewPublisher creates a publisher with the given retry policy for
// transient upload failures.
func NewPublisher(h host.ReleaseHost, policy retry.Policy) *Publisher {
	return &Publisher{host: h, policy: policy}
}

// WithRetryObserver registers a callback invoked once per retried upload
// attempt, used to feed counters.
func (p *Publisher) WithRetryObserver(fn func()) *Publisher {
	p.onRetry = fn
	return p
}

// WithUploadTimeout bounds each individual upload attempt. Zero disables
// the bound.
func (p *Publisher) WithUploadTimeout(d time.Duration) *Publisher {
	p.uploadTimeout = d
	return p
}

// Publish uploads one artifact (and its detached signature, when present)
// and returns the published record with checksum and signature attached.
func (p *Publisher) Publish(ctx context.Context, rel release.Context, artifact release.BuildArtifact) (release.PublishedAsset, error) {
	name := filepath.Base(artifact.Path)

	asset, err := p.uploadWithRetry(ctx, rel, name, artifact.Path, artifact.MediaType)
	if err != nil {
		return release.PublishedAsset{}, err
	}

	if artifact.SignaturePath != "" {
		sig, err := os.ReadFile(artifact.SignaturePath)
		if err != nil {
			return release.PublishedAsset{}, ferrors.WrapError(err, ferrors.CategoryFileSystem,
				"read update signature").WithContext("artifact", name).Build()
		}
		asset.Signature = strings.TrimSpace(string(sig))

		// The signature file is published alongside the artifact so update
		// clients that fetch signatures out-of-band keep working.
		sigName := filepath.Base(artifact.SignaturePath)
		if _, err := p.uploadWithRetry(ctx, rel, sigName, artifact.SignaturePath, "text/plain"); err != nil {
			return release.PublishedAsset{}, err
		}
	}

	slog.Info("Artifact published", "name", name, "target", artifact.Target.Key(), "size", asset.Size)
	return asset, nil
}

// upload performs one upload attempt under the configured per-attempt
// timeout. An attempt that hits its own deadline while the run is still
// live is reported as a transient network failure so the retry policy
// applies to it.
func (p *Publisher) upload(ctx context.Context, rel release.Context, name, path, mediaType string) (release.PublishedAsset, error) {
	if p.uploadTimeout <= 0 {
		return p.host.Upload(ctx, rel, name, path, mediaType)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, p.uploadTimeout)
	defer cancel()
	asset, err := p.host.Upload(attemptCtx, rel, name, path, mediaType)
	if err != nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return release.PublishedAsset{}, ferrors.WrapError(err, ferrors.CategoryNetwork,
			fmt.Sprintf("upload %s timed out after %s", name, p.uploadTimeout)).Retryable().Build()
	}
	return asset, err
}

// uploadWithRetry drives the host upload through the retry policy: transient
// failures back off and retry up to the policy limit, everything else (and
// exhaustion) escalates immediately.
func (p *Publisher) uploadWithRetry(ctx context.Context, rel release.Context, name, path, mediaType string) (release.PublishedAsset, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		asset, err := p.upload(ctx, rel, name, path, mediaType)
		if err == nil {
			return asset, nil
		}
		lastErr = err

		if !ferrors.IsTransient(err) {
			return release.PublishedAsset{}, fmt.Errorf("publish %s: %w", name, err)
		}
		if attempt >= p.policy.MaxRetries {
			slog.Warn("Transient publish failure, retries exhausted", "name", name, "attempts", attempt+1, "error", err)
			return release.PublishedAsset{}, fmt.Errorf("publish %s after %d attempts: %w", name, attempt+1, lastErr)
		}

		delay := p.policy.Delay(attempt + 1)
		slog.Warn("Transient publish failure, retrying", "name", name, "attempt", attempt+1, "delay", delay, "error", err)
		if p.onRetry != nil {
			p.onRetry()
		}
		select {
		case <-ctx.Done():
			return release.PublishedAsset{}, ctx.Err()
		case <-time.After(delay):
		}
	}
}
