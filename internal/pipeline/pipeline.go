package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"git.home.luguber.info/inful/relforge/internal/builder"
	"git.home.luguber.info/inful/relforge/internal/config"
	"git.home.luguber.info/inful/relforge/internal/eventstore"
	ferrors "git.home.luguber.info/inful/relforge/internal/foundation/errors"
	"git.home.luguber.info/inful/relforge/internal/host"
	"git.home.luguber.info/inful/relforge/internal/manifest"
	"git.home.luguber.info/inful/relforge/internal/metrics"
	"git.home.luguber.info/inful/relforge/internal/notify"
	"git.home.luguber.info/inful/relforge/internal/publish"
	"git.home.luguber.info/inful/relforge/internal/release"
	"git.home.luguber.info/inful/relforge/internal/retry"
)

// Deps bundles the pipeline's collaborators. Host, Builder and Source are
// required; Store, Metrics and Channels are optional and nil-safe.
type Deps struct {
	Host     host.ReleaseHost
	Builder  builder.Builder
	Source   SourceClient
	Channels []notify.Channel
	Store    eventstore.Store
	Metrics  *metrics.Recorder
}

// Pipeline runs complete release cycles for a fixed target matrix.
type Pipeline struct {
	cfg     *config.Config
	targets release.TargetSet
	deps    Deps
	policy  retry.Policy
}

// New assembles a pipeline from validated configuration.
func New(cfg *config.Config, deps Deps) *Pipeline {
	return &Pipeline{
		cfg:     cfg,
		targets: release.TargetsFromConfig(cfg.Targets),
		deps:    deps,
		policy:  retry.FromConfig(cfg.Retry),
	}
}

// Run executes one release cycle and always returns a Result describing what
// happened; the error mirrors Result.Err for callers that only check errors.
//
// The phase order is fixed: ensure the host release exists, fan out target
// jobs and join on all of them, then generate and publish the update
// manifest only when every target succeeded, and finally fan out
// notifications. A failed target downgrades the run to partial; an
// unreachable host aborts it.
func (p *Pipeline) Run(ctx context.Context, rel release.Context) (*Result, error) {
	start := time.Now()
	slog.Info("Release run starting",
		"run_id", rel.ID, "tag", rel.Tag, "channel", string(rel.Channel), "targets", len(p.targets))
	p.emit(ctx, rel, eventstore.EventRunStarted, map[string]any{
		"tag": rel.Tag, "channel": string(rel.Channel), "targets": p.targets.Keys(),
	})

	if err := p.deps.Host.EnsureRelease(ctx, rel); err != nil {
		return p.finish(ctx, rel, &Result{
			Status: StatusAborted,
			Err: ferrors.WrapError(err, ferrors.CategoryHost,
				"release host unavailable, nothing was attempted").Build(),
			Duration: time.Since(start),
		})
	}

	outcomes := p.runTargets(ctx, rel)
	result := &Result{Outcomes: outcomes}
	for _, o := range outcomes {
		p.emit(ctx, rel, eventstore.EventTargetConcluded, targetPayload(o))
		if p.deps.Metrics != nil {
			p.deps.Metrics.TargetConcluded(o.Succeeded())
		}
	}

	if failed := result.FailedTargets(); len(failed) > 0 {
		result.Status = StatusPartial
		result.Err = ferrors.NewError(ferrors.CategoryBuild,
			fmt.Sprintf("%d of %d targets failed (%s), update manifest skipped",
				len(failed), len(p.targets), strings.Join(failed, ", "))).Build()
		result.Duration = time.Since(start)
		return p.finish(ctx, rel, result)
	}

	m, asset, err := p.publishManifest(ctx, rel, outcomes)
	if err != nil {
		result.Status = StatusAborted
		result.Err = err
		result.Duration = time.Since(start)
		return p.finish(ctx, rel, result)
	}
	result.Manifest = m
	result.ManifestAsset = asset
	p.emit(ctx, rel, eventstore.EventManifestPublish, map[string]any{
		"name": asset.Name, "url": asset.URL, "platforms": len(m.Platforms),
	})

	result.Deliveries = p.notifyAll(ctx, rel, asset)
	result.Status = StatusComplete
	result.Duration = time.Since(start)
	return p.finish(ctx, rel, result)
}

// runTargets builds the per-target jobs and drives them through the
// coordinator. The cleanup latch is released up front when no target owns
// cleanup, so publish stages never wait on work nobody will do.
func (p *Pipeline) runTargets(ctx context.Context, rel release.Context) []TargetOutcome {
	cleanupDone := newLatch()
	if _, ok := p.targets.CleanupOwner(); !ok {
		cleanupDone.release()
	}

	publisher := publish.NewPublisher(p.deps.Host, p.policy).
		WithUploadTimeout(p.cfg.Host.UploadTimeout.Std())
	if p.deps.Metrics != nil {
		publisher.WithRetryObserver(p.deps.Metrics.PublishRetried)
	}

	jobs := make([]*Job, 0, len(p.targets))
	for _, target := range p.targets {
		job := &Job{
			target:      target,
			rel:         rel,
			source:      p.deps.Source,
			builder:     p.deps.Builder,
			publisher:   publisher,
			cleanupDone: cleanupDone,
		}
		if target.CleanupOwner {
			job.cleaner = host.NewAssetCleaner(p.deps.Host)
		}
		jobs = append(jobs, job)
	}

	coord := NewCoordinator(jobs, p.cfg.Build.Concurrency, p.cfg.Build.Timeout.Std(), p.deps.Metrics)
	return coord.Run(ctx)
}

// publishManifest generates the update manifest from the joined outcomes and
// uploads it. It is only called when every target succeeded; the generator
// still refuses incomplete input as a second line of defense.
func (p *Pipeline) publishManifest(ctx context.Context, rel release.Context, outcomes []TargetOutcome) (*manifest.UpdateManifest, release.PublishedAsset, error) {
	assets := make(map[string]release.PublishedAsset, len(outcomes))
	for _, o := range outcomes {
		assets[o.Target.Key()] = o.UpdateAsset
	}
	m, err := manifest.Build(rel, p.targets, assets)
	if err != nil {
		return nil, release.PublishedAsset{}, err
	}
	asset, err := manifest.NewPublisher(p.deps.Host).Publish(ctx, rel, m)
	if err != nil {
		return nil, release.PublishedAsset{}, err
	}
	return m, asset, nil
}

// notifyAll renders the announcement once and fans it out to every
// configured channel. Delivery failures are recorded, never escalated: the
// release is already out.
func (p *Pipeline) notifyAll(ctx context.Context, rel release.Context, manifestAsset release.PublishedAsset) []notify.Delivery {
	if len(p.deps.Channels) == 0 {
		return nil
	}
	msg, err := notify.RenderMessage(p.cfg.Product.Name, rel, p.releasePageURL(rel))
	if err != nil {
		slog.Error("Announcement rendering failed, notifications skipped", "run_id", rel.ID, "error", err)
		return nil
	}
	deliveries := notify.Fanout(ctx, p.deps.Channels, msg)
	for _, d := range deliveries {
		p.emit(ctx, rel, eventstore.EventNotifyAttempted, map[string]any{
			"channel": d.Channel, "ok": d.Err == nil,
		})
		if d.Err != nil && p.deps.Metrics != nil {
			p.deps.Metrics.NotifyFailed(d.Channel)
		}
	}
	return deliveries
}

func (p *Pipeline) releasePageURL(rel release.Context) string {
	base := strings.TrimSuffix(p.cfg.Host.BaseURL, "/")
	if base == "" {
		base = "https://github.com"
	}
	return fmt.Sprintf("%s/%s/%s/releases/tag/%s", base, p.cfg.Host.Owner, p.cfg.Host.Repo, rel.Tag)
}

// finish records the terminal event and metrics and returns the result pair.
func (p *Pipeline) finish(ctx context.Context, rel release.Context, result *Result) (*Result, error) {
	payload := map[string]any{
		"tag": rel.Tag, "status": string(result.Status), "duration_ms": result.Duration.Milliseconds(),
	}
	if result.Err != nil {
		payload["error"] = result.Err.Error()
	}
	p.emit(ctx, rel, eventstore.EventRunFinished, payload)
	if p.deps.Metrics != nil {
		p.deps.Metrics.RunFinished(string(result.Status), result.Duration.Seconds())
	}

	switch result.Status {
	case StatusComplete:
		slog.Info("Release run complete", "run_id", rel.ID, "tag", rel.Tag, "duration", result.Duration)
	default:
		slog.Error("Release run did not complete",
			"run_id", rel.ID, "tag", rel.Tag, "status", string(result.Status), "error", result.Err)
	}
	return result, result.Err
}

// emit appends a lifecycle event when a store is configured. Persistence
// failures are logged and swallowed; run history is advisory.
func (p *Pipeline) emit(ctx context.Context, rel release.Context, eventType string, payload any) {
	if p.deps.Store == nil {
		return
	}
	if err := p.deps.Store.Append(ctx, rel.ID, eventType, payload); err != nil {
		slog.Warn("Run event not persisted", "run_id", rel.ID, "event", eventType, "error", err)
	}
}

func targetPayload(o TargetOutcome) map[string]any {
	payload := map[string]any{
		"target":      o.Target.Key(),
		"ok":          o.Succeeded(),
		"duration_ms": o.Duration.Milliseconds(),
		"assets":      len(o.Assets),
	}
	if o.Err != nil {
		payload["stage"] = string(o.FailedStage)
		payload["error"] = o.Err.Error()
	}
	return payload
}
