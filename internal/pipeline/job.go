package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"git.home.luguber.info/inful/relforge/internal/builder"
	ferrors "git.home.luguber.info/inful/relforge/internal/foundation/errors"
	"git.home.luguber.info/inful/relforge/internal/host"
	"git.home.luguber.info/inful/relforge/internal/publish"
	"git.home.luguber.info/inful/relforge/internal/release"
)

// SourceClient checks out the application source for one job. Each job uses
// its own checkout name so working trees never overlap.
type SourceClient interface {
	Checkout(ctx context.Context, rel release.Context, name string) (string, error)
}

// latch is a one-shot barrier. Publish stages wait on it so stale-asset
// cleanup is confirmed done (or confirmed skipped) before any upload starts.
type latch struct {
	once sync.Once
	ch   chan struct{}
}

func newLatch() *latch { return &latch{ch: make(chan struct{})} }

func (l *latch) release() { l.once.Do(func() { close(l.ch) }) }

func (l *latch) wait(ctx context.Context) error {
	select {
	case <-l.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Job runs the full stage sequence for one target: checkout, toolchain
// readiness, dependency install, bundle build, optional portable build,
// publish. The owning target additionally runs stale-asset cleanup as a
// prelude, before any stage. The first stage error ends the job and is
// attributed in the outcome.
type Job struct {
	target    release.TargetDescriptor
	rel       release.Context
	source    SourceClient
	builder   builder.Builder
	publisher *publish.Publisher
	// cleaner is non-nil only on the job whose target owns asset cleanup.
	cleaner     *host.AssetCleaner
	cleanupDone *latch
}

type jobState struct {
	dir       string
	artifacts []release.BuildArtifact
	// installerCount marks where secondary portable artifacts begin, the
	// manifest entry always points at a primary installer.
	installerCount int
	assets         []release.PublishedAsset
	updateAsset    release.PublishedAsset
}

type stageDef struct {
	name Stage
	skip func() bool
	run  func(ctx context.Context, st *jobState) error
}

// runCleanup executes the stale-asset cleanup stage for the owning target.
// The coordinator calls it before the job queues for build capacity; if it
// ran inside the capacity-bounded stages, a non-owner job blocked on the
// cleanup latch could hold the last slot and starve the owner.
func (j *Job) runCleanup(ctx context.Context) error {
	deleted, err := j.cleaner.Clean(ctx, j.rel)
	if err != nil {
		return err
	}
	slog.Info("Stale assets cleaned", "run_id", j.rel.ID, "tag", j.rel.Tag, "deleted", deleted)
	return nil
}

// Run executes the stages in order and returns the terminal outcome.
func (j *Job) Run(ctx context.Context) TargetOutcome {
	start := time.Now()
	st := &jobState{}
	for _, stage := range j.stages() {
		if stage.skip != nil && stage.skip() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return j.fail(start, stage.name, ferrors.WrapError(err, ferrors.CategoryRuntime,
				fmt.Sprintf("target %s canceled", j.target.Key())).Build())
		}
		stageStart := time.Now()
		if err := stage.run(ctx, st); err != nil {
			slog.Error("Target stage failed",
				"run_id", j.rel.ID, "target", j.target.Key(),
				"stage", string(stage.name), "elapsed", time.Since(stageStart), "error", err)
			return j.fail(start, stage.name, err)
		}
		slog.Debug("Target stage done",
			"run_id", j.rel.ID, "target", j.target.Key(),
			"stage", string(stage.name), "elapsed", time.Since(stageStart))
	}

	return TargetOutcome{
		Target:      j.target,
		Assets:      st.assets,
		UpdateAsset: st.updateAsset,
		Duration:    time.Since(start),
	}
}

func (j *Job) fail(start time.Time, stage Stage, err error) TargetOutcome {
	return TargetOutcome{
		Target:      j.target,
		FailedStage: stage,
		Err:         err,
		Duration:    time.Since(start),
	}
}

func (j *Job) stages() []stageDef {
	return []stageDef{
		{name: StageCheckout, run: j.checkout},
		{name: StageToolchain, run: j.toolchain},
		{name: StageDependencies, run: j.dependencies},
		{name: StageBundle, run: j.bundle},
		{name: StagePortable, skip: func() bool { return !j.target.Portable }, run: j.portable},
		{name: StagePublish, run: j.publishAll},
	}
}

func (j *Job) checkout(ctx context.Context, st *jobState) error {
	name := j.rel.Tag + "-" + j.target.Key()
	dir, err := j.source.Checkout(ctx, j.rel, name)
	if err != nil {
		return err
	}
	st.dir = dir
	return nil
}

func (j *Job) toolchain(ctx context.Context, _ *jobState) error {
	return j.builder.EnsureToolchain(ctx, j.target)
}

func (j *Job) dependencies(ctx context.Context, st *jobState) error {
	return j.builder.InstallDependencies(ctx, st.dir)
}

func (j *Job) bundle(ctx context.Context, st *jobState) error {
	artifacts, err := j.builder.Build(ctx, st.dir, j.target, j.rel)
	if err != nil {
		return err
	}
	st.artifacts = artifacts
	st.installerCount = len(artifacts)
	return nil
}

func (j *Job) portable(ctx context.Context, st *jobState) error {
	artifact, err := j.builder.BuildPortable(ctx, st.dir, j.target, j.rel)
	if err != nil {
		return err
	}
	st.artifacts = append(st.artifacts, artifact)
	return nil
}

// publishAll uploads every artifact the build stages collected. It waits for
// the cleanup latch first so no upload can race a stale-asset delete.
func (j *Job) publishAll(ctx context.Context, st *jobState) error {
	if err := j.cleanupDone.wait(ctx); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryRuntime,
			"canceled while waiting for asset cleanup").Build()
	}
	for i, artifact := range st.artifacts {
		asset, err := j.publisher.Publish(ctx, j.rel, artifact)
		if err != nil {
			return err
		}
		st.assets = append(st.assets, asset)
		if i == 0 && st.installerCount > 0 {
			st.updateAsset = asset
		}
	}
	return nil
}
