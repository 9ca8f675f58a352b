// Package pipeline orchestrates a release run end to end: it fans the target
// matrix out into concurrent build jobs, joins on all of them, publishes the
// update manifest when every target succeeded, and fans out notifications.
package pipeline

import (
	"time"

	"git.home.luguber.info/inful/relforge/internal/manifest"
	"git.home.luguber.info/inful/relforge/internal/notify"
	"git.home.luguber.info/inful/relforge/internal/release"
)

// Stage names one phase of a target job. Failures are attributed to the
// stage that produced them so run records can answer "where did it break".
type Stage string

const (
	StageCheckout     Stage = "checkout"
	StageToolchain    Stage = "toolchain"
	StageDependencies Stage = "dependencies"
	StageBundle       Stage = "bundle"
	StagePortable     Stage = "portable"
	StageCleanup      Stage = "cleanup"
	StagePublish      Stage = "publish"
)

// Status is the overall result of a run.
type Status string

const (
	// StatusComplete means every target built and published and the update
	// manifest went out.
	StatusComplete Status = "complete"
	// StatusPartial means at least one target failed; succeeded targets kept
	// their published assets but no manifest was generated.
	StatusPartial Status = "partial"
	// StatusAborted means the run could not do useful work at all, typically
	// because the release host was unreachable.
	StatusAborted Status = "aborted"
)

// TargetOutcome is the terminal record of one target job. Exactly one
// outcome exists per configured target once Join returns.
type TargetOutcome struct {
	Target release.TargetDescriptor
	// Assets are every asset the job published, installers and signatures.
	Assets []release.PublishedAsset
	// UpdateAsset is the primary installer asset, the one the update
	// manifest points at for this target. Zero when the job failed.
	UpdateAsset release.PublishedAsset
	// FailedStage is set when Err is non-nil.
	FailedStage Stage
	Err         error
	Duration    time.Duration
}

// Succeeded reports whether the job ran all its stages without error.
func (o TargetOutcome) Succeeded() bool { return o.Err == nil }

// Result is the full record of one pipeline run.
type Result struct {
	Status   Status
	Outcomes []TargetOutcome
	// Manifest and ManifestAsset are set only for complete runs.
	Manifest      *manifest.UpdateManifest
	ManifestAsset release.PublishedAsset
	Deliveries    []notify.Delivery
	Duration      time.Duration
	// Err explains partial and aborted runs.
	Err error
}

// FailedTargets returns the keys of targets that did not succeed, in matrix
// order.
func (r *Result) FailedTargets() []string {
	var keys []string
	for _, o := range r.Outcomes {
		if !o.Succeeded() {
			keys = append(keys, o.Target.Key())
		}
	}
	return keys
}
