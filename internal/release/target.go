package release

import (
	"strings"

	"git.home.luguber.info/inful/relforge/internal/config"
)

// TargetDescriptor identifies one build target of the matrix and declares
// which secondary behaviors apply to it. Per-target differences live here as
// data so the job runner stays uniform; adding a target is a config change.
type TargetDescriptor struct {
	OS       string
	Arch     string
	Category string

	// Portable requests a secondary portable artifact after the installer build.
	Portable bool
	// ExtraToolchainTarget is an additional native toolchain target installed
	// during the readiness stage (cross-compilation triple).
	ExtraToolchainTarget string
	// CleanupOwner marks the one target whose job runs stale-asset cleanup
	// before any upload happens.
	CleanupOwner bool
	// MediaType overrides the default upload content type.
	MediaType string
}

// Key returns the stable identity string for the descriptor. It keys manifest
// platform entries and coordinator outcomes, and must render identically to
// config.TargetConfig.IdentityKey, which validation dedupes on.
func (t TargetDescriptor) Key() string {
	parts := []string{t.OS, t.Arch}
	if t.Category != "" {
		parts = append(parts, t.Category)
	}
	return strings.Join(parts, "-")
}

func (t TargetDescriptor) String() string { return t.Key() }

// TargetSet is the fixed ordered collection of build targets.
type TargetSet []TargetDescriptor

// TargetsFromConfig converts the configured matrix into descriptors,
// preserving order.
func TargetsFromConfig(targets []config.TargetConfig) TargetSet {
	set := make(TargetSet, 0, len(targets))
	for _, t := range targets {
		set = append(set, TargetDescriptor{
			OS:                   t.OS,
			Arch:                 t.Arch,
			Category:             t.Category,
			Portable:             t.Portable,
			ExtraToolchainTarget: t.ExtraToolchainTarget,
			CleanupOwner:         t.CleanupOwner,
			MediaType:            t.MediaType,
		})
	}
	return set
}

// CleanupOwner returns the descriptor that owns asset cleanup, if any.
func (s TargetSet) CleanupOwner() (TargetDescriptor, bool) {
	for _, t := range s {
		if t.CleanupOwner {
			return t, true
		}
	}
	return TargetDescriptor{}, false
}

// Keys returns the ordered identity keys of the set.
func (s TargetSet) Keys() []string {
	keys := make([]string, len(s))
	for i, t := range s {
		keys[i] = t.Key()
	}
	return keys
}
