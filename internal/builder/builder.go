// Package builder invokes the external bundler that produces installer
// artifacts for one target. The bundler is a collaborator: relforge only
// prepares its environment, runs it, and collects what it wrote.
package builder

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"git.home.luguber.info/inful/relforge/internal/config"
	ferrors "git.home.luguber.info/inful/relforge/internal/foundation/errors"
	"git.home.luguber.info/inful/relforge/internal/release"
)

// Builder abstracts the external build capability so the pipeline and its
// tests do not depend on a real bundler being installed.
type Builder interface {
	// EnsureToolchain verifies build prerequisites for the target and installs
	// any extra native toolchain target the descriptor declares.
	EnsureToolchain(ctx context.Context, target release.TargetDescriptor) error
	// InstallDependencies resolves project dependencies inside the checkout.
	InstallDependencies(ctx context.Context, dir string) error
	// Build produces the installer artifact(s) for the target. All-or-nothing:
	// an error means no artifacts are surfaced.
	Build(ctx context.Context, dir string, target release.TargetDescriptor, rel release.Context) ([]release.BuildArtifact, error)
	// BuildPortable produces the secondary portable artifact for targets that
	// request one.
	BuildPortable(ctx context.Context, dir string, target release.TargetDescriptor, rel release.Context) (release.BuildArtifact, error)
}

// ExecBuilder runs the configured bundler command as a subprocess.
type ExecBuilder struct {
	command        string
	bundleManifest string
}

// NewExecBuilder creates a builder around the configured command.
func NewExecBuilder(build config.BuildConfig, product config.ProductConfig) *ExecBuilder {
	return &ExecBuilder{command: build.Command, bundleManifest: product.BundleManifest}
}

// EnsureToolchain checks the bundler is reachable and installs the extra
// toolchain target when the descriptor declares one.
func (b *ExecBuilder) EnsureToolchain(ctx context.Context, target release.TargetDescriptor) error {
	if _, err := exec.LookPath(b.command); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryToolchain, fmt.Sprintf("builder command %q not found", b.command)).Build()
	}
	if target.ExtraToolchainTarget != "" {
		if err := b.run(ctx, "", "rustup", "target", "add", target.ExtraToolchainTarget); err != nil {
			return ferrors.WrapError(err, ferrors.CategoryToolchain,
				fmt.Sprintf("install toolchain target %s", target.ExtraToolchainTarget)).Build()
		}
	}
	return nil
}

// InstallDependencies runs the project dependency install inside the checkout.
func (b *ExecBuilder) InstallDependencies(ctx context.Context, dir string) error {
	if err := b.run(ctx, dir, b.command, "install", "--frozen-lockfile"); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryBuild, "dependency installation failed").Build()
	}
	return nil
}

// Build invokes the bundler for the target's category and collects the
// artifacts it wrote, with their detached update signatures.
func (b *ExecBuilder) Build(ctx context.Context, dir string, target release.TargetDescriptor, rel release.Context) ([]release.BuildArtifact, error) {
	args := []string{"build", "--bundle", target.Category}
	if b.bundleManifest != "" {
		args = append(args, "--config", b.bundleManifest)
	}
	if target.ExtraToolchainTarget != "" {
		args = append(args, "--target", target.ExtraToolchainTarget)
	}
	if err := b.run(ctx, dir, b.command, args...); err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryBuild,
			fmt.Sprintf("bundler failed for %s", target.Key())).Build()
	}
	artifacts, err := collectArtifacts(dir, target, extensionsForCategory(target.Category))
	if err != nil {
		return nil, err
	}
	slog.Debug("Bundler produced artifacts", "target", target.Key(), "count", len(artifacts))
	return artifacts, nil
}

// BuildPortable invokes the portable bundle variant and returns its single artifact.
func (b *ExecBuilder) BuildPortable(ctx context.Context, dir string, target release.TargetDescriptor, rel release.Context) (release.BuildArtifact, error) {
	args := []string{"build", "--bundle", "portable"}
	if target.ExtraToolchainTarget != "" {
		args = append(args, "--target", target.ExtraToolchainTarget)
	}
	if err := b.run(ctx, dir, b.command, args...); err != nil {
		return release.BuildArtifact{}, ferrors.WrapError(err, ferrors.CategoryBuild,
			fmt.Sprintf("portable bundle failed for %s", target.Key())).Build()
	}
	artifacts, err := collectArtifacts(dir, target, []string{".zip"})
	if err != nil {
		return release.BuildArtifact{}, err
	}
	return artifacts[0], nil
}

// run executes a command, capturing stderr so failures carry diagnostics.
func (b *ExecBuilder) run(ctx context.Context, dir, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	slog.Debug("Running builder command", "command", name, "args", strings.Join(args, " "), "dir", dir)
	if err := cmd.Run(); err != nil {
		tail := stderr.String()
		if len(tail) > 2000 {
			tail = tail[len(tail)-2000:]
		}
		return fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, strings.TrimSpace(tail))
	}
	return nil
}

// collectArtifacts walks the bundler output directory for files matching the
// expected extensions and pairs them with detached .sig files when present.
// Finding none is a build failure: the job's output is all-or-nothing.
func collectArtifacts(dir string, target release.TargetDescriptor, extensions []string) ([]release.BuildArtifact, error) {
	outDir := filepath.Join(dir, "dist", "bundle")
	var artifacts []release.BuildArtifact
	err := filepath.WalkDir(outDir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		for _, ext := range extensions {
			if strings.HasSuffix(path, ext) {
				artifact := release.BuildArtifact{
					Target:    target,
					Path:      path,
					MediaType: mediaTypeFor(path, target),
				}
				if sig := path + ".sig"; fileExists(sig) {
					artifact.SignaturePath = sig
				}
				artifacts = append(artifacts, artifact)
				// A file can match more than one category extension
				// (nsis installers end in both "-setup.exe" and ".exe");
				// collect it once.
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryFileSystem, "scan bundler output").Build()
	}
	if len(artifacts) == 0 {
		return nil, ferrors.NewError(ferrors.CategoryBuild,
			fmt.Sprintf("bundler produced no %s artifacts for %s", strings.Join(extensions, "/"), target.Key())).Build()
	}
	return artifacts, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// extensionsForCategory maps a bundle category to the file extensions the
// bundler emits for it. Unknown categories fall back to the category itself
// as an extension so new bundle kinds work without a code change.
func extensionsForCategory(category string) []string {
	switch category {
	case "nsis":
		return []string{"-setup.exe", ".exe"}
	case "msi":
		return []string{".msi"}
	case "dmg":
		return []string{".dmg"}
	case "app":
		return []string{".app.tar.gz"}
	case "appimage":
		return []string{".AppImage"}
	case "deb":
		return []string{".deb"}
	case "rpm":
		return []string{".rpm"}
	case "":
		return []string{".zip"}
	default:
		return []string{"." + category}
	}
}

// mediaTypeFor picks the upload content type; a descriptor override wins.
func mediaTypeFor(path string, target release.TargetDescriptor) string {
	if target.MediaType != "" {
		return target.MediaType
	}
	switch {
	case strings.HasSuffix(path, ".msi"):
		return "application/x-msi"
	case strings.HasSuffix(path, ".exe"):
		return "application/vnd.microsoft.portable-executable"
	case strings.HasSuffix(path, ".dmg"):
		return "application/x-apple-diskimage"
	case strings.HasSuffix(path, ".deb"):
		return "application/vnd.debian.binary-package"
	case strings.HasSuffix(path, ".tar.gz"):
		return "application/gzip"
	case strings.HasSuffix(path, ".zip"):
		return "application/zip"
	default:
		return "application/octet-stream"
	}
}
