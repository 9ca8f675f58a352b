package builder

import (
	"os"
	"path/filepath"
	"testing"

	ferrors "git.home.luguber.info/inful/relforge/internal/foundation/errors"
	"git.home.luguber.info/inful/relforge/internal/release"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("payload"), 0o644))
}

func TestCollectArtifactsPairsSignatures(t *testing.T) {
	dir := t.TempDir()
	installer := filepath.Join(dir, "dist", "bundle", "nsis", "aurora_1.2.0_x64-setup.exe")
	writeFile(t, installer)
	writeFile(t, installer+".sig")

	target := release.TargetDescriptor{OS: "windows", Arch: "x64", Category: "nsis"}
	artifacts, err := collectArtifacts(dir, target, extensionsForCategory("nsis"))
	require.NoError(t, err)
	require.Len(t, artifacts, 1)
	assert.Equal(t, installer, artifacts[0].Path)
	assert.Equal(t, installer+".sig", artifacts[0].SignaturePath)
	assert.Equal(t, "application/vnd.microsoft.portable-executable", artifacts[0].MediaType)
}

func TestCollectArtifactsCollectsEachFileOnce(t *testing.T) {
	dir := t.TempDir()
	// "-setup.exe" matches both nsis extensions; the portable exe only ".exe".
	installer := filepath.Join(dir, "dist", "bundle", "nsis", "aurora_1.2.0_x64-setup.exe")
	portable := filepath.Join(dir, "dist", "bundle", "nsis", "aurora_1.2.0_x64.exe")
	writeFile(t, installer)
	writeFile(t, portable)

	target := release.TargetDescriptor{OS: "windows", Arch: "x64", Category: "nsis"}
	artifacts, err := collectArtifacts(dir, target, extensionsForCategory("nsis"))
	require.NoError(t, err)
	require.Len(t, artifacts, 2)
	paths := []string{artifacts[0].Path, artifacts[1].Path}
	assert.ElementsMatch(t, []string{installer, portable}, paths)
}

func TestCollectArtifactsEmptyIsBuildFailure(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "dist", "bundle"), 0o755))

	target := release.TargetDescriptor{OS: "linux", Arch: "x64", Category: "appimage"}
	_, err := collectArtifacts(dir, target, extensionsForCategory("appimage"))
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryBuild))
}

func TestMediaTypeOverride(t *testing.T) {
	target := release.TargetDescriptor{OS: "linux", Arch: "x64", MediaType: "application/x-custom"}
	assert.Equal(t, "application/x-custom", mediaTypeFor("x.deb", target))
	assert.Equal(t, "application/vnd.debian.binary-package", mediaTypeFor("x.deb", release.TargetDescriptor{}))
}

func TestExtensionsForUnknownCategory(t *testing.T) {
	assert.Equal(t, []string{".flatpak"}, extensionsForCategory("flatpak"))
}
