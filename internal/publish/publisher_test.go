package publish

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"git.home.luguber.info/inful/relforge/internal/config"
	ferrors "git.home.luguber.info/inful/relforge/internal/foundation/errors"
	"git.home.luguber.info/inful/relforge/internal/host"
	"git.home.luguber.info/inful/relforge/internal/host/hosttest"
	"git.home.luguber.info/inful/relforge/internal/release"
	"git.home.luguber.info/inful/relforge/internal/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(maxRetries int) retry.Policy {
	return retry.Policy{Mode: config.RetryBackoffFixed, Initial: time.Millisecond, Max: time.Millisecond, MaxRetries: maxRetries}
}

func writeArtifact(t *testing.T, dir, name, payload string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(payload), 0o644))
	return path
}

func TestPublishReturnsChecksumAndSignature(t *testing.T) {
	dir := t.TempDir()
	path := writeArtifact(t, dir, "aurora_1.2.0_x64-setup.exe", "installer bytes")
	writeArtifact(t, dir, "aurora_1.2.0_x64-setup.exe.sig", "SIGDATA\n")

	fake := hosttest.New()
	rel := release.NewContext("r1", "v1.2.0", "")
	pub := NewPublisher(fake, fastPolicy(2))

	asset, err := pub.Publish(context.Background(), rel, release.BuildArtifact{
		Target:        release.TargetDescriptor{OS: "windows", Arch: "x64"},
		Path:          path,
		MediaType:     "application/vnd.microsoft.portable-executable",
		SignaturePath: path + ".sig",
	})
	require.NoError(t, err)

	sum := sha256.Sum256([]byte("installer bytes"))
	assert.Equal(t, hex.EncodeToString(sum[:]), asset.Checksum)
	assert.Equal(t, "SIGDATA", asset.Signature)
	assert.Equal(t, int64(len("installer bytes")), asset.Size)

	// Both the artifact and its signature file land on the host.
	_, ok := fake.Asset(rel.Tag, "aurora_1.2.0_x64-setup.exe")
	assert.True(t, ok)
	_, ok = fake.Asset(rel.Tag, "aurora_1.2.0_x64-setup.exe.sig")
	assert.True(t, ok)
}

func TestPublishRetriesTransientFailures(t *testing.T) {
	dir := t.TempDir()
	path := writeArtifact(t, dir, "aurora.AppImage", "payload")

	fake := hosttest.New()
	transient := ferrors.NewError(ferrors.CategoryNetwork, "connection reset").Retryable().Build()
	fake.UploadErrs["aurora.AppImage"] = []error{transient, transient}

	pub := NewPublisher(fake, fastPolicy(2))
	rel := release.NewContext("r1", "v1.0.0", "")

	asset, err := pub.Publish(context.Background(), rel, release.BuildArtifact{Path: path, MediaType: "application/octet-stream"})
	require.NoError(t, err)
	assert.NotEmpty(t, asset.URL)
	assert.Equal(t, 3, fake.UploadCalls)
}

func TestPublishDoesNotRetryFatalFailures(t *testing.T) {
	dir := t.TempDir()
	path := writeArtifact(t, dir, "aurora.dmg", "payload")

	fake := hosttest.New()
	fatal := ferrors.NewError(ferrors.CategoryAuth, "bad credentials").Fatal().Build()
	fake.UploadErrs["aurora.dmg"] = []error{fatal}

	pub := NewPublisher(fake, fastPolicy(5))
	_, err := pub.Publish(context.Background(), release.NewContext("r1", "v1.0.0", ""), release.BuildArtifact{Path: path})
	require.Error(t, err)
	assert.Equal(t, 1, fake.UploadCalls)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryAuth))
}

func TestPublishEscalatesAfterRetriesExhausted(t *testing.T) {
	dir := t.TempDir()
	path := writeArtifact(t, dir, "aurora.deb", "payload")

	fake := hosttest.New()
	transient := ferrors.NewError(ferrors.CategoryNetwork, "timeout").Retryable().Build()
	fake.UploadErrs["aurora.deb"] = []error{transient, transient, transient, transient}

	pub := NewPublisher(fake, fastPolicy(1))
	_, err := pub.Publish(context.Background(), release.NewContext("r1", "v1.0.0", ""), release.BuildArtifact{Path: path})
	require.Error(t, err)
	assert.Equal(t, 2, fake.UploadCalls) // initial + one retry
}

// stallingHost blocks the first n uploads until their context expires, then
// delegates to the wrapped host.
type stallingHost struct {
	host.ReleaseHost
	stalls int
	calls  int
}

func (s *stallingHost) Upload(ctx context.Context, rel release.Context, name, path, mediaType string) (release.PublishedAsset, error) {
	s.calls++
	if s.calls <= s.stalls {
		<-ctx.Done()
		return release.PublishedAsset{}, ctx.Err()
	}
	return s.ReleaseHost.Upload(ctx, rel, name, path, mediaType)
}

func TestPublishTimesOutSlowUploadAndRetries(t *testing.T) {
	dir := t.TempDir()
	path := writeArtifact(t, dir, "aurora.AppImage", "payload")

	slow := &stallingHost{ReleaseHost: hosttest.New(), stalls: 1}
	pub := NewPublisher(slow, fastPolicy(2)).WithUploadTimeout(10 * time.Millisecond)

	asset, err := pub.Publish(context.Background(), release.NewContext("r1", "v1.0.0", ""),
		release.BuildArtifact{Path: path, MediaType: "application/octet-stream"})
	require.NoError(t, err)
	assert.NotEmpty(t, asset.URL)
	assert.Equal(t, 2, slow.calls)
}

func TestPublishTimeoutEscalatesWhenRetriesExhausted(t *testing.T) {
	dir := t.TempDir()
	path := writeArtifact(t, dir, "aurora.dmg", "payload")

	slow := &stallingHost{ReleaseHost: hosttest.New(), stalls: 10}
	pub := NewPublisher(slow, fastPolicy(1)).WithUploadTimeout(5 * time.Millisecond)

	_, err := pub.Publish(context.Background(), release.NewContext("r1", "v1.0.0", ""),
		release.BuildArtifact{Path: path})
	require.Error(t, err)
	assert.Equal(t, 2, slow.calls) // initial + one retry, then escalation
	assert.Contains(t, err.Error(), "timed out")
}

func TestRepublishSameNameIsLastWriteWins(t *testing.T) {
	dir := t.TempDir()
	first := writeArtifact(t, dir, "latest.json", `{"version":"1.0.0"}`)

	fake := hosttest.New()
	rel := release.NewContext("r1", "v1.0.0", "")
	pub := NewPublisher(fake, fastPolicy(0))

	assetA, err := pub.Publish(context.Background(), rel, release.BuildArtifact{Path: first, MediaType: "application/json"})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(first, []byte(`{"version":"1.0.1"}`), 0o644))
	assetB, err := pub.Publish(context.Background(), rel, release.BuildArtifact{Path: first, MediaType: "application/json"})
	require.NoError(t, err)

	assert.NotEqual(t, assetA.Checksum, assetB.Checksum)
	stored, ok := fake.Asset(rel.Tag, "latest.json")
	require.True(t, ok)
	assert.Equal(t, assetB.Checksum, stored.Checksum)
	assert.Equal(t, assetB.URL, stored.URL)
}
