// Package hosttest provides an in-memory ReleaseHost for tests.
package hosttest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"sync"

	"git.home.luguber.info/inful/relforge/internal/release"
)

// StoredAsset is what the fake host remembers about one uploaded asset.
type StoredAsset struct {
	URL      string
	Checksum string
	Size     int64
	Payload  []byte
}

// FakeHost implements host.ReleaseHost in memory, with per-name scripted
// upload failures so tests can exercise retry and isolation behavior.
type FakeHost struct {
	mu     sync.Mutex
	assets map[string]map[string]StoredAsset // tag -> name -> asset

	// UploadErrs maps asset name to a queue of errors returned before
	// uploads start succeeding for that name.
	UploadErrs map[string][]error
	// DeleteErr fails every DeleteMatching call when set.
	DeleteErr error
	// EnsureErr fails EnsureRelease when set (host unreachable).
	EnsureErr error

	UploadCalls int
	DeleteCalls int
	uploadSeq   int
}

// New creates an empty fake host.
func New() *FakeHost {
	return &FakeHost{
		assets:     make(map[string]map[string]StoredAsset),
		UploadErrs: make(map[string][]error),
	}
}

// Seed stores an asset directly, bypassing Upload bookkeeping.
func (f *FakeHost) Seed(tag, name string, payload []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.put(tag, name, payload)
}

func (f *FakeHost) put(tag, name string, payload []byte) StoredAsset {
	if f.assets[tag] == nil {
		f.assets[tag] = make(map[string]StoredAsset)
	}
	f.uploadSeq++
	sum := sha256.Sum256(payload)
	asset := StoredAsset{
		URL:      fmt.Sprintf("https://releases.test/%s/%s?rev=%d", tag, name, f.uploadSeq),
		Checksum: hex.EncodeToString(sum[:]),
		Size:     int64(len(payload)),
		Payload:  append([]byte(nil), payload...),
	}
	f.assets[tag][name] = asset
	return asset
}

// Asset returns the stored asset and whether it exists.
func (f *FakeHost) Asset(tag, name string) (StoredAsset, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	asset, ok := f.assets[tag][name]
	return asset, ok
}

// AssetNames returns the names currently stored for a tag.
func (f *FakeHost) AssetNames(tag string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for name := range f.assets[tag] {
		names = append(names, name)
	}
	return names
}

// EnsureRelease implements host.ReleaseHost.
func (f *FakeHost) EnsureRelease(ctx context.Context, rel release.Context) error {
	return f.EnsureErr
}

// Upload implements host.ReleaseHost with last-write-wins semantics.
func (f *FakeHost) Upload(ctx context.Context, rel release.Context, name, path, mediaType string) (release.PublishedAsset, error) {
	f.mu.Lock()
	f.UploadCalls++
	if errs := f.UploadErrs[name]; len(errs) > 0 {
		err := errs[0]
		f.UploadErrs[name] = errs[1:]
		f.mu.Unlock()
		return release.PublishedAsset{}, err
	}
	f.mu.Unlock()

	payload, err := os.ReadFile(path)
	if err != nil {
		return release.PublishedAsset{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	stored := f.put(rel.Tag, name, payload)
	return release.PublishedAsset{
		Name:     name,
		URL:      stored.URL,
		Checksum: stored.Checksum,
		Size:     stored.Size,
	}, nil
}

// DeleteMatching implements host.ReleaseHost; missing releases delete nothing.
func (f *FakeHost) DeleteMatching(ctx context.Context, rel release.Context, patterns []string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.DeleteCalls++
	if f.DeleteErr != nil {
		return 0, f.DeleteErr
	}
	deleted := 0
	for name := range f.assets[rel.Tag] {
		for _, p := range patterns {
			if strings.HasSuffix(name, p) {
				delete(f.assets[rel.Tag], name)
				deleted++
				break
			}
		}
	}
	return deleted, nil
}
