package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"git.home.luguber.info/inful/relforge/internal/config"
	"git.home.luguber.info/inful/relforge/internal/pipeline"
	"git.home.luguber.info/inful/relforge/internal/release"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRunner records executed runs and tracks overlap.
type fakeRunner struct {
	mu      sync.Mutex
	runs    []release.Context
	running int
	peak    int
	block   time.Duration
}

func (r *fakeRunner) Run(ctx context.Context, rel release.Context) (*pipeline.Result, error) {
	r.mu.Lock()
	r.running++
	if r.running > r.peak {
		r.peak = r.running
	}
	r.mu.Unlock()

	if r.block > 0 {
		time.Sleep(r.block)
	}

	r.mu.Lock()
	r.runs = append(r.runs, rel)
	r.running--
	r.mu.Unlock()
	return &pipeline.Result{Status: pipeline.StatusComplete}, nil
}

func testDaemonConfig() *config.Config {
	return &config.Config{
		Product: config.ProductConfig{Name: "aurora"},
		Host:    config.HostConfig{Owner: "aurora-app", Repo: "aurora"},
		Targets: []config.TargetConfig{{OS: "linux", Arch: "x64", Category: "appimage"}},
		Daemon:  &config.DaemonConfig{Listen: ":0"},
	}
}

func newTestDaemon(runner Runner) *Daemon {
	cfg := testDaemonConfig()
	return New("relforge.yaml", cfg, func(*config.Config) Runner { return runner }, nil, nil)
}

func postRelease(t *testing.T, srv *httptest.Server, body map[string]string, header map[string]string) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/release", bytes.NewReader(payload))
	require.NoError(t, err)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestTriggerEndpointQueuesRun(t *testing.T) {
	d := newTestDaemon(&fakeRunner{})
	srv := httptest.NewServer(NewServer(d).routes())
	defer srv.Close()

	resp := postRelease(t, srv, map[string]string{"tag": "v1.2.0", "notes": "fixes"}, nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.NotEmpty(t, body["run_id"])
	assert.Equal(t, "v1.2.0", body["tag"])
	assert.Equal(t, 1, d.QueueLength())
}

func TestTriggerEndpointRejectsMissingTag(t *testing.T) {
	d := newTestDaemon(&fakeRunner{})
	srv := httptest.NewServer(NewServer(d).routes())
	defer srv.Close()

	resp := postRelease(t, srv, map[string]string{"notes": "no tag"}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, 0, d.QueueLength())
}

func TestTriggerEndpointEnforcesWebhookToken(t *testing.T) {
	t.Setenv("RELFORGE_WEBHOOK_TOKEN", "s3cret")
	d := newTestDaemon(&fakeRunner{})
	d.Config().Daemon.WebhookSecretEnv = "RELFORGE_WEBHOOK_TOKEN"
	srv := httptest.NewServer(NewServer(d).routes())
	defer srv.Close()

	resp := postRelease(t, srv, map[string]string{"tag": "v1.0.0"}, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = postRelease(t, srv, map[string]string{"tag": "v1.0.0"},
		map[string]string{"X-Relforge-Token": "s3cret"})
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestTriggerRejectsWhenQueueFull(t *testing.T) {
	d := newTestDaemon(&fakeRunner{})
	for i := 0; i < queueSize; i++ {
		_, err := d.Trigger(release.NewContext("", "v1.0.0", ""))
		require.NoError(t, err)
	}
	_, err := d.Trigger(release.NewContext("", "v1.0.0", ""))
	assert.Error(t, err)
}

func TestWorkLoopSerializesRuns(t *testing.T) {
	runner := &fakeRunner{block: 10 * time.Millisecond}
	d := newTestDaemon(runner)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.workLoop(ctx)

	for _, tag := range []string{"v1.0.0", "v1.0.1", "v1.0.2"} {
		_, err := d.Trigger(release.NewContext(tag, tag, ""))
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		runner.mu.Lock()
		defer runner.mu.Unlock()
		return len(runner.runs) == 3
	}, 5*time.Second, 5*time.Millisecond)

	runner.mu.Lock()
	defer runner.mu.Unlock()
	assert.Equal(t, 1, runner.peak, "runs must never overlap")
	var tags []string
	for _, rel := range runner.runs {
		tags = append(tags, rel.Tag)
	}
	assert.Equal(t, []string{"v1.0.0", "v1.0.1", "v1.0.2"}, tags)
}

func TestStatusEndpoint(t *testing.T) {
	d := newTestDaemon(&fakeRunner{})
	srv := httptest.NewServer(NewServer(d).routes())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/api/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "aurora", body["product"])
	assert.EqualValues(t, 1, body["targets"])
}

func TestConfigReloadRejectsListenChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relforge.yaml")
	writeConfig := func(listen string) {
		content := `
product:
  name: aurora
source:
  url: https://git.test/aurora/aurora.git
host:
  owner: aurora-app
  repo: aurora
targets:
  - os: linux
    arch: x64
    category: appimage
daemon:
  listen: "` + listen + `"
`
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	writeConfig(":8385")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	d := New(path, cfg, func(*config.Config) Runner { return &fakeRunner{} }, nil, nil)
	cw, err := NewConfigWatcher(path, d)
	require.NoError(t, err)
	defer cw.Stop()

	// Same listen address: reload applies.
	writeConfig(":8385")
	require.NoError(t, cw.performReload())

	// Changed listen address: reload rejected, old config kept.
	writeConfig(":9999")
	require.Error(t, cw.performReload())
	assert.Equal(t, ":8385", d.Config().Daemon.Listen)
}
