// Package daemon runs the release orchestrator as a long-lived service:
// webhook-triggered runs, a scheduled nightly channel, config hot-reload and
// the observability endpoints.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"git.home.luguber.info/inful/relforge/internal/config"
	"git.home.luguber.info/inful/relforge/internal/eventstore"
	"git.home.luguber.info/inful/relforge/internal/metrics"
	"git.home.luguber.info/inful/relforge/internal/pipeline"
	"git.home.luguber.info/inful/relforge/internal/release"
)

// Runner executes one release cycle. Satisfied by pipeline.Pipeline.
type Runner interface {
	Run(ctx context.Context, rel release.Context) (*pipeline.Result, error)
}

// queueSize bounds pending triggers. Webhook bursts beyond this are rejected
// with 503 rather than queued without bound.
const queueSize = 16

// Daemon wires the trigger sources (webhook, schedule) to a single worker
// that executes runs one at a time. Runs are serialized because concurrent
// runs against the same release host would race on asset cleanup.
type Daemon struct {
	cfgPath string

	mu  sync.RWMutex
	cfg *config.Config

	newRunner func(cfg *config.Config) Runner
	store     eventstore.Store
	metrics   *metrics.Recorder

	queue     chan release.Context
	server    *Server
	scheduler *Scheduler
	watcher   *ConfigWatcher

	startTime time.Time
	stopOnce  sync.Once
	done      chan struct{}
}

// New creates a daemon for the given config file. newRunner builds a fresh
// pipeline whenever configuration changes.
func New(cfgPath string, cfg *config.Config, newRunner func(cfg *config.Config) Runner, store eventstore.Store, rec *metrics.Recorder) *Daemon {
	return &Daemon{
		cfgPath:   cfgPath,
		cfg:       cfg,
		newRunner: newRunner,
		store:     store,
		metrics:   rec,
		queue:     make(chan release.Context, queueSize),
		done:      make(chan struct{}),
	}
}

// Run starts all daemon components and blocks until the context is canceled,
// then shuts them down gracefully.
func (d *Daemon) Run(ctx context.Context) error {
	d.startTime = time.Now()
	cfg := d.Config()
	slog.Info("Daemon starting", "listen", cfg.Daemon.Listen, "product", cfg.Product.Name)

	d.server = NewServer(d)
	if err := d.server.Start(ctx); err != nil {
		return fmt.Errorf("start http server: %w", err)
	}

	if cfg.Daemon.NightlySchedule != "" {
		sched, err := NewScheduler(cfg.Daemon.NightlySchedule, d)
		if err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		d.scheduler = sched
		d.scheduler.Start()
	}

	watcher, err := NewConfigWatcher(d.cfgPath, d)
	if err != nil {
		slog.Warn("Config watcher unavailable, hot reload disabled", "error", err)
	} else {
		d.watcher = watcher
		if err := d.watcher.Start(ctx); err != nil {
			slog.Warn("Config watcher failed to start", "error", err)
		}
	}

	go d.workLoop(ctx)

	<-ctx.Done()
	return d.stop()
}

func (d *Daemon) stop() error {
	var firstErr error
	d.stopOnce.Do(func() {
		slog.Info("Daemon stopping")
		close(d.done)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if d.watcher != nil {
			d.watcher.Stop()
		}
		if d.scheduler != nil {
			if err := d.scheduler.Stop(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if d.server != nil {
			if err := d.server.Stop(shutdownCtx); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	})
	return firstErr
}

// Config returns the current configuration snapshot.
func (d *Daemon) Config() *config.Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cfg
}

// Reload swaps in a validated configuration. The next run picks it up; a run
// already in flight keeps the config it started with.
func (d *Daemon) Reload(cfg *config.Config) {
	d.mu.Lock()
	d.cfg = cfg
	d.mu.Unlock()
	slog.Info("Configuration applied", "targets", len(cfg.Targets))
}

// Trigger queues a release run. It returns the run ID, or an error when the
// queue is full.
func (d *Daemon) Trigger(rel release.Context) (string, error) {
	select {
	case d.queue <- rel:
		slog.Info("Release run queued", "run_id", rel.ID, "tag", rel.Tag, "channel", string(rel.Channel))
		return rel.ID, nil
	default:
		return "", fmt.Errorf("run queue full (%d pending)", queueSize)
	}
}

// QueueLength reports the number of pending runs.
func (d *Daemon) QueueLength() int { return len(d.queue) }

// workLoop drains the queue one run at a time.
func (d *Daemon) workLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case rel := <-d.queue:
			runner := d.newRunner(d.Config())
			result, err := runner.Run(ctx, rel)
			if err != nil {
				status := "unknown"
				if result != nil {
					status = string(result.Status)
				}
				slog.Error("Queued run did not complete",
					"run_id", rel.ID, "tag", rel.Tag, "status", status, "error", err)
				continue
			}
			slog.Info("Queued run complete", "run_id", rel.ID, "tag", rel.Tag, "duration", result.Duration)
		}
	}
}
