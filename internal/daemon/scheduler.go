package daemon

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"git.home.luguber.info/inful/relforge/internal/release"
)

// Scheduler triggers nightly channel runs on a cron schedule.
type Scheduler struct {
	scheduler gocron.Scheduler
	daemon    *Daemon
}

// NewScheduler creates a scheduler for the given cron spec.
func NewScheduler(cronSpec string, d *Daemon) (*Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	sched := &Scheduler{scheduler: s, daemon: d}
	if _, err := s.NewJob(
		gocron.CronJob(cronSpec, false),
		gocron.NewTask(sched.triggerNightly),
		gocron.WithName("nightly-release"),
	); err != nil {
		_ = s.Shutdown()
		return nil, fmt.Errorf("schedule nightly job: %w", err)
	}
	return sched, nil
}

// Start begins the schedule.
func (s *Scheduler) Start() {
	slog.Info("Nightly schedule active")
	s.scheduler.Start()
}

// Stop shuts the scheduler down.
func (s *Scheduler) Stop() error {
	return s.scheduler.Shutdown()
}

// triggerNightly queues a nightly run with a date-stamped tag. A full queue
// drops the tick; the next one will cover the same commits.
func (s *Scheduler) triggerNightly() {
	tag := fmt.Sprintf("nightly-%s", time.Now().UTC().Format("2006.01.02"))
	rel := release.NewNightlyContext(tag)
	if _, err := s.daemon.Trigger(rel); err != nil {
		slog.Warn("Nightly run not queued", "tag", tag, "error", err)
	}
}
