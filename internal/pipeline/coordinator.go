package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"git.home.luguber.info/inful/relforge/internal/metrics"
)

// Coordinator fans target jobs out to goroutines and joins on all of them.
// Capacity is bounded by a semaphore; each job additionally runs under its
// own timeout so one hung build cannot stall the run forever.
type Coordinator struct {
	jobs        []*Job
	concurrency int
	jobTimeout  time.Duration
	metrics     *metrics.Recorder

	wg       sync.WaitGroup
	mu       sync.Mutex
	outcomes map[string]TargetOutcome
	started  bool
}

// NewCoordinator builds a coordinator over the prepared jobs. A concurrency
// of zero or less means unbounded; a zero timeout disables the per-job bound.
func NewCoordinator(jobs []*Job, concurrency int, jobTimeout time.Duration, rec *metrics.Recorder) *Coordinator {
	return &Coordinator{
		jobs:        jobs,
		concurrency: concurrency,
		jobTimeout:  jobTimeout,
		metrics:     rec,
		outcomes:    make(map[string]TargetOutcome, len(jobs)),
	}
}

// Start launches one goroutine per job. It returns immediately; callers
// collect results through Join.
func (c *Coordinator) Start(ctx context.Context) {
	if c.started {
		return
	}
	c.started = true

	var sem chan struct{}
	if c.concurrency > 0 {
		sem = make(chan struct{}, c.concurrency)
	}

	slog.Info("Dispatching target jobs", "targets", len(c.jobs), "concurrency", c.concurrency)
	for _, job := range c.jobs {
		c.wg.Add(1)
		go func(j *Job) {
			defer c.wg.Done()

			// The cleanup owner deletes stale assets before queuing for
			// build capacity; every other job's publish stage waits on the
			// latch. Releasing it here on the failure path too keeps the
			// other jobs from blocking on work that will never happen.
			if j.cleaner != nil {
				start := time.Now()
				err := j.runCleanup(ctx)
				j.cleanupDone.release()
				if err != nil {
					c.record(j.fail(start, StageCleanup, err))
					return
				}
			}

			if sem != nil {
				select {
				case sem <- struct{}{}:
					defer func() { <-sem }()
				case <-ctx.Done():
					c.record(j.fail(time.Now(), StageCheckout, ctx.Err()))
					return
				}
			}

			jobCtx := ctx
			if c.jobTimeout > 0 {
				var cancel context.CancelFunc
				jobCtx, cancel = context.WithTimeout(ctx, c.jobTimeout)
				defer cancel()
			}

			if c.metrics != nil {
				c.metrics.JobStarted()
				defer c.metrics.JobDone()
			}
			c.record(j.Run(jobCtx))
		}(job)
	}
}

func (c *Coordinator) record(o TargetOutcome) {
	c.mu.Lock()
	c.outcomes[o.Target.Key()] = o
	c.mu.Unlock()
}

// Join blocks until every job has concluded, success or failure, and returns
// one outcome per job in the original matrix order.
func (c *Coordinator) Join() []TargetOutcome {
	c.wg.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()
	results := make([]TargetOutcome, 0, len(c.jobs))
	for _, j := range c.jobs {
		if o, ok := c.outcomes[j.target.Key()]; ok {
			results = append(results, o)
		}
	}
	return results
}

// Run is the convenience form: fan out, then join.
func (c *Coordinator) Run(ctx context.Context) []TargetOutcome {
	c.Start(ctx)
	return c.Join()
}
