// Package eventstore persists the lifecycle events of pipeline runs so the
// daemon can answer "what happened to release X" after the fact.
package eventstore

import (
	"context"
	"time"
)

// Event types recorded over a run's lifetime.
const (
	EventRunStarted      = "run_started"
	EventTargetConcluded = "target_concluded"
	EventManifestPublish = "manifest_published"
	EventNotifyAttempted = "notification_attempted"
	EventRunFinished     = "run_finished"
)

// Event is one recorded lifecycle event.
type Event struct {
	ID        int64
	RunID     string
	Type      string
	Timestamp time.Time
	Payload   []byte
}

// RunSummary is the condensed view of one run for listings.
type RunSummary struct {
	RunID      string
	Tag        string
	Status     string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Store is the persistence contract for run events.
type Store interface {
	// Append records an event; payload is marshaled to JSON.
	Append(ctx context.Context, runID, eventType string, payload any) error
	// ByRun returns all events of a run in append order.
	ByRun(ctx context.Context, runID string) ([]Event, error)
	// RecentRuns returns summaries of the most recently started runs.
	RecentRuns(ctx context.Context, limit int) ([]RunSummary, error)
	Close() error
}
