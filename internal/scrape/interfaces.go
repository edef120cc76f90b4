package scrape

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by stores when an entity does not exist.
var ErrNotFound = errors.New("not found")

// JobStore persists job definitions and their derived aggregates.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	UpdateJobStats(ctx context.Context, jobID string, stats JobStats, lastRun time.Time) error
	UpdateJobSchedule(ctx context.Context, jobID string, scheduled bool, nextRun *time.Time) error
	ListDueJobs(ctx context.Context, now time.Time) ([]Job, error)
	DeleteJob(ctx context.Context, jobID string) error
}

// RunStore persists run rows and their state transitions.
type RunStore interface {
	CreateRun(ctx context.Context, run Run) error
	GetRun(ctx context.Context, runID string) (Run, error)
	// MarkStarted transitions pending -> running. It returns false without
	// error if the run is no longer pending (e.g. cancelled before start).
	MarkStarted(ctx context.Context, runID string, at time.Time) (bool, error)
	// Complete persists the terminal status and statistics snapshot.
	Complete(ctx context.Context, run Run) error
	// CancelPending transitions pending -> cancelled, returning false if the
	// run had already left pending.
	CancelPending(ctx context.Context, runID string, at time.Time) (bool, error)
	ListRuns(ctx context.Context, jobID string) ([]Run, error)
	ListActiveRuns(ctx context.Context, jobID string) ([]Run, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// ItemStore persists extracted items and the per-job fingerprint set.
type ItemStore interface {
	// InsertFingerprint atomically records the fingerprint for the job,
	// returning true if it was new and false if already present.
	InsertFingerprint(ctx context.Context, jobID, fingerprint string) (bool, error)
	CreateItem(ctx context.Context, item Item) error
}

// Fetcher retrieves one page. Implementations carry the politeness settings
// of the run they were built for.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (FetchResponse, error)
}

// BlobStore writes raw page snapshots and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes run-completion events to an external topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Queue provides enqueue/dequeue semantics for runs awaiting execution.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Clock returns the current time (swapped for a fake in tests).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job/run/item identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
