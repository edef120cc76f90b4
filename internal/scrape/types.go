// Package scrape defines the core types and collaborator interfaces for the
// crawl-and-extract engine. Concrete implementations live in sibling packages.
package scrape

import "time"

// JobStatus is the lifecycle state of a job definition.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusActive JobStatus = "active"
	JobStatusPaused JobStatus = "paused"
	JobStatusDraft  JobStatus = "draft"
)

// RunStatus is the lifecycle state of a single execution of a job.
type RunStatus string

// Run status values. pending and running are transient; the other four are
// terminal and never re-entered.
const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusSuccess   RunStatus = "success"
	RunStatusPartial   RunStatus = "partial"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// IsTerminal reports whether the status is a final outcome.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusSuccess, RunStatusPartial, RunStatusFailed, RunStatusCancelled:
		return true
	default:
		return false
	}
}

// JobStats are aggregate counters owned by the job entity. They are a cache
// derived from run history; runs remain the authoritative record and the
// runner rebuilds these counters from it after every completion.
type JobStats struct {
	TotalRuns      int `json:"total_runs"`
	SuccessfulRuns int `json:"successful_runs"`
	FailedRuns     int `json:"failed_runs"`
	TotalItems     int `json:"total_items"`
}

// Job is a stored extraction job definition.
type Job struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Status    JobStatus  `json:"status"`
	Config    JobConfig  `json:"config"`
	Scheduled bool       `json:"scheduled"`
	Schedule  Schedule   `json:"schedule"`
	NextRunAt *time.Time `json:"next_run_at,omitempty"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	Stats     JobStats   `json:"stats"`
	Created   time.Time  `json:"created_at"`
}

// RunStats is the per-run statistics snapshot persisted on completion.
type RunStats struct {
	TotalFound  int      `json:"total_found"`
	VisitedURLs []string `json:"visited_urls"`
}

// Run identifies one execution of a job.
type Run struct {
	ID              string     `json:"id"`
	JobID           string     `json:"job_id"`
	Status          RunStatus  `json:"status"`
	Attempt         int        `json:"attempt"`
	Created         time.Time  `json:"created_at"`
	Started         *time.Time `json:"started_at,omitempty"`
	Finished        *time.Time `json:"finished_at,omitempty"`
	DurationSeconds float64    `json:"duration_seconds"`
	PagesVisited    int        `json:"pages_visited"`
	ItemsCreated    int        `json:"items_created"`
	Duplicates      int        `json:"duplicates"`
	ErrorsCount     int        `json:"errors_count"`
	ErrorText       string     `json:"error_text,omitempty"`
	Stats           RunStats   `json:"stats"`
}

// Record is one structured extraction result. Field values are string,
// float64, or nil when the selector missed.
type Record struct {
	Fields    map[string]any `json:"fields"`
	SourceURL string         `json:"source_url"`
}

// Item is a deduplicated record persisted for a (job, run) pair.
type Item struct {
	ID          string         `json:"id"`
	JobID       string         `json:"job_id"`
	RunID       string         `json:"run_id"`
	Fields      map[string]any `json:"fields"`
	SourceURL   string         `json:"source_url"`
	Fingerprint string         `json:"fingerprint"`
	Created     time.Time      `json:"created_at"`
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Body       []byte
	Attempts   int
	Duration   time.Duration
	Rendered   bool
}

// QueueItem wraps a run ready to execute.
type QueueItem struct {
	JobID   string
	RunID   string
	Attempt int
}
