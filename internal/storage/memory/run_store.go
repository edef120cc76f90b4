package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hbarton/webharvest/internal/scrape"
)

// RunStore is a mutex-guarded map of runs.
type RunStore struct {
	mu   sync.RWMutex
	runs map[string]scrape.Run
}

// NewRunStore constructs a RunStore.
func NewRunStore() *RunStore {
	return &RunStore{runs: make(map[string]scrape.Run)}
}

// CreateRun stores a new run.
func (s *RunStore) CreateRun(_ context.Context, run scrape.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return errors.New("run already exists")
	}
	s.runs[run.ID] = run
	return nil
}

// GetRun fetches a run by ID.
func (s *RunStore) GetRun(_ context.Context, runID string) (scrape.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return scrape.Run{}, ErrNotFound
	}
	return run, nil
}

// MarkStarted transitions pending -> running. Returns false when the run
// already left pending (e.g. cancelled before start).
func (s *RunStore) MarkStarted(_ context.Context, runID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return false, ErrNotFound
	}
	if run.Status != scrape.RunStatusPending {
		return false, nil
	}
	run.Status = scrape.RunStatusRunning
	run.Started = &at
	s.runs[runID] = run
	return true, nil
}

// Complete persists the terminal state of a run. Terminal states are final:
// completing an already-terminal run is rejected.
func (s *RunStore) Complete(_ context.Context, run scrape.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.runs[run.ID]
	if !ok {
		return ErrNotFound
	}
	if existing.Status.IsTerminal() {
		return errors.New("run already completed")
	}
	if !run.Status.IsTerminal() {
		return errors.New("complete requires a terminal status")
	}
	s.runs[run.ID] = run
	return nil
}

// CancelPending transitions pending -> cancelled without ever observing
// running.
func (s *RunStore) CancelPending(_ context.Context, runID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return false, ErrNotFound
	}
	if run.Status != scrape.RunStatusPending {
		return false, nil
	}
	run.Status = scrape.RunStatusCancelled
	run.Finished = &at
	s.runs[runID] = run
	return true, nil
}

// ListRuns returns every run for a job.
func (s *RunStore) ListRuns(_ context.Context, jobID string) ([]scrape.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []scrape.Run
	for _, run := range s.runs {
		if run.JobID == jobID {
			out = append(out, run)
		}
	}
	return out, nil
}

// ListActiveRuns returns pending and running runs for a job.
func (s *RunStore) ListActiveRuns(_ context.Context, jobID string) ([]scrape.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []scrape.Run
	for _, run := range s.runs {
		if run.JobID == jobID && !run.Status.IsTerminal() {
			out = append(out, run)
		}
	}
	return out, nil
}

// DeleteOlderThan removes terminal runs created before the cutoff.
func (s *RunStore) DeleteOlderThan(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for id, run := range s.runs {
		if run.Status.IsTerminal() && run.Created.Before(cutoff) {
			delete(s.runs, id)
			deleted++
		}
	}
	return deleted, nil
}
