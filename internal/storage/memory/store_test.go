package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hbarton/webharvest/internal/scrape"
)

func TestRunStore_Transitions(t *testing.T) {
	t.Parallel()

	s := NewRunStore()
	ctx := context.Background()
	now := time.Unix(1000, 0)

	require.NoError(t, s.CreateRun(ctx, scrape.Run{ID: "r1", JobID: "j1", Status: scrape.RunStatusPending, Created: now}))

	started, err := s.MarkStarted(ctx, "r1", now)
	require.NoError(t, err)
	require.True(t, started)

	// A running run cannot be started again.
	started, err = s.MarkStarted(ctx, "r1", now)
	require.NoError(t, err)
	require.False(t, started)

	finished := now.Add(time.Minute)
	run, err := s.GetRun(ctx, "r1")
	require.NoError(t, err)
	run.Status = scrape.RunStatusSuccess
	run.Finished = &finished
	require.NoError(t, s.Complete(ctx, run))

	// Terminal states are final.
	run.Status = scrape.RunStatusFailed
	require.Error(t, s.Complete(ctx, run))
}

func TestRunStore_CancelPending(t *testing.T) {
	t.Parallel()

	s := NewRunStore()
	ctx := context.Background()
	now := time.Unix(2000, 0)

	require.NoError(t, s.CreateRun(ctx, scrape.Run{ID: "r1", JobID: "j1", Status: scrape.RunStatusPending, Created: now}))

	cancelled, err := s.CancelPending(ctx, "r1", now)
	require.NoError(t, err)
	require.True(t, cancelled)

	run, err := s.GetRun(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, scrape.RunStatusCancelled, run.Status)

	// Pending -> cancelled never observed running.
	require.Nil(t, run.Started)

	started, err := s.MarkStarted(ctx, "r1", now)
	require.NoError(t, err)
	require.False(t, started)
}

func TestRunStore_DeleteOlderThan(t *testing.T) {
	t.Parallel()

	s := NewRunStore()
	ctx := context.Background()
	old := time.Unix(0, 0)
	recent := time.Unix(5000, 0)

	require.NoError(t, s.CreateRun(ctx, scrape.Run{ID: "old", Status: scrape.RunStatusSuccess, Created: old}))
	require.NoError(t, s.CreateRun(ctx, scrape.Run{ID: "new", Status: scrape.RunStatusSuccess, Created: recent}))
	require.NoError(t, s.CreateRun(ctx, scrape.Run{ID: "live", Status: scrape.RunStatusRunning, Created: old}))

	deleted, err := s.DeleteOlderThan(ctx, time.Unix(1000, 0))
	require.NoError(t, err)
	require.Equal(t, 1, deleted)

	_, err = s.GetRun(ctx, "old")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetRun(ctx, "live")
	require.NoError(t, err)
}

func TestJobStore_ListDueJobs(t *testing.T) {
	t.Parallel()

	s := NewJobStore()
	ctx := context.Background()
	now := time.Unix(10000, 0)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	mk := func(id string, status scrape.JobStatus, scheduled bool, next *time.Time) {
		require.NoError(t, s.CreateJob(ctx, scrape.Job{ID: id, Status: status, Scheduled: scheduled, NextRunAt: next}))
	}
	mk("due", scrape.JobStatusActive, true, &past)
	mk("later", scrape.JobStatusActive, true, &future)
	mk("paused", scrape.JobStatusPaused, true, &past)
	mk("unscheduled", scrape.JobStatusActive, false, nil)

	due, err := s.ListDueJobs(ctx, now)
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.Equal(t, "due", due[0].ID)
}

func TestItemStore_FingerprintAtomicity(t *testing.T) {
	t.Parallel()

	s := NewItemStore()
	ctx := context.Background()

	inserted, err := s.InsertFingerprint(ctx, "j1", "abc")
	require.NoError(t, err)
	require.True(t, inserted)

	inserted, err = s.InsertFingerprint(ctx, "j1", "abc")
	require.NoError(t, err)
	require.False(t, inserted)

	inserted, err = s.InsertFingerprint(ctx, "j2", "abc")
	require.NoError(t, err)
	require.True(t, inserted)
}
