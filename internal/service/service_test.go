package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	queuemem "github.com/hbarton/webharvest/internal/queue/memory"
	"github.com/hbarton/webharvest/internal/scrape"
	"github.com/hbarton/webharvest/internal/storage/memory"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type seqIDs struct{ n int }

func (g *seqIDs) NewID() (string, error) {
	g.n++
	return string(rune('a' + g.n - 1)), nil
}

func validConfig() scrape.JobConfig {
	return scrape.JobConfig{
		SeedURLs: []string{"https://shop.example.com/list"},
		Schema: scrape.Schema{
			Fields: []scrape.FieldSpec{{Name: "title", Selector: "h2"}},
		},
	}
}

func newService(t *testing.T) (*Service, *memory.JobStore, *memory.RunStore, *queuemem.Queue) {
	t.Helper()
	jobs := memory.NewJobStore()
	runs := memory.NewRunStore()
	q := queuemem.New(8)
	clock := fixedClock{now: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)}
	svc := New(jobs, runs, q, clock, &seqIDs{}, zap.NewNop())
	return svc, jobs, runs, q
}

func TestCreateJobRejectsInvalidConfig(t *testing.T) {
	t.Parallel()
	svc, _, _, _ := newService(t)

	_, err := svc.CreateJob(context.Background(), scrape.Job{Name: "broken"})
	require.Error(t, err)
}

func TestCreateJobComputesFirstFireTime(t *testing.T) {
	t.Parallel()
	svc, _, _, _ := newService(t)

	job, err := svc.CreateJob(context.Background(), scrape.Job{
		Name:      "hourly",
		Config:    validConfig(),
		Scheduled: true,
		Schedule:  scrape.Schedule{Kind: scrape.ScheduleInterval, Every: 1, Unit: "hours"},
	})
	require.NoError(t, err)
	require.Equal(t, scrape.JobStatusActive, job.Status)
	require.NotNil(t, job.NextRunAt)
	require.Equal(t, time.Date(2025, 3, 1, 11, 0, 0, 0, time.UTC), *job.NextRunAt)
}

func TestRunNowEnqueuesPendingRun(t *testing.T) {
	t.Parallel()
	svc, _, runs, q := newService(t)
	ctx := context.Background()

	job, err := svc.CreateJob(ctx, scrape.Job{Name: "shop", Config: validConfig()})
	require.NoError(t, err)

	runID, err := svc.RunNow(ctx, job.ID)
	require.NoError(t, err)

	run, err := runs.GetRun(ctx, runID)
	require.NoError(t, err)
	require.Equal(t, scrape.RunStatusPending, run.Status)

	item, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, runID, item.RunID)
	require.Equal(t, job.ID, item.JobID)
}

func TestRunNowRejectsPausedJob(t *testing.T) {
	t.Parallel()
	svc, _, _, _ := newService(t)
	ctx := context.Background()

	job, err := svc.CreateJob(ctx, scrape.Job{
		Name:   "paused",
		Status: scrape.JobStatusPaused,
		Config: validConfig(),
	})
	require.NoError(t, err)

	_, err = svc.RunNow(ctx, job.ID)
	require.ErrorIs(t, err, ErrJobNotRunnable)
}

func TestCancelRunPendingNeverRuns(t *testing.T) {
	t.Parallel()
	svc, _, runs, _ := newService(t)
	ctx := context.Background()

	job, err := svc.CreateJob(ctx, scrape.Job{Name: "shop", Config: validConfig()})
	require.NoError(t, err)
	runID, err := svc.RunNow(ctx, job.ID)
	require.NoError(t, err)

	require.NoError(t, svc.CancelRun(ctx, runID))

	run, err := runs.GetRun(ctx, runID)
	require.NoError(t, err)
	require.Equal(t, scrape.RunStatusCancelled, run.Status)
	require.Nil(t, run.Started)
}

func TestCancelRunSignalsRunningRun(t *testing.T) {
	t.Parallel()
	svc, _, runs, _ := newService(t)
	ctx := context.Background()

	job, err := svc.CreateJob(ctx, scrape.Job{Name: "shop", Config: validConfig()})
	require.NoError(t, err)
	runID, err := svc.RunNow(ctx, job.ID)
	require.NoError(t, err)

	started, err := runs.MarkStarted(ctx, runID, time.Now())
	require.NoError(t, err)
	require.True(t, started)

	runCtx, cancel := context.WithCancel(ctx)
	svc.RegisterCancel(runID, cancel)
	defer svc.UnregisterCancel(runID)

	require.NoError(t, svc.CancelRun(ctx, runID))
	require.ErrorIs(t, runCtx.Err(), context.Canceled)
}

func TestCancelRunTerminalFails(t *testing.T) {
	t.Parallel()
	svc, _, runs, _ := newService(t)
	ctx := context.Background()

	job, err := svc.CreateJob(ctx, scrape.Job{Name: "shop", Config: validConfig()})
	require.NoError(t, err)
	runID, err := svc.RunNow(ctx, job.ID)
	require.NoError(t, err)

	_, err = runs.MarkStarted(ctx, runID, time.Now())
	require.NoError(t, err)
	require.NoError(t, runs.Complete(ctx, scrape.Run{ID: runID, JobID: job.ID, Status: scrape.RunStatusSuccess}))

	err = svc.CancelRun(ctx, runID)
	require.ErrorIs(t, err, ErrRunNotCancellable)
}

func TestDeleteJobCancelsActiveRuns(t *testing.T) {
	t.Parallel()
	svc, jobs, runs, _ := newService(t)
	ctx := context.Background()

	job, err := svc.CreateJob(ctx, scrape.Job{Name: "shop", Config: validConfig()})
	require.NoError(t, err)
	runID, err := svc.RunNow(ctx, job.ID)
	require.NoError(t, err)

	require.NoError(t, svc.DeleteJob(ctx, job.ID))

	_, err = jobs.GetJob(ctx, job.ID)
	require.ErrorIs(t, err, memory.ErrNotFound)

	run, err := runs.GetRun(ctx, runID)
	require.NoError(t, err)
	require.Equal(t, scrape.RunStatusCancelled, run.Status)
}
