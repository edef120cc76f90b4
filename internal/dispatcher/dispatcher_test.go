package dispatcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	queuemem "github.com/hbarton/webharvest/internal/queue/memory"
	"github.com/hbarton/webharvest/internal/scrape"
)

type countingExecutor struct {
	mu   sync.Mutex
	seen []string
}

func (e *countingExecutor) Execute(_ context.Context, item scrape.QueueItem) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seen = append(e.seen, item.RunID)
	return nil
}

func TestDispatcherProcessesQueuedRuns(t *testing.T) {
	t.Parallel()

	q := queuemem.New(8)
	exec := &countingExecutor{}
	d := New(q, exec, 2, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Start(ctx)
		close(done)
	}()

	for _, id := range []string{"r1", "r2", "r3"} {
		require.NoError(t, q.Enqueue(ctx, scrape.QueueItem{RunID: id}))
	}

	require.Eventually(t, func() bool {
		exec.mu.Lock()
		defer exec.mu.Unlock()
		return len(exec.seen) == 3
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after cancellation")
	}
}
