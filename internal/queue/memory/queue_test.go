package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hbarton/webharvest/internal/scrape"
)

func TestQueueFIFO(t *testing.T) {
	t.Parallel()

	q := New(4)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, scrape.QueueItem{RunID: "r1"}))
	require.NoError(t, q.Enqueue(ctx, scrape.QueueItem{RunID: "r2"}))

	first, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "r1", first.RunID)

	second, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "r2", second.RunID)
}

func TestQueueDequeueHonoursContext(t *testing.T) {
	t.Parallel()

	q := New(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueueEnqueueBlocksWhenFull(t *testing.T) {
	t.Parallel()

	q := New(1)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, scrape.QueueItem{RunID: "r1"}))

	full, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err := q.Enqueue(full, scrape.QueueItem{RunID: "r2"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueueCloseDrains(t *testing.T) {
	t.Parallel()

	q := New(2)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, scrape.QueueItem{RunID: "r1"}))
	q.Close()

	item, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "r1", item.RunID)

	_, err = q.Dequeue(ctx)
	require.ErrorIs(t, err, ErrClosed)
}
