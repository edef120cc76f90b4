// Package dispatcher fans dequeued runs out to a fixed pool of workers.
package dispatcher

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/hbarton/webharvest/internal/scrape"
)

// Executor processes one dequeued run to completion.
type Executor interface {
	Execute(ctx context.Context, item scrape.QueueItem) error
}

// Dispatcher runs a worker pool over the queue.
type Dispatcher struct {
	queue    scrape.Queue
	executor Executor
	workers  int
	logger   *zap.Logger
}

// New builds a Dispatcher with the given worker count.
func New(queue scrape.Queue, executor Executor, workers int, logger *zap.Logger) *Dispatcher {
	if workers <= 0 {
		workers = 4
	}
	return &Dispatcher{
		queue:    queue,
		executor: executor,
		workers:  workers,
		logger:   logger,
	}
}

// Start blocks until ctx is cancelled and every worker has drained its
// in-flight run.
func (d *Dispatcher) Start(ctx context.Context) {
	d.logger.Info("dispatcher started", zap.Int("workers", d.workers))

	var wg sync.WaitGroup
	for i := 0; i < d.workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			d.work(ctx, worker)
		}(i)
	}
	wg.Wait()
	d.logger.Info("dispatcher stopped")
}

func (d *Dispatcher) work(ctx context.Context, worker int) {
	logger := d.logger.With(zap.Int("worker", worker))
	for {
		item, err := d.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			logger.Error("dequeue failed", zap.Error(err))
			return
		}
		if err := d.executor.Execute(ctx, item); err != nil {
			logger.Error("run execution failed",
				zap.String("run_id", item.RunID),
				zap.Error(err),
			)
		}
	}
}
