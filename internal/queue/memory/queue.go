// Package memory provides a bounded in-process run queue.
package memory

import (
	"context"
	"errors"

	"github.com/hbarton/webharvest/internal/scrape"
)

// ErrClosed is returned by Dequeue after Close once the queue drains.
var ErrClosed = errors.New("queue closed")

// Queue is a bounded FIFO of runs awaiting execution, backed by a channel.
type Queue struct {
	ch chan scrape.QueueItem
}

// New builds a queue holding at most size pending runs.
func New(size int) *Queue {
	if size <= 0 {
		size = 256
	}
	return &Queue{ch: make(chan scrape.QueueItem, size)}
}

// Enqueue adds an item, blocking when the queue is full until space frees
// up or ctx is cancelled.
func (q *Queue) Enqueue(ctx context.Context, item scrape.QueueItem) error {
	select {
	case q.ch <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dequeue blocks until an item is available, the queue is closed and empty,
// or ctx is cancelled.
func (q *Queue) Dequeue(ctx context.Context) (scrape.QueueItem, error) {
	select {
	case item, ok := <-q.ch:
		if !ok {
			return scrape.QueueItem{}, ErrClosed
		}
		return item, nil
	case <-ctx.Done():
		return scrape.QueueItem{}, ctx.Err()
	}
}

// Close stops accepting items. Items already queued remain dequeueable.
func (q *Queue) Close() {
	close(q.ch)
}
