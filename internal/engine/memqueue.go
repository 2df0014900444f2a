package engine

import "context"

// memQueue is the in-process fallback RunQueue: a buffered channel with the
// same blocking-pop contract as the Redis queue.
type memQueue struct {
	ch chan string
}

func newMemQueue(size int) *memQueue {
	return &memQueue{ch: make(chan string, size)}
}

func (q *memQueue) Push(ctx context.Context, runID string) error {
	select {
	case q.ch <- runID:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *memQueue) Pop(ctx context.Context) (string, error) {
	select {
	case id := <-q.ch:
		return id, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
