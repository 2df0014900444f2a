package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const queueKey = "nodeflow:queue:runs"

// RunQueue is a Redis-backed ports.RunQueue: accepted run ids are RPUSHed
// and dispatchers BLPOP them off the front.
type RunQueue struct {
	client *redis.Client
}

func NewRunQueue(client *redis.Client) *RunQueue {
	return &RunQueue{client: client}
}

func (q *RunQueue) Push(ctx context.Context, runID string) error {
	return q.client.RPush(ctx, queueKey, runID).Err()
}

func (q *RunQueue) Pop(ctx context.Context) (string, error) {
	// 0 blocks until an element appears; BLPop returns [key, element].
	result, err := q.client.BLPop(ctx, 0*time.Second, queueKey).Result()
	if err != nil {
		return "", err
	}
	return result[1], nil
}
