package redis

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"nodeflow/internal/domain"
)

const (
	taskChannel = "nodeflow:events:tasks"
	runChannel  = "nodeflow:events:runs"
)

// EventBus publishes task and run transitions to Redis Pub/Sub so external
// observers (dashboards, audit consumers) can follow executions live. It
// implements ports.EventSink.
type EventBus struct {
	client *redis.Client
}

func NewEventBus(client *redis.Client) *EventBus {
	return &EventBus{client: client}
}

func (b *EventBus) TaskTransition(ctx context.Context, ev domain.TaskTransitionEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, taskChannel, payload).Err()
}

func (b *EventBus) RunTransition(ctx context.Context, ev domain.RunTransitionEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, runChannel, payload).Err()
}

// SubscribeTasks streams task transition events until ctx is done.
func (b *EventBus) SubscribeTasks(ctx context.Context) (<-chan domain.TaskTransitionEvent, error) {
	pubsub := b.client.Subscribe(ctx, taskChannel)
	out := make(chan domain.TaskTransitionEvent)

	go func() {
		defer close(out)
		defer pubsub.Close()
		for {
			msg, err := pubsub.ReceiveMessage(ctx)
			if err != nil {
				return
			}
			var ev domain.TaskTransitionEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err == nil {
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// SubscribeRuns streams run transition events until ctx is done.
func (b *EventBus) SubscribeRuns(ctx context.Context) (<-chan domain.RunTransitionEvent, error) {
	pubsub := b.client.Subscribe(ctx, runChannel)
	out := make(chan domain.RunTransitionEvent)

	go func() {
		defer close(out)
		defer pubsub.Close()
		for {
			msg, err := pubsub.ReceiveMessage(ctx)
			if err != nil {
				return
			}
			var ev domain.RunTransitionEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err == nil {
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
