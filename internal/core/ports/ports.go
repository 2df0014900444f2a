// Package ports declares the interfaces the engine speaks to its external
// collaborators through. The engine must behave identically when any of
// them is absent: persistence is event-driven and best-effort, dispatch
// falls back to an in-process queue.
package ports

import (
	"context"

	"nodeflow/internal/domain"
)

// EventSink receives every task and run state transition. A storage
// collaborator implements this for durability; sink errors are logged by
// the engine and never fail a run.
type EventSink interface {
	TaskTransition(ctx context.Context, ev domain.TaskTransitionEvent) error
	RunTransition(ctx context.Context, ev domain.RunTransitionEvent) error
}

// RunQueue feeds accepted run ids to the engine's dispatcher pool.
type RunQueue interface {
	// Push enqueues a run id for execution.
	Push(ctx context.Context, runID string) error

	// Pop blocks until a run id is available or the context is done.
	Pop(ctx context.Context) (string, error)
}
