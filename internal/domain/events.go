package domain

import (
	"time"

	"github.com/google/uuid"
)

// TaskTransitionEvent is emitted on every task status change. It carries a
// full snapshot of the task so a persistence collaborator can upsert without
// reading engine state back.
type TaskTransitionEvent struct {
	RunID uuid.UUID `json:"run_id"`
	Task  Task      `json:"task"`
	At    time.Time `json:"at"`
}

// RunTransitionEvent is emitted when a run starts and when it reaches a
// terminal status.
type RunTransitionEvent struct {
	RunID  uuid.UUID      `json:"run_id"`
	Name   string         `json:"name"`
	Status RunStatus      `json:"status"`
	Output map[string]any `json:"output,omitempty"`
	At     time.Time      `json:"at"`
}
