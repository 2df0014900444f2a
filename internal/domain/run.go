package domain

import (
	"time"

	"github.com/google/uuid"
)

type RunStatus string

const (
	RunRunning   RunStatus = "RUNNING"
	RunCompleted RunStatus = "COMPLETED"
	RunFailed    RunStatus = "FAILED"
	RunCancelled RunStatus = "CANCELLED"
)

// Terminal reports whether the run reached a final status.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed || s == RunCancelled
}

// Run is a single execution instance of a WorkflowDefinition against one
// input payload. It owns the full task tree for that execution, including
// tasks spawned by nested subworkflows.
type Run struct {
	ID         uuid.UUID          `json:"id"`
	Definition WorkflowDefinition `json:"definition"`
	Input      map[string]any     `json:"input,omitempty"`
	Status     RunStatus          `json:"status"`
	Output     map[string]any     `json:"output,omitempty"`
	Tasks      *TaskTree          `json:"-"`

	CreatedAt time.Time  `json:"created_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

func NewRun(def WorkflowDefinition, input map[string]any) *Run {
	return &Run{
		ID:         uuid.New(),
		Definition: def,
		Input:      input,
		Status:     RunRunning,
		Tasks:      NewTaskTree(),
		CreatedAt:  time.Now(),
	}
}

// RunSnapshot is a point-in-time copy of a run and its task tree, safe to
// hand to callers while the scheduler keeps mutating the originals.
type RunSnapshot struct {
	ID        uuid.UUID      `json:"id"`
	Name      string         `json:"name"`
	Status    RunStatus      `json:"status"`
	Input     map[string]any `json:"input,omitempty"`
	Output    map[string]any `json:"output,omitempty"`
	Tasks     []Task         `json:"tasks"`
	CreatedAt time.Time      `json:"created_at"`
	EndedAt   *time.Time     `json:"ended_at,omitempty"`
}
