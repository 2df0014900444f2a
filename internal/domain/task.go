package domain

import (
	"time"

	"github.com/google/uuid"
)

type TaskStatus string

const (
	StatusPending   TaskStatus = "PENDING"
	StatusRunning   TaskStatus = "RUNNING"
	StatusCompleted TaskStatus = "COMPLETED"
	StatusFailed    TaskStatus = "FAILED"
	StatusSkipped   TaskStatus = "SKIPPED"
)

// Terminal reports whether the status admits no further transitions.
func (s TaskStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusSkipped
}

// Task is one node invocation's execution record within a run. Tasks are
// created lazily when the scheduler decides a node's fate and are mutated
// only by that run's scheduler. Outputs and Error are mutually exclusive at
// terminal state.
type Task struct {
	ID           uuid.UUID  `json:"id"`
	RunID        uuid.UUID  `json:"run_id"`
	NodeID       string     `json:"node_id"`
	ParentTaskID *uuid.UUID `json:"parent_task_id,omitempty"`
	Status       TaskStatus `json:"status"`
	Attempts     int        `json:"attempts"`

	Inputs  map[string]any `json:"inputs,omitempty"`
	Outputs map[string]any `json:"outputs,omitempty"`
	Error   string         `json:"error,omitempty"`

	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`

	// Set only for subworkflow-hosting nodes.
	Subworkflow       *WorkflowDefinition `json:"subworkflow,omitempty"`
	SubworkflowOutput map[string]any      `json:"subworkflow_output,omitempty"`
}

func NewTask(runID uuid.UUID, nodeID string, parent *uuid.UUID) *Task {
	return &Task{
		ID:           uuid.New(),
		RunID:        runID,
		NodeID:       nodeID,
		ParentTaskID: parent,
		Status:       StatusPending,
	}
}
