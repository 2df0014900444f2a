package repository

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"nodeflow/internal/domain"
)

// RunRecord is the durable shape of a run. The engine remains the source of
// truth while a run is in flight; records here are written from transition
// events and serve audit and recovery reads.
type RunRecord struct {
	ID     uuid.UUID        `gorm:"type:uuid;primary_key"`
	Name   string           `gorm:"type:varchar(200);index"`
	Status domain.RunStatus `gorm:"type:varchar(20);index"`
	Output datatypes.JSON   `gorm:"type:jsonb"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (RunRecord) TableName() string { return "runs" }

// TaskRecord is the durable shape of one task in a run's tree.
type TaskRecord struct {
	ID           uuid.UUID         `gorm:"type:uuid;primary_key"`
	RunID        uuid.UUID         `gorm:"type:uuid;index;not null"`
	NodeID       string            `gorm:"type:varchar(200);not null"`
	ParentTaskID *uuid.UUID        `gorm:"type:uuid;index"`
	Status       domain.TaskStatus `gorm:"type:varchar(20);index"`
	Attempts     int               `gorm:"default:0"`
	Error        string            `gorm:"type:text"`

	Inputs            datatypes.JSON `gorm:"type:jsonb"`
	Outputs           datatypes.JSON `gorm:"type:jsonb"`
	SubworkflowOutput datatypes.JSON `gorm:"type:jsonb"`

	StartedAt *time.Time
	EndedAt   *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (TaskRecord) TableName() string { return "tasks" }

func toJSON(v map[string]any) datatypes.JSON {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return datatypes.JSON(b)
}

func taskRecord(ev domain.TaskTransitionEvent) TaskRecord {
	t := ev.Task
	return TaskRecord{
		ID:                t.ID,
		RunID:             ev.RunID,
		NodeID:            t.NodeID,
		ParentTaskID:      t.ParentTaskID,
		Status:            t.Status,
		Attempts:          t.Attempts,
		Error:             t.Error,
		Inputs:            toJSON(t.Inputs),
		Outputs:           toJSON(t.Outputs),
		SubworkflowOutput: toJSON(t.SubworkflowOutput),
		StartedAt:         t.StartedAt,
		EndedAt:           t.EndedAt,
	}
}
