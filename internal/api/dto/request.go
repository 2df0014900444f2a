package dto

import (
	"github.com/google/uuid"

	"nodeflow/internal/domain"
)

type SubmitRunRequest struct {
	Definition domain.WorkflowDefinition `json:"definition" binding:"required"`
	Input      map[string]any            `json:"input"`
}

type SubmitRunResponse struct {
	ID uuid.UUID `json:"id"`
}

type RunSummary struct {
	ID        uuid.UUID        `json:"id"`
	Name      string           `json:"name"`
	Status    domain.RunStatus `json:"status"`
	TaskCount int              `json:"task_count"`
}

func Summarize(snap domain.RunSnapshot) RunSummary {
	return RunSummary{
		ID:        snap.ID,
		Name:      snap.Name,
		Status:    snap.Status,
		TaskCount: len(snap.Tasks),
	}
}
