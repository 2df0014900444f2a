package service

import (
	"context"

	"github.com/google/uuid"

	"nodeflow/internal/api/dto"
	"nodeflow/internal/domain"
	"nodeflow/internal/engine"
)

// RunService is the thin bridge between HTTP handlers and the engine.
type RunService interface {
	SubmitRun(ctx context.Context, req dto.SubmitRunRequest) (uuid.UUID, error)
	GetRun(ctx context.Context, runID uuid.UUID) (domain.RunSnapshot, error)
	ListRuns(ctx context.Context) []domain.RunSnapshot
	CancelRun(ctx context.Context, runID uuid.UUID) error
}

type runService struct {
	engine *engine.Engine
}

func NewRunService(eng *engine.Engine) RunService {
	return &runService{engine: eng}
}

func (s *runService) SubmitRun(ctx context.Context, req dto.SubmitRunRequest) (uuid.UUID, error) {
	return s.engine.Submit(ctx, req.Definition, req.Input, nil)
}

func (s *runService) GetRun(ctx context.Context, runID uuid.UUID) (domain.RunSnapshot, error) {
	return s.engine.GetRun(runID)
}

func (s *runService) ListRuns(ctx context.Context) []domain.RunSnapshot {
	return s.engine.ListRuns()
}

func (s *runService) CancelRun(ctx context.Context, runID uuid.UUID) error {
	return s.engine.Cancel(runID)
}
