// Package repository persists run and task transitions in PostgreSQL via
// gorm. It is the storage collaborator of the engine: it consumes the
// transition event stream and owns durability, while the engine stays
// correct without it.
package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"nodeflow/internal/domain"
)

type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the runs and tasks tables.
func (s *Store) Migrate() error {
	return s.db.AutoMigrate(&RunRecord{}, &TaskRecord{})
}

// TaskTransition upserts the task snapshot carried by the event. Every
// transition rewrites the row; the last terminal transition wins.
func (s *Store) TaskTransition(ctx context.Context, ev domain.TaskTransitionEvent) error {
	rec := taskRecord(ev)
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"status", "attempts", "error", "inputs", "outputs",
				"subworkflow_output", "started_at", "ended_at", "updated_at",
			}),
		}).
		Create(&rec).Error
}

// RunTransition upserts the run row. Terminal statuses are never
// overwritten: late RUNNING events from a racing submit cannot resurrect a
// finished run.
func (s *Store) RunTransition(ctx context.Context, ev domain.RunTransitionEvent) error {
	rec := RunRecord{
		ID:     ev.RunID,
		Name:   ev.Name,
		Status: ev.Status,
		Output: toJSON(ev.Output),
	}
	res := s.db.WithContext(ctx).
		Model(&RunRecord{}).
		Where("id = ? AND status NOT IN ?", ev.RunID,
			[]domain.RunStatus{domain.RunCompleted, domain.RunFailed, domain.RunCancelled}).
		Updates(map[string]any{"status": rec.Status, "output": rec.Output})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rec).Error
}

// GetRun loads a persisted run and its task rows.
func (s *Store) GetRun(ctx context.Context, runID uuid.UUID) (RunRecord, []TaskRecord, error) {
	var run RunRecord
	if err := s.db.WithContext(ctx).Where("id = ?", runID).First(&run).Error; err != nil {
		return RunRecord{}, nil, err
	}
	var tasks []TaskRecord
	if err := s.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("created_at").
		Find(&tasks).Error; err != nil {
		return RunRecord{}, nil, err
	}
	return run, tasks, nil
}

// ListRuns returns persisted runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	var runs []RunRecord
	err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&runs).Error
	return runs, err
}
