package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/benchlab/run-engine/internal/models"
)

// RunFilter narrows a ListRuns query.
type RunFilter struct {
	Status       models.RunStatus
	ProblemSetID string
	Limit        int
}

// CreateRun inserts a new Run row, in status "queued" unless r.Status is set.
func (s *Store) CreateRun(ctx context.Context, r *models.Run) error {
	if r.ID == "" {
		r.ID = newID()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	if r.Status == "" {
		r.Status = models.RunStatusQueued
	}
	return s.db.WithContext(ctx).Create(r).Error
}

// GetRun returns a Run by id.
func (s *Store) GetRun(ctx context.Context, id string) (models.Run, error) {
	var r models.Run
	if err := s.db.WithContext(ctx).First(&r, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Run{}, ErrNotFound
		}
		return models.Run{}, err
	}
	return r, nil
}

// ListRuns returns recent runs, most recently created first, matching filter.
func (s *Store) ListRuns(ctx context.Context, filter RunFilter) ([]models.Run, error) {
	query := s.db.WithContext(ctx).Order("created_at DESC")

	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.ProblemSetID != "" {
		query = query.Where("problem_set_id = ?", filter.ProblemSetID)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	query = query.Limit(limit)

	var runs []models.Run
	if err := query.Find(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}

// TransitionRunStatus moves a Run to `to` only if its current status is one
// of `from`. Fails with ErrInvalidTransition otherwise.
func (s *Store) TransitionRunStatus(ctx context.Context, runID string, from []models.RunStatus, to models.RunStatus) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var run models.Run
		if err := tx.Clauses().First(&run, "id = ?", runID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		if !statusIn(run.Status, from) {
			return fmt.Errorf("%w: run %s is %s", ErrInvalidTransition, runID, run.Status)
		}

		return tx.Model(&models.Run{}).Where("id = ?", runID).Update("status", to).Error
	})
}

// MarkRunCancelled stamps a Run as cancelled with a timestamp and actor tag.
// It only updates a run that is still queued or running and returns no error
// otherwise — cancellation races the scheduler's own terminal transition and
// the caller must tolerate a no-op when the run has already finished.
func (s *Store) MarkRunCancelled(ctx context.Context, runID string, cancelledBy string) error {
	now := time.Now().UTC()
	return s.db.WithContext(ctx).Model(&models.Run{}).
		Where("id = ? AND status IN ?", runID, []models.RunStatus{models.RunStatusQueued, models.RunStatusRunning}).
		Updates(map[string]interface{}{
			"status":       models.RunStatusCancelled,
			"cancelled_at": now,
			"cancelled_by": cancelledBy,
		}).Error
}

func statusIn(status models.RunStatus, set []models.RunStatus) bool {
	for _, candidate := range set {
		if status == candidate {
			return true
		}
	}
	return false
}
