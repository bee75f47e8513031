package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/benchlab/run-engine/internal/models"
)

// ResultPatch is a partial update applied to a RunResult. Nil fields are left
// untouched.
type ResultPatch struct {
	Output         *string
	Score          *int
	Status         *models.RunResultStatus
	JudgedBy       *string
	JudgeReasoning *string
	CancelledAt    *time.Time
}

// CreateRunResult inserts a new RunResult row.
func (s *Store) CreateRunResult(ctx context.Context, r *models.RunResult) error {
	if r.ID == "" {
		r.ID = newID()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	return s.db.WithContext(ctx).Create(r).Error
}

// GetRunResult returns a RunResult by id.
func (s *Store) GetRunResult(ctx context.Context, id string) (models.RunResult, error) {
	var r models.RunResult
	if err := s.db.WithContext(ctx).First(&r, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.RunResult{}, ErrNotFound
		}
		return models.RunResult{}, err
	}
	return r, nil
}

// MarkResult applies a partial update to a RunResult.
func (s *Store) MarkResult(ctx context.Context, resultID string, patch ResultPatch) error {
	updates := map[string]interface{}{}
	if patch.Output != nil {
		updates["output"] = *patch.Output
	}
	if patch.Score != nil {
		updates["score"] = *patch.Score
	}
	if patch.Status != nil {
		updates["status"] = *patch.Status
	}
	if patch.JudgedBy != nil {
		updates["judged_by"] = *patch.JudgedBy
	}
	if patch.JudgeReasoning != nil {
		updates["judge_reasoning"] = *patch.JudgeReasoning
	}
	if patch.CancelledAt != nil {
		updates["cancelled_at"] = *patch.CancelledAt
	}

	if len(updates) == 0 {
		return nil
	}

	result := s.db.WithContext(ctx).Model(&models.RunResult{}).Where("id = ?", resultID).Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// RunResultView joins a RunResult with its Problem's kind and prompt, the
// shape get_run_results(run_id) returns to clients.
type RunResultView struct {
	models.RunResult
	ProblemKind   models.ProblemKind `json:"problem_kind"`
	ProblemPrompt string             `json:"problem_prompt"`
}

// ListRunResults returns every RunResult for a run, joined with problem kind and prompt.
func (s *Store) ListRunResults(ctx context.Context, runID string) ([]RunResultView, error) {
	var results []models.RunResult
	if err := s.db.WithContext(ctx).Where("run_id = ?", runID).Order("created_at ASC").Find(&results).Error; err != nil {
		return nil, err
	}

	views := make([]RunResultView, 0, len(results))
	for _, r := range results {
		var problem models.Problem
		if err := s.db.WithContext(ctx).First(&problem, "id = ?", r.ProblemID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				continue
			}
			return nil, err
		}
		views = append(views, RunResultView{
			RunResult:     r,
			ProblemKind:   problem.Kind,
			ProblemPrompt: problem.Prompt,
		})
	}

	return views, nil
}
