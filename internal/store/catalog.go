package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/benchlab/run-engine/internal/models"
)

// CreateModel inserts a new Model row under a Provider.
func (s *Store) CreateModel(ctx context.Context, m *models.Model) error {
	if m.ID == "" {
		m.ID = newID()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	return s.db.WithContext(ctx).Create(m).Error
}

// GetModel returns a Model by id.
func (s *Store) GetModel(ctx context.Context, id string) (models.Model, error) {
	var m models.Model
	if err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Model{}, ErrNotFound
		}
		return models.Model{}, err
	}
	return m, nil
}

// ListModels returns every Model, optionally filtered by provider id.
func (s *Store) ListModels(ctx context.Context, providerID string) ([]models.Model, error) {
	query := s.db.WithContext(ctx).Order("created_at ASC")
	if providerID != "" {
		query = query.Where("provider_id = ?", providerID)
	}

	var result []models.Model
	if err := query.Find(&result).Error; err != nil {
		return nil, err
	}
	return result, nil
}

// ResolveModelProvider resolves a Model to its owning Provider row, used by
// the Scheduler to find the base URL and credential for an Adapter call.
func (s *Store) ResolveModelProvider(ctx context.Context, modelID string) (models.Model, models.Provider, error) {
	model, err := s.GetModel(ctx, modelID)
	if err != nil {
		return models.Model{}, models.Provider{}, err
	}

	provider, err := s.GetProvider(ctx, model.ProviderID)
	if err != nil {
		return models.Model{}, models.Provider{}, err
	}

	return model, provider, nil
}

// UpdateModel persists changes to an existing Model.
func (s *Store) UpdateModel(ctx context.Context, m *models.Model) error {
	return s.db.WithContext(ctx).Save(m).Error
}

// DeleteModel removes a Model, refusing when referenced by a Run (as
// candidate or judge) unless cascade is requested.
func (s *Store) DeleteModel(ctx context.Context, id string, cascade bool) error {
	referencingRuns, err := s.runsReferencingModel(ctx, s.db, id)
	if err != nil {
		return err
	}

	if len(referencingRuns) > 0 && !cascade {
		return ErrReferenced
	}

	if len(referencingRuns) == 0 {
		return s.db.WithContext(ctx).Delete(&models.Model{}, "id = ?", id).Error
	}

	return s.withForeignKeysDisabled(ctx, func(tx *gorm.DB) error {
		return cascadeDeleteModelTx(tx, id)
	})
}

func (s *Store) runsReferencingModel(ctx context.Context, db *gorm.DB, modelID string) ([]string, error) {
	var candidateRuns []models.Run
	if err := db.WithContext(ctx).Find(&candidateRuns).Error; err != nil {
		return nil, err
	}

	seen := map[string]struct{}{}
	var ids []string
	for _, run := range candidateRuns {
		referenced := run.JudgeModelID == modelID
		if !referenced {
			for _, id := range run.ModelIDs {
				if id == modelID {
					referenced = true
					break
				}
			}
		}
		if referenced {
			if _, ok := seen[run.ID]; !ok {
				seen[run.ID] = struct{}{}
				ids = append(ids, run.ID)
			}
		}
	}

	return ids, nil
}

// cascadeDeleteModelTx deletes every Run referencing modelID (as candidate or
// judge) along with their RunResults, then the Model itself. Must run inside
// a transaction with foreign keys disabled.
func cascadeDeleteModelTx(tx *gorm.DB, modelID string) error {
	var candidateRuns []models.Run
	if err := tx.Find(&candidateRuns).Error; err != nil {
		return err
	}

	for _, run := range candidateRuns {
		referenced := run.JudgeModelID == modelID
		if !referenced {
			for _, id := range run.ModelIDs {
				if id == modelID {
					referenced = true
					break
				}
			}
		}
		if !referenced {
			continue
		}
		if err := deleteRunAndResultsTx(tx, run.ID); err != nil {
			return err
		}
	}

	if err := tx.Where("model_id = ?", modelID).Delete(&models.RunResult{}).Error; err != nil {
		return err
	}

	return tx.Delete(&models.Model{}, "id = ?", modelID).Error
}

// CreateProblemSet inserts a new ProblemSet row.
func (s *Store) CreateProblemSet(ctx context.Context, ps *models.ProblemSet) error {
	if ps.ID == "" {
		ps.ID = newID()
	}
	if ps.CreatedAt.IsZero() {
		ps.CreatedAt = time.Now().UTC()
	}
	return s.db.WithContext(ctx).Create(ps).Error
}

// GetProblemSet returns a ProblemSet by id.
func (s *Store) GetProblemSet(ctx context.Context, id string) (models.ProblemSet, error) {
	var ps models.ProblemSet
	if err := s.db.WithContext(ctx).First(&ps, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.ProblemSet{}, ErrNotFound
		}
		return models.ProblemSet{}, err
	}
	return ps, nil
}

// ListProblemSets returns every ProblemSet.
func (s *Store) ListProblemSets(ctx context.Context) ([]models.ProblemSet, error) {
	var result []models.ProblemSet
	if err := s.db.WithContext(ctx).Order("created_at ASC").Find(&result).Error; err != nil {
		return nil, err
	}
	return result, nil
}

// CreateProblem inserts a new Problem row.
func (s *Store) CreateProblem(ctx context.Context, p *models.Problem) error {
	if p.ID == "" {
		p.ID = newID()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	return s.db.WithContext(ctx).Create(p).Error
}

// GetProblem returns a Problem by id.
func (s *Store) GetProblem(ctx context.Context, id string) (models.Problem, error) {
	var p models.Problem
	if err := s.db.WithContext(ctx).First(&p, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Problem{}, ErrNotFound
		}
		return models.Problem{}, err
	}
	return p, nil
}

// ListProblemsInOrder returns the Problems of a ProblemSet in ascending
// creation order — the authoritative order the Scheduler dispatches in.
func (s *Store) ListProblemsInOrder(ctx context.Context, problemSetID string) ([]models.Problem, error) {
	var problems []models.Problem
	if err := s.db.WithContext(ctx).
		Where("problem_set_id = ?", problemSetID).
		Order("created_at ASC, id ASC").
		Find(&problems).Error; err != nil {
		return nil, err
	}
	return problems, nil
}

// CascadeDeleteProblemSet deletes a ProblemSet, its Problems, any Runs that
// reference it, and all RunResults of those Runs, transactionally.
func (s *Store) CascadeDeleteProblemSet(ctx context.Context, id string) error {
	return s.withForeignKeysDisabled(ctx, func(tx *gorm.DB) error {
		var runIDs []string
		if err := tx.Model(&models.Run{}).Where("problem_set_id = ?", id).Pluck("id", &runIDs).Error; err != nil {
			return err
		}

		for _, runID := range runIDs {
			if err := deleteRunAndResultsTx(tx, runID); err != nil {
				return err
			}
		}

		if err := tx.Where("problem_set_id = ?", id).Delete(&models.Problem{}).Error; err != nil {
			return err
		}

		return tx.Delete(&models.ProblemSet{}, "id = ?", id).Error
	})
}

func deleteRunAndResultsTx(tx *gorm.DB, runID string) error {
	if err := tx.Where("run_id = ?", runID).Delete(&models.RunResult{}).Error; err != nil {
		return err
	}
	return tx.Delete(&models.Run{}, "id = ?", runID).Error
}
