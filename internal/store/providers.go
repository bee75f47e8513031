package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/benchlab/run-engine/internal/models"
)

// CreateProvider inserts a new Provider row, generating an id if none was supplied.
func (s *Store) CreateProvider(ctx context.Context, p *models.Provider) error {
	if p.ID == "" {
		p.ID = newID()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	return s.db.WithContext(ctx).Create(p).Error
}

// GetProvider returns a Provider by id.
func (s *Store) GetProvider(ctx context.Context, id string) (models.Provider, error) {
	var p models.Provider
	if err := s.db.WithContext(ctx).First(&p, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Provider{}, ErrNotFound
		}
		return models.Provider{}, err
	}
	return p, nil
}

// ListProviders returns all known providers.
func (s *Store) ListProviders(ctx context.Context) ([]models.Provider, error) {
	var providers []models.Provider
	if err := s.db.WithContext(ctx).Order("created_at ASC").Find(&providers).Error; err != nil {
		return nil, err
	}
	return providers, nil
}

// UpdateProvider persists changes to an existing Provider.
func (s *Store) UpdateProvider(ctx context.Context, p *models.Provider) error {
	return s.db.WithContext(ctx).Save(p).Error
}

// MarkProviderProbed stamps last_checked_at = now on a successful connectivity probe.
func (s *Store) MarkProviderProbed(ctx context.Context, id string, at time.Time) error {
	return s.db.WithContext(ctx).Model(&models.Provider{}).
		Where("id = ?", id).
		Update("last_checked_at", at).Error
}

// DeleteProvider removes a Provider, refusing when referenced by a Model
// unless cascade is requested.
func (s *Store) DeleteProvider(ctx context.Context, id string, cascade bool) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Model{}).Where("provider_id = ?", id).Count(&count).Error; err != nil {
		return err
	}

	if count > 0 && !cascade {
		return ErrReferenced
	}

	if count == 0 {
		return s.db.WithContext(ctx).Delete(&models.Provider{}, "id = ?", id).Error
	}

	return s.CascadeDeleteProvider(ctx, id)
}

// CascadeDeleteProvider deletes a Provider, its Models, and everything the
// Models' cascade delete implies (see cascadeDeleteModelTx), transactionally.
func (s *Store) CascadeDeleteProvider(ctx context.Context, id string) error {
	return s.withForeignKeysDisabled(ctx, func(tx *gorm.DB) error {
		var modelIDs []string
		if err := tx.Model(&models.Model{}).Where("provider_id = ?", id).Pluck("id", &modelIDs).Error; err != nil {
			return err
		}

		for _, modelID := range modelIDs {
			if err := cascadeDeleteModelTx(tx, modelID); err != nil {
				return err
			}
		}

		return tx.Delete(&models.Provider{}, "id = ?", id).Error
	})
}
