package store

import (
	"context"

	"gorm.io/gorm"
)

// withForeignKeysDisabled runs fn inside a transaction with SQLite foreign
// key enforcement disabled for its duration, re-enabling it on every exit
// path (success, error, or panic). SQLite only honours the foreign_keys
// pragma outside of an active transaction, so it is toggled on the
// connection before BEGIN and restored after COMMIT/ROLLBACK.
func (s *Store) withForeignKeysDisabled(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if err := s.db.WithContext(ctx).Exec("PRAGMA foreign_keys = OFF").Error; err != nil {
		return err
	}
	defer func() {
		if err := s.db.WithContext(ctx).Exec("PRAGMA foreign_keys = ON").Error; err != nil {
			s.logger.Error().Err(err).Msg("failed to re-enable foreign key enforcement")
		}
	}()

	return s.db.WithContext(ctx).Transaction(fn)
}
