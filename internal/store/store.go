// Package store provides synchronous, transactional access to the embedded
// relational store: typed CRUD for every entity plus the specialized
// operations the Scheduler and control API rely on.
package store

import (
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("store: not found")

// ErrInvalidTransition indicates a status transition was attempted from a
// disallowed current status.
var ErrInvalidTransition = errors.New("store: invalid status transition")

// ErrReferenced indicates a delete was refused because other rows still
// reference the target entity.
var ErrReferenced = errors.New("store: referenced by other rows")

// Store is the single entry point for all persistence operations.
type Store struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// New constructs a Store bound to an already-migrated *gorm.DB.
func New(db *gorm.DB, logger zerolog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger.With().Str("component", "store").Logger(),
	}
}

// newID generates a UUID-like string identifier for an entity created
// without a caller-supplied id.
func newID() string {
	return uuid.NewString()
}
