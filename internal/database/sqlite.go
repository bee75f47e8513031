// Package database wires up the embedded SQL store used by the run engine.
package database

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/benchlab/run-engine/internal/models"
)

// ConnectSQLite opens (creating if necessary) the embedded SQLite database at path,
// with write-ahead-log journaling so reads do not block writers.
func ConnectSQLite(path string) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path must not be empty")
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	return db, nil
}

// Migrate runs AutoMigrate for the entity set and backfills columns that an
// older schema version may be missing.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.Provider{},
		&models.Model{},
		&models.ProblemSet{},
		&models.Problem{},
		&models.Run{},
		&models.RunResult{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	if err := ensureOptionalColumns(db); err != nil {
		return fmt.Errorf("ensure optional columns: %w", err)
	}

	if err := backfillProblemCreatedAt(db); err != nil {
		return fmt.Errorf("backfill problem created_at: %w", err)
	}

	return nil
}

type optionalColumn struct {
	model  interface{}
	column string
}

// ensureOptionalColumns verifies the presence of columns that earlier schema
// revisions may not have had, and adds them with safe defaults if missing.
// AutoMigrate above already covers these for a struct-derived schema, but the
// explicit check keeps the contract honest against a store migrated from a
// version of the struct that predates these fields.
func ensureOptionalColumns(db *gorm.DB) error {
	columns := []optionalColumn{
		{&models.Run{}, "stream_enabled"},
		{&models.Run{}, "cancelled_at"},
		{&models.Run{}, "cancelled_by"},
		{&models.Provider{}, "last_checked_at"},
		{&models.Problem{}, "created_at"},
		{&models.RunResult{}, "judge_reasoning"},
		{&models.RunResult{}, "cancelled_at"},
	}

	migrator := db.Migrator()
	for _, col := range columns {
		if migrator.HasColumn(col.model, col.column) {
			continue
		}
		if err := migrator.AddColumn(col.model, col.column); err != nil {
			return fmt.Errorf("add column %s: %w", col.column, err)
		}
	}

	return nil
}

// backfillProblemCreatedAt stamps any zero-value created_at rows with the
// current time so the ascending-by-creation ordering the Scheduler relies on
// stays well defined.
func backfillProblemCreatedAt(db *gorm.DB) error {
	return db.Model(&models.Problem{}).
		Where("created_at IS NULL OR created_at = ?", time.Time{}).
		Update("created_at", time.Now().UTC()).Error
}
