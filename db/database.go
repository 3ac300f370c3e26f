// Package db provides database models and initialization for Coxswain.
package db

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DBConfig holds configuration options for database initialization.
type DBConfig struct {
	// Path specifies the database file path. Use ":memory:" for an in-memory
	// database.
	Path string
	// LogLevel specifies the GORM logging level.
	LogLevel logger.LogLevel
}

// InitDB opens the database at path and runs migrations.
func InitDB(path string) (*gorm.DB, error) {
	database, err := InitDatabase(DBConfig{
		Path:     path,
		LogLevel: gormLogLevel(),
	})
	if err != nil {
		return nil, err
	}
	if err := AutoMigrateAll(database); err != nil {
		return nil, fmt.Errorf("failed to run database migrations: %w", err)
	}
	return database, nil
}

// InitDatabase creates and configures a SQLite database. The caller is
// responsible for running migrations.
func InitDatabase(config DBConfig) (*gorm.DB, error) {
	dsn := config.Path
	if dsn != ":memory:" {
		dir := filepath.Dir(config.Path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	database, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(config.LogLevel),
	})
	if err != nil {
		slog.Error("Failed to connect to database", "dsn", dsn, "error", err)
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	pragmas := "PRAGMA foreign_keys = ON;"
	if dsn != ":memory:" {
		pragmas += `
		PRAGMA journal_mode  = WAL;
		PRAGMA synchronous   = NORMAL;`
	}
	if err := database.Exec(pragmas).Error; err != nil {
		return nil, fmt.Errorf("failed to configure database: %w", err)
	}

	slog.Debug("Database initialized", "path", config.Path)
	return database, nil
}

// AllModels is the single source of truth for database migrations.
func AllModels() []any {
	return []any{
		&ProjectModel{},
		&ServerModel{},
		&DeploymentRecordModel{},
	}
}

// AutoMigrateAll runs auto-migration for all application models.
func AutoMigrateAll(database *gorm.DB) error {
	return database.AutoMigrate(AllModels()...)
}

// gormLogLevel maps the application slog level to a GORM log level.
func gormLogLevel() logger.LogLevel {
	current := slog.Default()
	switch {
	case current.Enabled(context.TODO(), slog.LevelDebug):
		return logger.Info // show SQL queries only when debug logging is enabled
	case current.Enabled(context.TODO(), slog.LevelWarn):
		return logger.Warn
	case current.Enabled(context.TODO(), slog.LevelError):
		return logger.Error
	default:
		return logger.Silent
	}
}
