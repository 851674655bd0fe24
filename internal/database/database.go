package database

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"immobilier/server/internal/apperr"
)

type Database struct {
	db *gorm.DB
}

// NewDatabase opens (and creates when missing) the SQLite file at dbPath.
func NewDatabase(dbPath string) (*Database, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on", dbPath)
	return open(dsn)
}

// NewTestDB opens a private in-memory database with the schema applied.
func NewTestDB() (*Database, error) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	d, err := open(dsn)
	if err != nil {
		return nil, err
	}
	if err := d.RunMigrations(); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

func open(dsn string) (*Database, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database handle: %w", err)
	}
	// SQLite allows one writer, the pipeline never needs more.
	sqlDB.SetMaxOpenConns(1)

	return &Database{db: db}, nil
}

func (d *Database) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// GetDB exposes the gorm handle to the pipeline writers.
func (d *Database) GetDB() *gorm.DB {
	return d.db
}

// Ping checks that the database answers.
func (d *Database) Ping(ctx context.Context) error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Counts reports the row count of each pipeline table.
func (d *Database) Counts(ctx context.Context) (map[string]int64, error) {
	counts := make(map[string]int64, 3)
	for _, table := range []string{"dvf_transactions", "communes", "market_analysis"} {
		var n int64
		if err := d.db.WithContext(ctx).Table(table).Count(&n).Error; err != nil {
			return nil, MapError("count "+table, err)
		}
		counts[table] = n
	}
	return counts, nil
}

// MapError turns a driver error into the application taxonomy: constraint
// violations become validation errors, anything else a storage error.
func MapError(op string, err error) error {
	if err == nil {
		return nil
	}

	var validationErr *apperr.ValidationError
	if errors.As(err, &validationErr) {
		return err
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
		return &apperr.ValidationError{Err: err}
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return &apperr.ValidationError{Err: err}
	}
	return &apperr.StorageError{Op: op, Err: err}
}
