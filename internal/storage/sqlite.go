package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"easybox-network/internal/config"

	"github.com/mattn/go-sqlite3"
)

type SQLiteProvider struct {
	SQLProvider
}

func NewSQLiteProvider(config *config.Storage) (*SQLiteProvider, error) {
	if config.SQLite == nil || config.SQLite.Path == "" {
		return nil, fmt.Errorf("sqlite path is not configured")
	}

	if config.SQLite.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(config.SQLite.Path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	// Writers take the lock up front and wait for each other instead of
	// failing with SQLITE_BUSY.
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate&_loc=UTC", config.SQLite.Path)

	sqlProvider, err := NewSQLProvider(config, "sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	sqlProvider.mapErr = mapSQLiteError

	return &SQLiteProvider{SQLProvider: *sqlProvider}, nil
}

func mapSQLiteError(err error) error {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return err
	}
	if se.Code != sqlite3.ErrConstraint {
		return err
	}
	switch {
	case strings.Contains(se.Error(), "reservation overlap"):
		return fmt.Errorf("%w: %v", ErrOverlap, err)
	case se.ExtendedCode == sqlite3.ErrConstraintUnique, se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey:
		return fmt.Errorf("%w: %v", ErrUniqueViolation, err)
	}
	return err
}
