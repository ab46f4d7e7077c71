package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"easybox-network/internal/config"

	"github.com/jmoiron/sqlx"
)

type SQLProvider struct {
	db *sqlx.DB

	config *config.Storage
	driver string

	// translates driver errors into the package sentinels
	mapErr func(error) error

	logger *slog.Logger
}

func NewSQLProvider(config *config.Storage, driverName string, dataSource string) (*SQLProvider, error) {
	db, err := sqlx.Open(driverName, dataSource)
	if err != nil {
		return nil, err
	}

	return &SQLProvider{
		db:     db,
		config: config,
		driver: driverName,
		mapErr: func(err error) error { return err },
		logger: slog.With("component", "storage"),
	}, nil
}

func (p *SQLProvider) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

func (p *SQLProvider) Migrate(ctx context.Context, target int) error {
	if p.db == nil {
		return ErrNotInitialized
	}
	return NewMigrationRunner(p.db, p.driver).Migrate(ctx, target)
}

func (p *SQLProvider) GetSchemaVersion(ctx context.Context) (int, error) {
	if p.db == nil {
		return -1, ErrNotInitialized
	}
	return NewMigrationRunner(p.db, p.driver).CurrentVersion(ctx)
}

// withTx runs fn inside a transaction and commits when fn returns nil.
func (p *SQLProvider) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	if p.db == nil {
		return ErrNotInitialized
	}
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return p.mapErr(err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return p.mapErr(tx.Commit())
}

// notFound maps sql.ErrNoRows onto ErrNotFound and wraps everything else.
func (p *SQLProvider) notFound(err error, op string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return fmt.Errorf("%s: %w", op, p.mapErr(err))
}

// casResult turns the affected row count of a version-gated update into
// ErrVersionConflict when nothing matched.
func casResult(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrVersionConflict
	}
	return nil
}

// ts normalises instants before they reach the database. All timestamps are
// stored in UTC at second precision so that the text columns compare in
// chronological order, including inside the overlap triggers.
func ts(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

func tsPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := ts(*t)
	return &v
}
