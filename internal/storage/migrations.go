// Package storage keeps lockers, compartments and reservations in a
// relational store with per-row version counters.
//
// Schema changes live as embedded SQL files under migrations/<driver>/ and are
// named NNNN_name.up.sql or NNNN_name.down.sql. The applied version is kept in
// the schema_migrations table; the runner moves the database from its current
// version to a target one, applying each file in its own transaction.
package storage

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"regexp"
	"sort"
	"strconv"

	"github.com/jmoiron/sqlx"
)

//go:embed migrations/**/*.sql
var migrationsFS embed.FS

var reMigrationFilename = regexp.MustCompile(`^(?P<Version>\d{4})\_(?P<Name>[^.]+)\.(?P<Direction>(up|down))\.sql$`)

var (
	ErrMigrateCurrentVersionSameAsTarget = errors.New("current version is the same as target version")
)

const schemaMigrationsTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
	version    INTEGER NOT NULL,
	applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
)`

// SchemaMigration represents a single database migration
type SchemaMigration struct {
	Version int
	Name    string
	Up      bool
	SQL     string
}

// After is the schema version once this migration has run.
func (m *SchemaMigration) After() int {
	if m.Up {
		return m.Version
	}
	return m.Version - 1
}

type MigrationRunner struct {
	db     *sqlx.DB
	driver string
	logger *slog.Logger
}

func NewMigrationRunner(db *sqlx.DB, driver string) *MigrationRunner {
	return &MigrationRunner{
		db:     db,
		driver: driver,
		logger: slog.With("component", "migrations", "driver", driver),
	}
}

func (mr *MigrationRunner) dir() (string, error) {
	switch mr.driver {
	case "sqlite3":
		return "migrations/sqlite3", nil
	default:
		return "", fmt.Errorf("unsupported driver: %s", mr.driver)
	}
}

// all parses every migration file of the driver, in no particular order.
func (mr *MigrationRunner) all() ([]SchemaMigration, error) {
	dirPath, err := mr.dir()
	if err != nil {
		return nil, err
	}
	entries, err := migrationsFS.ReadDir(dirPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read migration directory: %w", err)
	}

	var migrations []SchemaMigration
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m, err := parseMigrationFile(path.Join(dirPath, entry.Name()))
		if err != nil {
			mr.logger.Warn("Failed to parse migration file", "file", entry.Name(), "error", err)
			continue
		}
		migrations = append(migrations, m)
	}
	return migrations, nil
}

// LatestVersion returns the highest up migration available.
func (mr *MigrationRunner) LatestVersion() (int, error) {
	migrations, err := mr.all()
	if err != nil {
		return -1, err
	}
	latest := 0
	for _, m := range migrations {
		if m.Up && m.Version > latest {
			latest = m.Version
		}
	}
	return latest, nil
}

// CurrentVersion reads the applied schema version, 0 for an empty database.
func (mr *MigrationRunner) CurrentVersion(ctx context.Context) (int, error) {
	if _, err := mr.db.ExecContext(ctx, schemaMigrationsTable); err != nil {
		return -1, fmt.Errorf("create schema_migrations: %w", err)
	}
	var version int
	err := mr.db.GetContext(ctx, &version, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`)
	if err != nil {
		return -1, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}

// Plan returns the ordered migrations that move prior to target. A target of
// -1 means the latest version, 0 means the empty database.
func (mr *MigrationRunner) Plan(prior, target int) ([]SchemaMigration, error) {
	if target == -1 {
		latest, err := mr.LatestVersion()
		if err != nil {
			return nil, fmt.Errorf("failed to get latest migration version: %w", err)
		}
		target = latest
	}
	if prior == target {
		return nil, ErrMigrateCurrentVersionSameAsTarget
	}

	migrations, err := mr.all()
	if err != nil {
		return nil, err
	}

	up := target > prior
	var plan []SchemaMigration
	for _, m := range migrations {
		if up && m.Up && m.Version > prior && m.Version <= target {
			plan = append(plan, m)
		}
		if !up && !m.Up && m.Version <= prior && m.Version > target {
			plan = append(plan, m)
		}
	}

	sort.Slice(plan, func(i, j int) bool {
		if up {
			return plan[i].Version < plan[j].Version
		}
		return plan[i].Version > plan[j].Version
	})
	return plan, nil
}

// Migrate brings the schema to target (-1 for latest).
func (mr *MigrationRunner) Migrate(ctx context.Context, target int) error {
	prior, err := mr.CurrentVersion(ctx)
	if err != nil {
		return err
	}
	plan, err := mr.Plan(prior, target)
	if errors.Is(err, ErrMigrateCurrentVersionSameAsTarget) {
		mr.logger.Debug("Schema is up to date", "version", prior)
		return nil
	}
	if err != nil {
		return err
	}

	for _, m := range plan {
		if err := mr.apply(ctx, m); err != nil {
			return fmt.Errorf("migration %04d_%s: %w", m.Version, m.Name, err)
		}
		mr.logger.Info("Applied migration", "version", m.Version, "name", m.Name, "up", m.Up)
	}
	return nil
}

func (mr *MigrationRunner) apply(ctx context.Context, m SchemaMigration) error {
	tx, err := mr.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		return err
	}
	if m.Up {
		_, err = tx.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, m.After())
	} else {
		_, err = tx.ExecContext(ctx, `DELETE FROM schema_migrations WHERE version > ?`, m.After())
	}
	if err != nil {
		return err
	}
	return tx.Commit()
}

// parseMigrationFile parses a migration filename and reads its content
func parseMigrationFile(filePath string) (SchemaMigration, error) {
	filename := path.Base(filePath)
	parts := reMigrationFilename.FindStringSubmatch(filename)
	if parts == nil {
		return SchemaMigration{}, fmt.Errorf("invalid migration filename: %s", filename)
	}

	sql, err := migrationsFS.ReadFile(filePath)
	if err != nil {
		return SchemaMigration{}, fmt.Errorf("failed to read migration file: %w", err)
	}

	version, _ := strconv.Atoi(parts[reMigrationFilename.SubexpIndex("Version")])
	return SchemaMigration{
		Version: version,
		Name:    parts[reMigrationFilename.SubexpIndex("Name")],
		Up:      parts[reMigrationFilename.SubexpIndex("Direction")] == "up",
		SQL:     string(sql),
	}, nil
}
