package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/correlator-io/sdbridge/internal/config"
	"github.com/correlator-io/sdbridge/internal/storage"
)

// provisionMinVersion is the first schema version defining create_legacy_account.
const provisionMinVersion = 1

// ErrSchemaNotReady is returned when provisioning runs before the migrations defining
// create_legacy_account were applied.
var ErrSchemaNotReady = errors.New("schema not migrated")

type (
	// Runner applies the embedded migrations and provisions legacy account schemas.
	Runner struct {
		conn    *storage.Connection
		migrate *migrate.Migrate
		set     *MigrationSet
		logger  *slog.Logger
	}

	// Status describes the database schema relative to the embedded migration set.
	Status struct {
		Version uint
		Dirty   bool
		Latest  int
	}

	// migrateLogger routes golang-migrate's log output to slog.
	migrateLogger struct {
		logger *slog.Logger
	}
)

var _ migrate.Logger = (*migrateLogger)(nil)

// NewMigrationRunner validates the embedded migrations and connects to the database.
func NewMigrationRunner(cfg *Config) (*Runner, error) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
	}))

	logger.Info("Initializing migration runner", slog.String("config", cfg.String()))

	set := NewMigrationSet(nil)
	if err := set.Validate(); err != nil {
		return nil, fmt.Errorf("embedded migration validation failed: %w", err)
	}

	conn, err := storage.NewConnection(cfg.Database)
	if err != nil {
		return nil, err
	}

	driver, err := postgres.WithInstance(conn.DB, &postgres.Config{MigrationsTable: cfg.MigrationTable})
	if err != nil {
		_ = conn.Close()

		return nil, fmt.Errorf("failed to create postgres driver: %w", err)
	}

	source, err := iofs.New(set.FS(), ".")
	if err != nil {
		_ = conn.Close()

		return nil, fmt.Errorf("failed to create embedded migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		_ = conn.Close()

		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}

	m.Log = &migrateLogger{logger: logger}

	return &Runner{conn: conn, migrate: m, set: set, logger: logger}, nil
}

// Up applies all pending migrations.
func (r *Runner) Up() error {
	if err := r.set.Validate(); err != nil {
		return fmt.Errorf("pre-operation validation failed: %w", err)
	}

	err := r.migrate.Up()

	switch {
	case errors.Is(err, migrate.ErrNoChange):
		r.logger.Info("No new migrations to apply")
	case err != nil:
		return fmt.Errorf("migration up failed: %w", err)
	default:
		r.logger.Info("All migrations applied")
	}

	return nil
}

// Down rolls back the last applied migration.
func (r *Runner) Down() error {
	if err := r.set.Validate(); err != nil {
		return fmt.Errorf("pre-operation validation failed: %w", err)
	}

	err := r.migrate.Steps(-1)

	switch {
	case errors.Is(err, migrate.ErrNoChange), errors.Is(err, os.ErrNotExist):
		r.logger.Info("No migrations to roll back")
	case err != nil:
		return fmt.Errorf("migration down failed: %w", err)
	default:
		r.logger.Info("Last migration rolled back")
	}

	return nil
}

// Status reports the applied version. Version is 0 when nothing was applied.
func (r *Runner) Status() (Status, error) {
	status := Status{Latest: r.set.Latest()}

	version, dirty, err := r.migrate.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return status, nil
	}

	if err != nil {
		return Status{}, fmt.Errorf("failed to get migration version: %w", err)
	}

	status.Version = version
	status.Dirty = dirty

	return status, nil
}

// Drop removes every object in the database.
func (r *Runner) Drop() error {
	r.logger.Warn("Dropping all database objects")

	if err := r.migrate.Drop(); err != nil {
		return fmt.Errorf("drop operation failed: %w", err)
	}

	return nil
}

// Provision creates the legacy tables of each account schema. Accounts that already exist
// are left untouched apart from missing tables.
func (r *Runner) Provision(ctx context.Context, accounts ...string) error {
	status, err := r.Status()
	if err != nil {
		return err
	}

	if status.Version < provisionMinVersion || status.Dirty {
		return fmt.Errorf("%w: run up before provisioning (version %d, dirty %t)",
			ErrSchemaNotReady, status.Version, status.Dirty)
	}

	for _, account := range accounts {
		if strings.TrimSpace(account) == "" {
			return storage.ErrInvalidSchema
		}

		if _, err := r.conn.ExecContext(ctx, `SELECT create_legacy_account($1)`, account); err != nil {
			return fmt.Errorf("failed to provision account %q: %w", account, err)
		}

		r.logger.Info("Provisioned legacy account", slog.String("account", account))
	}

	return nil
}

// Close releases the migration source and the database connection.
func (r *Runner) Close() error {
	var errs []error

	if r.migrate != nil {
		sourceErr, dbErr := r.migrate.Close()
		errs = append(errs, sourceErr, dbErr)
	}

	if r.conn != nil {
		errs = append(errs, r.conn.Close())
	}

	return errors.Join(errs...)
}

func (l *migrateLogger) Printf(format string, v ...any) {
	l.logger.Info(strings.TrimSpace(fmt.Sprintf(format, v...)), slog.String("component", "migrate"))
}

func (l *migrateLogger) Verbose() bool {
	return false
}
