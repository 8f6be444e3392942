package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/correlator-io/sdbridge/internal/config"
	"github.com/correlator-io/sdbridge/internal/storage"
)

const defaultMigrationTable = "schema_migrations"

// ErrMigrationTableEmpty is returned when MIGRATION_TABLE is set to blanks.
var ErrMigrationTableEmpty = errors.New("migration table cannot be empty")

// Config holds the migrator configuration.
type Config struct {
	Database       *storage.Config
	MigrationTable string
}

// LoadConfig reads DATABASE_URL (through the storage configuration) and MIGRATION_TABLE.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Database:       storage.LoadConfig(),
		MigrationTable: config.GetEnvStr("MIGRATION_TABLE", defaultMigrationTable),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Database == nil {
		return storage.ErrDatabaseURLEmpty
	}

	if err := c.Database.Validate(); err != nil {
		return err
	}

	if strings.TrimSpace(c.MigrationTable) == "" {
		return ErrMigrationTableEmpty
	}

	return nil
}

// String is safe for logging: the database password is masked.
func (c *Config) String() string {
	url := ""
	if c.Database != nil {
		url = c.Database.MaskDatabaseURL()
	}

	return fmt.Sprintf("Config{DatabaseURL: %s, MigrationTable: %s}", url, c.MigrationTable)
}
