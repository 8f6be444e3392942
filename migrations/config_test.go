package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/correlator-io/sdbridge/internal/storage"
)

func TestLoadConfig(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	t.Run("defaults the migration table", func(t *testing.T) {
		t.Setenv("DATABASE_URL", "postgres://ops:secret@db:5432/legacy") // pragma: allowlist secret
		t.Setenv("MIGRATION_TABLE", "")

		cfg, err := LoadConfig()
		require.NoError(t, err)
		assert.Equal(t, defaultMigrationTable, cfg.MigrationTable)
		assert.Equal(t, "Config{DatabaseURL: postgres://ops:***@db:5432/legacy, MigrationTable: schema_migrations}",
			cfg.String())
	})

	t.Run("custom migration table", func(t *testing.T) {
		t.Setenv("DATABASE_URL", "postgres://db:5432/legacy")
		t.Setenv("MIGRATION_TABLE", "sdbridge_migrations")

		cfg, err := LoadConfig()
		require.NoError(t, err)
		assert.Equal(t, "sdbridge_migrations", cfg.MigrationTable)
	})

	t.Run("requires a database url", func(t *testing.T) {
		t.Setenv("DATABASE_URL", "")

		_, err := LoadConfig()
		require.ErrorIs(t, err, storage.ErrDatabaseURLEmpty)
	})
}

func TestConfigValidate(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	cfg := &Config{Database: storage.NewConfig("postgres://db:5432/legacy"), MigrationTable: "  "}
	require.ErrorIs(t, cfg.Validate(), ErrMigrationTableEmpty)

	cfg = &Config{MigrationTable: defaultMigrationTable}
	require.ErrorIs(t, cfg.Validate(), storage.ErrDatabaseURLEmpty)
	assert.Equal(t, "Config{DatabaseURL: , MigrationTable: schema_migrations}", cfg.String())
}

func TestRootCommand(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	root := newRootCmd()

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}

	assert.ElementsMatch(t, []string{"up", "down", "status", "provision", "drop"}, names)

	root.SetArgs([]string{"drop"})
	require.ErrorIs(t, root.Execute(), errDropNotConfirmed)
}
