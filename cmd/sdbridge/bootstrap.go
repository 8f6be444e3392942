package main

import (
	"errors"
	"io"
	"log/slog"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/correlator-io/sdbridge/internal/api"
	"github.com/correlator-io/sdbridge/internal/bridge"
	"github.com/correlator-io/sdbridge/internal/identity"
	"github.com/correlator-io/sdbridge/internal/stage"
	"github.com/correlator-io/sdbridge/internal/storage"
)

var (
	_ bridge.AccountOpener = (*storage.Accounts)(nil)
	_ bridge.SegmentCache  = (*storage.RedisSegmentCache)(nil)
	_ api.DetectionStore   = (*bridge.Repository)(nil)
	_ api.HealthChecker    = (*storage.Connection)(nil)
	_ api.HealthChecker    = (*storage.RedisSegmentCache)(nil)
)

// runtime holds the wired bridge and the resources that back it.
type runtime struct {
	logger   *slog.Logger
	topology *stage.Topology
	repo     *bridge.Repository
	segments bridge.SegmentCache
	checks   map[string]api.HealthChecker
	closers  []io.Closer
}

func newLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
}

func loadTopology() (*stage.Topology, error) {
	def, err := stage.LoadDefinitionFromEnv()
	if err != nil {
		return nil, err
	}

	return stage.NewTopology(def)
}

// newRuntime connects to the database and builds the repository over every legacy
// account the stage definition references. The caller must Close the runtime.
func newRuntime(logger *slog.Logger) (*runtime, error) {
	topology, err := loadTopology()
	if err != nil {
		return nil, err
	}

	logger.Info("Loaded stage definition",
		slog.Int("stages", len(topology.Stages())),
		slog.Any("accounts", topology.AccountNames()),
		slog.String("monitoring_organization", topology.MonitoringOrganization()),
	)

	storageConfig := storage.LoadConfig()

	conn, err := storage.NewConnection(storageConfig)
	if err != nil {
		return nil, err
	}

	rt := &runtime{
		logger:   logger,
		topology: topology,
		checks:   map[string]api.HealthChecker{"database": conn},
		closers:  []io.Closer{conn},
	}

	logger.Info("Connected to database",
		slog.String("database_url", storageConfig.MaskDatabaseURL()),
		slog.Float64("legacy_query_rps", storageConfig.LegacyQueryRPS),
	)

	accounts, err := storage.NewPostgresAccounts(conn, storageConfig, topology.AccountNames())
	if err != nil {
		return nil, errors.Join(err, rt.Close())
	}

	idStore, err := storage.NewIDStore(conn)
	if err != nil {
		return nil, errors.Join(err, rt.Close())
	}

	registry := identity.NewRegistry(
		identity.WithStore(idStore),
		identity.WithLogger(logger),
	)

	rt.segments = bridge.NewMemorySegmentCache()

	if storageConfig.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: storageConfig.RedisAddr})
		cache := storage.NewRedisSegmentCache(client)

		rt.segments = cache
		rt.checks["segment cache"] = cache
		rt.closers = append(rt.closers, client)

		logger.Info("Using Redis segment cache", slog.String("addr", storageConfig.RedisAddr))
	}

	rt.repo, err = bridge.NewRepository(topology, accounts, registry,
		bridge.WithLogger(logger),
		bridge.WithSegmentCache(rt.segments),
	)
	if err != nil {
		return nil, errors.Join(err, rt.Close())
	}

	return rt, nil
}

// Close releases resources in reverse acquisition order.
func (rt *runtime) Close() error {
	var errs []error

	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
