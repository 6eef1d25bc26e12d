package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"mcp-gateway/backend/internal/backend"
	"mcp-gateway/backend/internal/config"
	"mcp-gateway/backend/internal/health"
	"mcp-gateway/backend/internal/logging"
	"mcp-gateway/backend/internal/observability"
	"mcp-gateway/backend/internal/registry"
	"mcp-gateway/backend/internal/repository"
	"mcp-gateway/backend/internal/router"
	"mcp-gateway/backend/internal/services"
	"mcp-gateway/backend/internal/workflow"
)

// app is the fully wired gateway shared by every subcommand.
type app struct {
	cfg        *config.Config
	viper      *viper.Viper
	logger     *logging.Logger
	metrics    observability.Metrics
	registry   *registry.Registry
	aggregator *health.Aggregator
	store      repository.ExecutionStore
	gateway    *services.GatewayService

	shutdownTracing func(context.Context) error
}

func loadConfig(cmd *cobra.Command) (*config.Config, *viper.Viper, error) {
	configFile, _ := cmd.Flags().GetString("config")
	envFile, _ := cmd.Flags().GetString("env")
	cfg, v, err := config.LoadConfig(configFile, envFile)
	if err != nil {
		return nil, nil, fmt.Errorf("configuration loading failed: %w", err)
	}
	return cfg, v, nil
}

func newLogger(cfg *config.Config) *logging.Logger {
	return logging.New(logging.Options{Level: cfg.Logging.Level, JSON: cfg.Logging.JSON})
}

// buildApp wires registry, backend client, router, workflow engine, health
// aggregator and persistence from cfg. Callers must call close.
func buildApp(ctx context.Context, cfg *config.Config, v *viper.Viper, logger *logging.Logger) (*app, error) {
	a := &app{cfg: cfg, viper: v, logger: logger}

	shutdown, err := observability.InitTracing(ctx, cfg.Tracing)
	if err != nil {
		return nil, err
	}
	a.shutdownTracing = shutdown

	if a.metrics, err = observability.InitMetrics(cfg.Metrics); err != nil {
		a.close(ctx)
		return nil, err
	}

	entries, err := cfg.RegistryEntries()
	if err != nil {
		a.close(ctx)
		return nil, err
	}
	if a.registry, err = registry.New(entries); err != nil {
		a.close(ctx)
		return nil, err
	}
	logger.Info("registry loaded", "backends", a.registry.Len())

	if a.store, err = openStore(ctx, cfg, logger); err != nil {
		a.close(ctx)
		return nil, err
	}

	client := backend.NewHTTPClient()
	r := router.New(a.registry, client,
		router.WithRetry(cfg.Gateway.Retry),
		router.WithMetrics(a.metrics),
		router.WithLogger(logger.Named("router")),
	)

	policy, err := workflow.ParsePolicy(cfg.Gateway.ErrorPolicy)
	if err != nil {
		a.close(ctx)
		return nil, err
	}
	engineOpts := []workflow.Option{
		workflow.WithPolicy(policy),
		workflow.WithMetrics(a.metrics),
		workflow.WithLogger(logger.Named("workflow")),
	}
	if a.store != nil {
		engineOpts = append(engineOpts, workflow.WithRecorder(a.store))
	}
	engine, err := workflow.NewEngine(r, engineOpts...)
	if err != nil {
		a.close(ctx)
		return nil, err
	}

	a.aggregator = health.NewAggregator(a.registry, client,
		health.WithMetrics(a.metrics),
		health.WithLogger(logger.Named("health")),
	)

	svcOpts := []services.Option{
		services.WithLogger(logger.Named("gateway")),
		services.WithRegistrySource(a.reloadEntries),
	}
	if a.store != nil {
		svcOpts = append(svcOpts, services.WithStore(a.store))
	}
	a.gateway = services.NewGatewayService(a.registry, r, engine, a.aggregator, svcOpts...)
	return a, nil
}

// reloadEntries returns the backend list from a fresh read of the config
// file. The viper instance built at startup is never re-read, so reloads and
// file watch events do not share mutable state.
func (a *app) reloadEntries(ctx context.Context) ([]registry.Entry, error) {
	cfg := a.cfg
	if file := a.viper.ConfigFileUsed(); file != "" {
		next, err := config.Reload(file)
		if err != nil {
			return nil, err
		}
		cfg = next
	}
	return cfg.RegistryEntries()
}

func (a *app) close(ctx context.Context) {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("failed to close execution store", "error", err)
		}
	}
	if a.shutdownTracing != nil {
		if err := a.shutdownTracing(ctx); err != nil {
			a.logger.Warn("failed to flush traces", "error", err)
		}
	}
}

func openStore(ctx context.Context, cfg *config.Config, logger *logging.Logger) (repository.ExecutionStore, error) {
	switch cfg.Persistence.Driver {
	case config.DriverNone:
		logger.Info("execution persistence disabled")
		return nil, nil
	case config.DriverPostgres:
		pool, err := initDatabase(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		logger.Info("database connected", "host", cfg.Persistence.DB.Host, "name", cfg.Persistence.DB.Name)
		store := repository.NewPostgresExecutionStore(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			return nil, err
		}
		return store, nil
	case config.DriverRedis:
		store, err := repository.NewRedisExecutionStore(ctx, cfg.Persistence.Redis.URL, cfg.Persistence.Redis.TTL)
		if err != nil {
			return nil, err
		}
		logger.Info("redis connected")
		return store, nil
	default:
		store, err := repository.NewMemoryExecutionStore(cfg.Persistence.Memory.MaxExecutions)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
}

func initDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*pgxpool.Pool, error) {
	logger.Debug("initializing database connection")

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
