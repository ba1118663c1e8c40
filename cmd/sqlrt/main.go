// Package main is the entrypoint for the sqlrt runtime. It loads the
// configuration, builds the pools, caches and statements, and either serves
// metrics and health endpoints or runs statements from the command line.
package main

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/joao-brasil/sqlrt/internal/cache"
	"github.com/joao-brasil/sqlrt/internal/config"
	"github.com/joao-brasil/sqlrt/internal/pool"
	"github.com/joao-brasil/sqlrt/internal/session"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "sqlrt",
		Short:         "Pooled, cached SQL statement runtime",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "configs/sqlrt.yaml", "Path to configuration file")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override runtime.log_level (debug, info, warn, error)")

	cmd.AddCommand(newServeCmd(opts), newRunCmd(opts), newLoadgenCmd(opts))
	return cmd
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

// runtime is everything a command needs to run statements.
type runtime struct {
	cfg     *config.Config
	logger  *slog.Logger
	redis   redis.UniversalClient
	pools   *pool.Manager
	factory *session.Factory
}

func bootstrap(ctx context.Context, opts *rootOptions) (*runtime, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	level := cfg.Runtime.LogLevel
	if opts.logLevel != "" {
		level = opts.logLevel
	}
	logger := newLogger(level)
	slog.SetDefault(logger)
	logger.Info("[main] configuration loaded",
		"datasources", len(cfg.DataSources), "caches", len(cfg.Caches),
		"statements", len(cfg.Statements), "instance", cfg.Runtime.InstanceID)

	rt := &runtime{cfg: cfg, logger: logger}
	if cfg.UsesRedis() {
		rt.redis, err = cache.NewRedisClient(ctx, cfg.Redis.Options())
		if err != nil {
			// redis caches fall back to misses until the server comes back
			logger.Warn("[main] redis unavailable, redis caches start in fallback mode", "err", err)
			rt.redis = redis.NewClient(&redis.Options{
				Addr:         cfg.Redis.Addr,
				Password:     cfg.Redis.Password,
				DB:           cfg.Redis.DB,
				PoolSize:     cfg.Redis.PoolSize,
				DialTimeout:  cfg.Redis.DialTimeout,
				ReadTimeout:  cfg.Redis.ReadTimeout,
				WriteTimeout: cfg.Redis.WriteTimeout,
			})
		}
	}

	registry, err := cfg.BuildRegistry(logger, rt.redis)
	if err != nil {
		rt.close()
		return nil, errors.Wrap(err, "building statements")
	}

	rt.pools, err = pool.NewManager(cfg.DataSources, pool.WithLogger(logger))
	if err != nil {
		rt.close()
		return nil, errors.Wrap(err, "initializing pools")
	}
	for _, ds := range cfg.DataSources {
		logger.Info("[main] datasource", "id", ds.ID, "driver", ds.Driver, "addr", ds.Addr(),
			"max_active", ds.Pool.MaxActive, "max_idle", ds.Pool.MaxIdle)
	}

	rt.factory = session.NewFactory(registry, rt.pools,
		session.WithLocalCacheScope(cfg.Scope()),
		session.WithEnvironmentID(cfg.Runtime.EnvironmentID),
		session.WithSharedCache(!cfg.Runtime.DisableSharedCache),
		session.WithLogger(logger),
	)
	return rt, nil
}

func (rt *runtime) close() {
	if rt.pools != nil {
		if err := rt.pools.Close(); err != nil {
			rt.logger.Warn("[main] pool manager close error", "err", err)
		}
	}
	if rt.redis != nil {
		if err := rt.redis.Close(); err != nil {
			rt.logger.Warn("[main] redis close error", "err", err)
		}
	}
}

// dataSourceFor picks the datasource a statement runs on.
func (rt *runtime) dataSourceFor(statementID, override string) (string, error) {
	if override != "" {
		return override, nil
	}
	ms, err := rt.factory.Registry().Statement(statementID)
	if err != nil {
		return "", err
	}
	if ms.DataSourceID != "" {
		return ms.DataSourceID, nil
	}
	if ids := rt.pools.IDs(); len(ids) == 1 {
		return ids[0], nil
	}
	return "", errors.Newf("statement %s has no datasource; pass --datasource", statementID)
}
