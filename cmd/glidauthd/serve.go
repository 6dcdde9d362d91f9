package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
	"github.com/spf13/cobra"

	"github.com/MrEthical07/glidauth"
	"github.com/MrEthical07/glidauth/directory"
	dirmongo "github.com/MrEthical07/glidauth/directory/mongo"
	dirpostgres "github.com/MrEthical07/glidauth/directory/postgres"
	"github.com/MrEthical07/glidauth/httpapi"
	"github.com/MrEthical07/glidauth/internal/logging"
	"github.com/MrEthical07/glidauth/internal/observability"
	promexport "github.com/MrEthical07/glidauth/metrics/export/prometheus"
	"github.com/MrEthical07/glidauth/notify"
)

const (
	connectAttempts = 6
	shutdownTimeout = 15 * time.Second
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd(configFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*configFile, cmd.Flags())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg)
		},
	}
	registerFlags(cmd.Flags())
	return cmd
}

func runServe(ctx context.Context, cfg *daemonConfig) error {
	if err := cfg.Validate(); err != nil {
		return oops.Code("CONFIG_INVALID").Wrap(err)
	}
	engineCfg, err := cfg.engineConfig()
	if err != nil {
		return err
	}

	logger := logging.SetupWithOptions("glidauthd", version, cfg.Log.Format, os.Stderr,
		logging.Options{Level: logging.ParseLevel(cfg.Log.Level)})
	slog.SetDefault(logger)

	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    cfg.Redis.Addrs,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	if err := waitFor(ctx, logger, "redis", func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}); err != nil {
		return oops.Code("REDIS_CONNECT_FAILED").Wrap(err)
	}

	dir, closeDir, err := openDirectory(ctx, logger, cfg)
	if err != nil {
		return err
	}
	defer closeDir()

	engine, err := glidauth.New().
		WithConfig(engineCfg).
		WithRedis(rdb).
		WithDirectory(dir).
		WithNotifier(&notify.LogNotifier{Logger: logger.With("component", "notifier"), IncludeSecrets: cfg.Notify.LogSecrets}).
		WithAuditSink(glidauth.NewSlogSink(logger)).
		WithLogger(logger).
		Build()
	if err != nil {
		return oops.Code("ENGINE_INIT_FAILED").Wrap(err)
	}
	defer engine.Close()

	var ready atomic.Bool
	opts := httpapi.Options{Logger: logger, TrustProxy: cfg.TrustProxy}

	var obs *observability.Server
	if cfg.MetricsAddr != "" {
		obs = observability.NewServer(cfg.MetricsAddr, logger, ready.Load, promexport.NewCollector(engine))
		opts.Recorder = obs.Metrics()
	}

	api := httpapi.New(engine, opts)

	errs := make(chan error, 2)
	if obs != nil {
		obsErrs, err := obs.Start()
		if err != nil {
			return oops.Code("OBSERVABILITY_START_FAILED").Wrap(err)
		}
		go func() {
			if err, ok := <-obsErrs; ok && err != nil {
				errs <- err
			}
		}()
	}
	go func() {
		if err := api.Start(cfg.Listen); err != nil {
			errs <- err
		}
	}()
	ready.Store(true)
	logger.Info("glidauthd started", "listen", cfg.Listen, "metrics_addr", cfg.MetricsAddr, "directory", cfg.Directory.Driver)

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case runErr = <-errs:
		logging.LogError(logger, "server failed", runErr)
	}
	ready.Store(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := api.Shutdown(shutdownCtx); err != nil {
		runErr = errors.Join(runErr, err)
	}
	if obs != nil {
		if err := obs.Stop(shutdownCtx); err != nil {
			runErr = errors.Join(runErr, err)
		}
	}
	return runErr
}

// waitFor retries ping with exponential backoff until it succeeds, the
// attempts run out or ctx ends.
func waitFor(ctx context.Context, logger *slog.Logger, name string, ping func(context.Context) error) error {
	backoff := retry.WithMaxRetries(connectAttempts-1, retry.NewExponential(250*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := ping(attemptCtx); err != nil {
			logger.Warn("dependency not ready", "dependency", name, "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
}

// openDirectory connects the configured user directory. The returned func
// releases its connections.
func openDirectory(ctx context.Context, logger *slog.Logger, cfg *daemonConfig) (directory.Directory, func(), error) {
	switch cfg.Directory.Driver {
	case "postgres":
		if cfg.Directory.AutoMigrate {
			if err := migrateUp(cfg.Directory.DSN); err != nil {
				return nil, nil, err
			}
		}
		var dir *dirpostgres.Directory
		var closePool func()
		err := waitFor(ctx, logger, "postgres", func(ctx context.Context) error {
			d, pool, err := dirpostgres.Open(ctx, cfg.Directory.DSN)
			if err != nil {
				return err
			}
			dir, closePool = d, pool.Close
			return nil
		})
		if err != nil {
			return nil, nil, oops.Code("DB_CONNECT_FAILED").Wrap(err)
		}
		return dir, closePool, nil

	case "mongo":
		var dir *dirmongo.Directory
		var disconnect func()
		err := waitFor(ctx, logger, "mongo", func(ctx context.Context) error {
			client, err := dirmongo.Connect(ctx, cfg.Directory.DSN)
			if err != nil {
				return err
			}
			dir = dirmongo.New(client, dirmongo.Config{Database: cfg.Directory.Database})
			disconnect = func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = client.Disconnect(ctx)
			}
			return nil
		})
		if err != nil {
			return nil, nil, oops.Code("DB_CONNECT_FAILED").Wrap(err)
		}
		if err := dir.EnsureIndexes(ctx); err != nil {
			disconnect()
			return nil, nil, oops.Code("DB_INDEX_FAILED").Wrap(err)
		}
		return dir, disconnect, nil

	default:
		logger.Warn("using the in-memory directory; users are lost on restart")
		return directory.NewMemory(), func() {}, nil
	}
}
