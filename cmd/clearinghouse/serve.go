package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Mindburn-Labs/clearinghouse/pkg/api"
	"github.com/Mindburn-Labs/clearinghouse/pkg/config"
	"github.com/Mindburn-Labs/clearinghouse/pkg/ingest"
	"github.com/Mindburn-Labs/clearinghouse/pkg/objectstore"
	"github.com/Mindburn-Labs/clearinghouse/pkg/observability"
)

func runServeCmd(args []string, _, stderr io.Writer) int {
	cmd := flag.NewFlagSet("serve", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Configuration error: %v\n", err)
		return 1
	}

	logger := cfg.Log.NewLogger(stderr)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg, logger); err != nil {
		logger.Error("clearinghouse stopped", "error", err)
		return 1
	}
	return 0
}

// serve runs the poll loop and the health server until ctx is cancelled.
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	logger.Info("starting clearinghouse", "config", cfg)

	db, lgr, err := openLedger(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("database setup failed: %w", err)
	}
	defer func() { _ = db.Close() }()

	store, err := objectstore.NewFromConfig(ctx, objectstore.Config{
		Type:     objectstore.StoreType(cfg.Storage.Type),
		Bucket:   cfg.Storage.Bucket,
		Region:   cfg.Storage.Region,
		Endpoint: cfg.Storage.Endpoint,
		Prefix:   cfg.Storage.Prefix,
		FSRoot:   cfg.Storage.FSRoot,
	})
	if err != nil {
		return fmt.Errorf("object store setup failed: %w", err)
	}
	if c, ok := store.(io.Closer); ok {
		defer func() { _ = c.Close() }()
	}

	obsCfg := observability.DefaultConfig()
	obsCfg.Enabled = cfg.Telemetry.Enabled
	obsCfg.OTLPEndpoint = cfg.Telemetry.Endpoint
	obsCfg.Insecure = cfg.Telemetry.Insecure
	obs, err := observability.New(ctx, obsCfg)
	if err != nil {
		return fmt.Errorf("observability setup failed: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := obs.Shutdown(shutdownCtx); err != nil {
			logger.Warn("observability shutdown failed", "error", err)
		}
	}()

	procOpts := []ingest.ProcessorOption{
		ingest.WithProcessorLogger(logger.With("component", "ingest")),
		ingest.WithObservability(obs),
	}
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		defer func() { _ = client.Close() }()
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis unreachable at %s: %w", cfg.Redis.Addr, err)
		}
		procOpts = append(procOpts, ingest.WithLocker(ingest.NewRedisLocker(client, cfg.Redis.LockTTL)))
		logger.Info("per-key locking via redis", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.LockTTL.String())
	}

	processor := ingest.NewProcessor(store, lgr, procOpts...)
	poller := ingest.NewPoller(store, processor, lgr, ingest.PollerConfig{
		Interval: cfg.Ingest.PollInterval,
		Throttle: cfg.Ingest.Throttle,
		Suffixes: cfg.Ingest.PayloadSuffixes,
	},
		ingest.WithPollerLogger(logger.With("component", "poller")),
		ingest.WithPollerObservability(obs),
	)

	healthDB, pinger, err := openHealthDB(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = healthDB.Close() }()

	health := api.NewHealthHandler(pinger, store, 5*time.Second, logger)
	srv := api.NewServer(cfg.Server.HealthAddr, health.Routes(), logger)

	// A failing health server stops the poll loop too.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	srvErr := make(chan error, 1)
	go func() {
		err := srv.ListenAndServe(runCtx)
		if err != nil {
			cancel()
		}
		srvErr <- err
	}()

	pollErr := poller.Run(runCtx)
	cancel()
	if err := <-srvErr; err != nil {
		return fmt.Errorf("health server: %w", err)
	}
	if pollErr != nil {
		return pollErr
	}
	logger.Info("clearinghouse stopped")
	return nil
}
