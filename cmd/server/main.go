/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the fiscal reconciliation engine. Handles
  configuration, dependency injection, leader-loop startup, and
  graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (config.toml + FISCAL_* env vars)
  2. Build the zap logger
  3. Open the SQLite ledger store
  4. Pick the lease backend (Redis if configured, SQLite otherwise)
  5. Build provider clients, event bus, and workers
  6. Start the leader loop (repair pass, then schedule pass)
  7. Start the HTTP server

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections, drain active requests (30s)
  2. Stop the leader loop (waits for an in-flight pass to finish)
  3. Close the fiscal client and the database connection
  4. Exit

SEE ALSO:
  - config/config.go: configuration keys and defaults
  - api/server.go: routing
  - cluster/loop.go: leader loop mechanics
*/
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/kbeggemot/fiscal-engine/api"
	"github.com/kbeggemot/fiscal-engine/bus"
	"github.com/kbeggemot/fiscal-engine/cluster"
	"github.com/kbeggemot/fiscal-engine/config"
	"github.com/kbeggemot/fiscal-engine/fiscal"
	"github.com/kbeggemot/fiscal-engine/payout"
	"github.com/kbeggemot/fiscal-engine/store/sqlite"
	"github.com/kbeggemot/fiscal-engine/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := buildLogger(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	// Ledger store
	store, err := sqlite.New(cfg.DB.Path)
	if err != nil {
		logger.Fatal("failed to open database", zap.String("path", cfg.DB.Path), zap.Error(err))
	}
	defer store.Close()

	// Lease backend. The SQLite lease is strict only between processes
	// sharing one database file; multi-host deployments must set
	// redis.addr.
	var lease cluster.Lease = store
	if cfg.Redis.Addr != "" {
		rl, err := cluster.DialRedisLease(context.Background(), cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.LeaseKey)
		if err != nil {
			logger.Fatal("failed to connect to redis", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}
		lease = rl
		logger.Info("using redis leader lease", zap.String("addr", cfg.Redis.Addr))
	} else {
		logger.Info("using sqlite leader lease", zap.String("path", cfg.DB.Path))
	}

	// Provider clients
	fiscalClient := fiscal.New(fiscal.Config{
		BaseURL:  cfg.Fiscal.BaseURL,
		Login:    cfg.Fiscal.Login,
		Password: cfg.Fiscal.Password,
		Timeout:  cfg.Fiscal.Timeout,
	}, logger.Named("fiscal"))
	defer fiscalClient.Close()

	payoutClient := payout.New(payout.Config{
		BaseURL: cfg.Payout.BaseURL,
		Token:   cfg.Payout.Token,
		Timeout: cfg.Payout.Timeout,
	})
	defer payoutClient.Close()

	// Event bus and workers
	events := bus.New()

	repair := &worker.Repair{
		Ledger:      store,
		Fiscal:      fiscalClient,
		Bus:         events,
		Log:         logger.Named("repair"),
		Concurrency: cfg.Worker.Concurrency,
	}
	schedule := &worker.Schedule{
		Ledger:      store,
		Fiscal:      fiscalClient,
		Bus:         events,
		Log:         logger.Named("schedule"),
		OffsetDelay: cfg.Worker.OffsetDelay,
		Concurrency: cfg.Worker.Concurrency,
	}
	poller := &worker.Poller{
		Ledger: store,
		Payout: payoutClient,
		Bus:    events,
		Log:    logger.Named("withdrawal"),
	}

	loop := cluster.NewLeaderLoop(lease, cluster.LoopConfig{
		Interval:    cfg.Worker.Interval,
		TTL:         cfg.Worker.LeaseTTL,
		PassTimeout: cfg.Worker.PassTimeout,
	}, logger.Named("loop"), repair, schedule)
	loop.Start()

	// HTTP surface
	handler := &api.Handler{
		Ledger: store,
		Repair: repair,
		Poller: poller,
		Loop:   loop,
		Bus:    events,
		Log:    logger.Named("api"),
	}
	router := api.NewRouter(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.App.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", zap.Int("port", cfg.App.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	loop.Stop()

	logger.Info("server stopped")
}

func buildLogger(cfg config.LogConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	zc.Level = level
	return zc.Build()
}
