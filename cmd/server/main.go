/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the fuel stock server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load config (.env + environment), then apply command-line flags
  2. Build the zap logger
  3. Open the store (SQLite file/":memory:" or PostgreSQL)
  4. Pick the tank locker (Redis when REDIS_ADDR is set, else in-process)
  5. Build the engine, load the tank seed file if configured
  6. Start the discrepancy scheduler and the HTTP server

COMMAND-LINE FLAGS (override the environment):
  -port     HTTP server port
  -driver   sqlite3 | pgx
  -db       SQLite path or PostgreSQL URL
  -tanks    JSON tank seed file
  -token    print a bearer token for the given actor and exit

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close Redis and the database
  5. Exit

EXAMPLES:
  # Local SQLite
  ./server -db="./data/fuel.db"

  # PostgreSQL with Redis locks
  DB_DRIVER=pgx DB_DSN=postgres://fuel@localhost/fuel REDIS_ADDR=localhost:6379 ./server

  # Operator token
  AUTH_SECRET=... ./server -token=op-7

SEE ALSO:
  - config/config.go: Environment variables
  - api/server.go: Router configuration
  - store/sqldb/sqldb.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/warp/fuelstock/api"
	"github.com/warp/fuelstock/config"
	"github.com/warp/fuelstock/fuel"
	"github.com/warp/fuelstock/lock"
	"github.com/warp/fuelstock/store/sqldb"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	// Flags
	port := flag.Int("port", cfg.Port, "HTTP server port")
	driver := flag.String("driver", cfg.Driver, "database driver (sqlite3 or pgx)")
	dsn := flag.String("db", cfg.DSN, "SQLite path or PostgreSQL URL")
	tanksFile := flag.String("tanks", cfg.TanksFile, "JSON tank seed file")
	tokenFor := flag.String("token", "", "print a bearer token for this actor and exit")
	flag.Parse()

	cfg.Port, cfg.Driver, cfg.DSN, cfg.TanksFile = *port, *driver, *dsn, *tanksFile
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	if *tokenFor != "" {
		token, err := api.IssueToken(cfg.AuthSecret, *tokenFor, "", 12*time.Hour)
		if err != nil {
			fmt.Fprintf(os.Stderr, "token: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(token)
		return
	}

	logger, err := config.NewLogger(cfg.Env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx := context.Background()

	// Initialize store
	store, err := sqldb.Open(ctx, cfg.Driver, cfg.DSN)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	// Tank locks
	var locker fuel.TankLocker = fuel.NewLocalLocker()
	if cfg.RedisAddr != "" {
		redisLocker, rdb, err := lock.Connect(ctx, lock.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      cfg.LockTTL,
		}, logger.Named("lock"))
		if err != nil {
			return err
		}
		defer rdb.Close()
		locker = redisLocker
		logger.Info("using redis tank locks", zap.String("addr", cfg.RedisAddr))
	}

	engine, err := fuel.NewEngine(fuel.Options{
		Store:             store,
		Notifications:     store,
		Audit:             store,
		Locker:            locker,
		Logger:            logger,
		AlertThreshold:    cfg.AlertThreshold,
		RecoveryThreshold: cfg.RecoveryThreshold,
		Tolerance:         cfg.DiscrepancyTolerance,
	})
	if err != nil {
		return err
	}

	if cfg.TanksFile != "" {
		n, err := engine.Tanks.LoadTankSeed(ctx, cfg.TanksFile)
		if err != nil {
			return err
		}
		logger.Info("tank seed loaded", zap.String("file", cfg.TanksFile), zap.Int("created", n))
	}

	handler := api.NewHandler(engine, store, logger.Named("api"))
	router := api.NewRouter(handler, api.RouterOptions{
		AllowedOrigins: cfg.AllowedOrigins,
		AuthSecret:     cfg.AuthSecret,
		AllowReset:     !cfg.Production(),
	})
	if cfg.AuthSecret == "" {
		logger.Warn("AUTH_SECRET not set; trusting the " + api.ActorHeader + " header")
	}

	scheduler := api.NewReconciliationScheduler(engine, logger)
	scheduler.CheckInterval = cfg.ReconcileInterval
	scheduler.Start()
	defer scheduler.Stop()

	server := &http.Server{
		Addr:         cfg.Address(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("addr", server.Addr),
			zap.String("driver", cfg.Driver),
			zap.String("env", cfg.Env))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errc:
		return err
	case sig := <-quit:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}
