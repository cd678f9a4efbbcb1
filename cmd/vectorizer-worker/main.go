// Package main is the entry point for the vectorizer worker, the process
// that runs the Supervisor loop over a Postgres catalog of vectorizers,
// claiming and embedding rows until told to stop.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/vectorpipe/embedworker/internal/api"
	"github.com/vectorpipe/embedworker/internal/catalog"
	"github.com/vectorpipe/embedworker/internal/config"
	"github.com/vectorpipe/embedworker/internal/embedprovider"
	"github.com/vectorpipe/embedworker/internal/metrics"
	"github.com/vectorpipe/embedworker/internal/observability"
	"github.com/vectorpipe/embedworker/internal/supervisor"
	"github.com/vectorpipe/embedworker/internal/tracking"
)

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("vectorizer-worker\nVersion: %s\nBuild Time: %s\nGit Commit: %s\n", version, buildTime, gitCommit)
		os.Exit(0)
	}

	logger := observability.NewStandardLoggerWithLevel("vectorizer-worker", observability.LogLevelInfo)
	logger.Info("starting vectorizer worker", map[string]interface{}{
		"version": version, "build_time": buildTime, "git_commit": gitCommit,
	})

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	if cfg.Service.LogLevel == "debug" {
		logger = observability.NewStandardLoggerWithLevel("vectorizer-worker", observability.LogLevelDebug)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	db, err := connectDatabase(ctx, cfg.Database, logger)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error("failed to close database connection", map[string]interface{}{"error": err.Error()})
		}
	}()

	cat := catalog.NewCatalog(db)
	factory := embedprovider.NewFactory(embedprovider.EnvSecretResolver)
	progress := &tracking.Progress{}
	tracker := tracking.New(db, logger)
	m := metrics.New()

	if err := tracker.Register(ctx); err != nil {
		logger.Error("failed to register worker", map[string]interface{}{"error": err.Error()})
	}

	heartbeatDone := make(chan struct{})
	go func() {
		tracker.Heartbeat(ctx, 15*time.Second, progress.Snapshot)
		close(heartbeatDone)
	}()

	sup := supervisor.New(db, cat, factory, progress, m, supervisor.Config{
		VectorizerIDs: cfg.Scheduler.VectorizerIDs,
		PollInterval:  cfg.Scheduler.PollInterval,
		Once:          cfg.Scheduler.Once,
		ExitOnError:   cfg.Scheduler.ExitOnError,
		BatchSize:     cfg.Processing.BatchSize,
		Concurrency:   cfg.Processing.Concurrency,
		MaxAttempts:   cfg.Processing.MaxAttempts,
		BackoffBase:   cfg.Processing.BackoffBase,
		BackoffCap:    cfg.Processing.BackoffCap,
	}, logger)

	supervisorDone := make(chan error, 1)
	go func() {
		supervisorDone <- sup.Run(ctx)
	}()

	statusServer := api.NewServer(db, cat, logger).Listen(fmt.Sprintf(":%d", cfg.Service.StatusPort))

	exitCode := 0
	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", map[string]interface{}{"signal": sig.String()})
	case err := <-supervisorDone:
		if err != nil {
			logger.Error("supervisor exited with error", map[string]interface{}{"error": err.Error()})
			exitCode = 1
		} else {
			logger.Info("supervisor completed (once mode)", nil)
		}
	}

	logger.Info("starting graceful shutdown", nil)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Service.ShutdownTimeout)
	defer shutdownCancel()

	cancel()

	if err := statusServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown status server", map[string]interface{}{"error": err.Error()})
	}

	<-heartbeatDone
	if err := tracker.Deregister(shutdownCtx); err != nil {
		logger.Error("failed to deregister worker", map[string]interface{}{"error": err.Error()})
	}

	logger.Info("shutdown complete", nil)
	os.Exit(exitCode)
}

// connectDatabase opens the Postgres pool with exponential-backoff retry,
// the way rag-loader's cmd/loader/main.go connectDatabase does.
func connectDatabase(ctx context.Context, cfg config.DatabaseConfig, logger observability.Logger) (*sqlx.DB, error) {
	const maxRetries = 10
	baseDelay := time.Second

	logger.Info("connecting to database", nil)

	var lastErr error
	for i := 0; i < maxRetries; i++ {
		db, err := sqlx.ConnectContext(ctx, "postgres", cfg.URL)
		if err == nil {
			db.SetMaxOpenConns(cfg.MaxConns)
			db.SetMaxIdleConns(cfg.MaxIdleConns)
			logger.Info("database connection established", nil)
			return db, nil
		}
		lastErr = err

		if i < maxRetries-1 {
			delay := baseDelay * (1 << uint(i))
			if delay > 30*time.Second {
				delay = 30 * time.Second
			}
			logger.Warn("database connection failed, retrying", map[string]interface{}{
				"attempt": i + 1, "max_attempts": maxRetries, "delay": delay.String(), "error": err.Error(),
			})
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, fmt.Errorf("failed to connect to database after %d attempts: %w", maxRetries, lastErr)
}
