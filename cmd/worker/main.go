// Package main implements the pre-viz worker process. It polls the queue for
// eligible tasks, dispatches each to the executor registered for its job
// kind, and reports outcomes back through the task service.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/XucroYuri/omni-director-pre-viz-sub001/internal/config"
	"github.com/XucroYuri/omni-director-pre-viz-sub001/internal/platform/logger"
	"github.com/XucroYuri/omni-director-pre-viz-sub001/internal/platform/postgres"
	"github.com/XucroYuri/omni-director-pre-viz-sub001/internal/service"
	"github.com/XucroYuri/omni-director-pre-viz-sub001/internal/worker"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Worker failed: %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	appLogger, err := logger.Setup(cfg.Server.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}

	db, err := sql.Open("pgx", cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to open database connection: %w", err)
	}
	defer func() { _ = db.Close() }()

	db.SetMaxOpenConns(cfg.Worker.Count + 2)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	appLogger.Info("Database connection established")

	taskService, err := service.NewTaskService(
		postgres.NewPostgresTaskStore(db),
		postgres.NewPostgresEpisodeStore(db),
		postgres.NewPostgresAuditLogStore(db),
		service.NewClock(),
		cfg.Queue,
		appLogger,
	)
	if err != nil {
		return fmt.Errorf("failed to create task service: %w", err)
	}

	registry := worker.NewRegistry()
	if err := registry.Register(worker.NoopExecutor{}); err != nil {
		return fmt.Errorf("failed to register executors: %w", err)
	}

	runner := worker.NewRunner(taskService, registry, worker.RunnerConfig{
		WorkerCount:  cfg.Worker.Count,
		PollInterval: cfg.Worker.PollInterval(),
	}, appLogger)

	runner.Start()

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)
	<-shutdownCh

	appLogger.Info("Shutting down worker...")
	runner.Stop()
	appLogger.Info("Worker shutdown completed")

	return nil
}
