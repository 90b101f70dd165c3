package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/XucroYuri/omni-director-pre-viz-sub001/internal/config"
	"github.com/XucroYuri/omni-director-pre-viz-sub001/internal/platform/postgres"
	"github.com/XucroYuri/omni-director-pre-viz-sub001/internal/service"
	"github.com/XucroYuri/omni-director-pre-viz-sub001/internal/service/auth"
	"github.com/XucroYuri/omni-director-pre-viz-sub001/internal/store"
)

// application holds all the shared server dependencies to simplify management
// and ensure proper cleanup on shutdown.
type application struct {
	config *config.Config
	logger *slog.Logger
	db     *sql.DB

	taskStore    store.TaskStore
	auditStore   store.AuditLogStore
	episodeStore store.EpisodeStore

	jwtService    auth.JWTService
	authenticator *auth.Authenticator

	taskService  *service.TaskService
	auditService *service.AuditService
}

// newApplication creates a new application instance with all dependencies
// initialized. The configuration, logger, and database connection must be
// established before application initialization.
func newApplication(cfg *config.Config, logger *slog.Logger, db *sql.DB) (*application, error) {
	app := &application{
		config: cfg,
		logger: logger,
		db:     db,
	}

	var err error
	app.jwtService, err = auth.NewJWTService(cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize JWT service: %w", err)
	}
	logger.Info("JWT authentication service initialized",
		"token_lifetime_minutes", cfg.Auth.TokenLifetimeMinutes,
		"credentials", len(cfg.Auth.Credentials))

	app.authenticator, err = auth.NewAuthenticator(cfg.Auth, auth.NewBcryptVerifier(), app.jwtService)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize authenticator: %w", err)
	}

	app.taskStore = postgres.NewPostgresTaskStore(db)
	app.auditStore = postgres.NewPostgresAuditLogStore(db)
	app.episodeStore = postgres.NewPostgresEpisodeStore(db)

	app.taskService, err = service.NewTaskService(
		app.taskStore,
		app.episodeStore,
		app.auditStore,
		service.NewClock(),
		cfg.Queue,
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create task service: %w", err)
	}

	app.auditService, err = service.NewAuditService(
		app.auditStore,
		service.NewClock(),
		cfg.Queue,
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create audit service: %w", err)
	}

	logger.Info("Application initialized successfully")
	return app, nil
}

// Run starts the application server, handling lifecycle and cleanup.
func (app *application) Run(ctx context.Context) error {
	router := app.setupRouter()

	if err := app.startHTTPServer(ctx, router); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// cleanup handles graceful shutdown of application resources.
func (app *application) cleanup() {
	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("Error closing database connection", "error", err)
		}
	}

	app.logger.Info("Application shutdown completed")
}
