package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/XucroYuri/omni-director-pre-viz-sub001/internal/api"
	apiMiddleware "github.com/XucroYuri/omni-director-pre-viz-sub001/internal/api/middleware"
)

// setupRouter creates and configures the application router with all routes
// and middleware.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.TraceMiddleware)

	authHandler := api.NewAuthHandler(app.authenticator)
	authMiddleware := apiMiddleware.NewAuthMiddleware(app.jwtService)

	taskHandler := api.NewTaskHandler(app.taskService)
	opsHandler := api.NewOpsHandler(app.taskService, app.auditService, app.config.Queue)
	auditHandler := api.NewAuditHandler(app.auditService)

	r.Route("/api", func(r chi.Router) {
		// Authentication endpoint (public)
		r.Post("/auth/login", authHandler.Login)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.Authenticate)

			// Task lifecycle
			r.Post("/tasks", taskHandler.Create)
			r.Get("/tasks", taskHandler.List)
			r.Get("/tasks/{id}", taskHandler.Get)
			r.Post("/tasks/{id}/report", taskHandler.Report)
			r.Post("/tasks/{id}/cancel", taskHandler.Cancel)
			r.Post("/tasks/{id}/retry", taskHandler.Retry)
			r.Post("/tasks/claim", taskHandler.Claim)

			// Dead-letter remediation
			r.Get("/dead-letters", opsHandler.ListDeadLetters)
			r.Get("/dead-letters/preview", opsHandler.PreviewDeadLetters)
			r.Post("/dead-letters/retry", opsHandler.BulkRetry)

			// Audit log
			r.Get("/audit-logs", auditHandler.List)
			r.Get("/audit-logs/export", auditHandler.Export)
			r.Post("/audit-logs/prune", auditHandler.Prune)
			r.Get("/audit-logs/recent", auditHandler.Recent)
		})
	})

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			app.logger.Error("Failed to write health check response", "error", err)
		}
	})

	return r
}
