package routes

import (
	"net/http"

	"streetcount/internal/config"
	"streetcount/internal/handlers"
	"streetcount/internal/logger"
	"streetcount/internal/middleware"
	"streetcount/internal/repository"
	"streetcount/internal/services/batch"
	"streetcount/internal/services/websocket"
)

// Dependencies are the services the HTTP surface exposes. Repo may be nil
// when no database is configured.
type Dependencies struct {
	Config    *config.Config
	Logger    *logger.Logger
	Scheduler *batch.Scheduler
	Hub       *websocket.HubService
	Reports   handlers.ReportSource
	Repo      repository.BatchRepository
	KeepAlive handlers.KeepAlive // zero uses handlers.DefaultKeepAlive
}

// SetupRoutes registers the progress, control, report and log endpoints.
// Mutating endpoints are wrapped with the control token middleware.
func SetupRoutes(d Dependencies) http.Handler {
	mux := http.NewServeMux()
	protect := func(h http.HandlerFunc) http.Handler {
		return middleware.TokenMiddleware(d.Config.ControlToken, h)
	}

	// Progress and control
	mux.HandleFunc("GET /api/progress", handlers.ProgressHandler(d.Scheduler.Progress()))
	mux.HandleFunc("GET /api/progress/ws", handlers.ProgressWebsocketHandler(d.Scheduler.Progress(), d.Hub, d.KeepAlive, d.Logger))
	mux.Handle("POST /api/cancel", protect(handlers.CancelHandler(d.Scheduler, d.Logger)))

	// Reports
	mux.HandleFunc("GET /api/report", handlers.ReportHandler(d.Reports, d.Logger))
	if d.Repo != nil {
		mux.HandleFunc("GET /api/batches", handlers.ListBatchesHandler(d.Repo, d.Logger))
		mux.HandleFunc("GET /api/batches/{id}", handlers.GetBatchHandler(d.Repo, d.Logger))
		mux.HandleFunc("GET /api/images", handlers.ImageHistoryHandler(d.Repo, d.Logger))
	}

	// Log endpoints
	mux.HandleFunc("GET /logs/{level}", handlers.ShowLogsHandler(d.Logger))
	mux.Handle("POST /logs/{level}/clear", protect(handlers.ClearLogsHandler(d.Logger)))

	return mux
}
