package httpx

import (
	"log/slog"
	"net/http"

	"github.com/target/mmk-jobqueue/internal/service"
)

// RouterServices holds all the services needed by the HTTP router.
type RouterServices struct {
	Jobs *service.JobService
	// Metrics serves /metrics when set.
	Metrics http.Handler
	// ReadyChecks back /readyz; /readyz always answers 200 when empty.
	ReadyChecks map[string]ReadyCheck
	Logger      *slog.Logger
}

// NewRouter creates and configures the HTTP router with its middleware chain.
func NewRouter(services RouterServices) http.Handler {
	logger := services.Logger
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()

	registerJobRoutes(mux, &JobHandlers{Svc: services.Jobs, Logger: logger})
	mux.Handle("GET /healthz", http.HandlerFunc(healthHandler))
	mux.Handle("HEAD /healthz", http.HandlerFunc(healthHandler))
	mux.Handle("GET /readyz", readyHandler(services.ReadyChecks))
	if services.Metrics != nil {
		mux.Handle("GET /metrics", services.Metrics)
	}

	return Chain(mux, Recover(logger), Tenant(), Logging(logger))
}

func registerJobRoutes(mux *http.ServeMux, h *JobHandlers) {
	mux.HandleFunc("POST /api/jobs", h.Submit)
	mux.HandleFunc("GET /api/jobs/{id}", h.Get)
	mux.HandleFunc("GET /api/jobs/status/{status}", h.ListByStatus)
	mux.HandleFunc("GET /api/dashboard/stats", h.DashboardStats)
	mux.HandleFunc("GET /api/dashboard/jobs", h.DashboardJobs)
}
