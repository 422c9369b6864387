package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	mw "github.com/cklxx/tunehub/internal/api/middleware"
	"github.com/cklxx/tunehub/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	RateLimit *mw.RateLimit

	HealthHandler http.HandlerFunc

	CreateTraining        http.HandlerFunc
	CreateDatasetDownload http.HandlerFunc
	CreateModelDownload   http.HandlerFunc

	ListDatasetPresets http.HandlerFunc

	ListJobs  http.HandlerFunc
	GetJob    http.HandlerFunc
	CancelJob http.HandlerFunc
	DeleteJob http.HandlerFunc

	ListModels     http.HandlerFunc
	ListModelCache http.HandlerFunc
	EvictModel     http.HandlerFunc
	EvictAllModels http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public health check
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	r.Group(func(r chi.Router) {
		if deps.RateLimit != nil {
			r.Use(deps.RateLimit.Limit)
		}

		r.Post("/api/v1/training", orNotImplemented(deps.CreateTraining))
		r.Post("/api/v1/datasets/download", orNotImplemented(deps.CreateDatasetDownload))
		r.Get("/api/v1/datasets/presets", orNotImplemented(deps.ListDatasetPresets))
		r.Post("/api/v1/models/download", orNotImplemented(deps.CreateModelDownload))

		r.Get("/api/v1/jobs", orNotImplemented(deps.ListJobs))
		r.Get("/api/v1/jobs/{jobID}", orNotImplemented(deps.GetJob))
		r.Post("/api/v1/jobs/{jobID}/cancel", orNotImplemented(deps.CancelJob))
		r.Delete("/api/v1/jobs/{jobID}", orNotImplemented(deps.DeleteJob))

		r.Get("/api/v1/models", orNotImplemented(deps.ListModels))
		r.Get("/api/v1/models/cache", orNotImplemented(deps.ListModelCache))
		r.Delete("/api/v1/models/cache", orNotImplemented(deps.EvictAllModels))
		r.Delete("/api/v1/models/cache/{modelKey}", orNotImplemented(deps.EvictModel))
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
