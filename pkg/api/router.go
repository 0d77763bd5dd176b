// Package api is the HTTP surface: dataset upload, recommendation read-out,
// job status, health and metrics.
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ammar0144/recsync/pkg/pipeline"
	"github.com/ammar0144/recsync/pkg/redis"
)

// Recommender answers recommendation lookups
type Recommender interface {
	GetRecommendations(ctx context.Context, id int64) ([]int64, error)
}

// Notifier publishes events
type Notifier interface {
	Notify(ctx context.Context, event string, payload map[string]any) error
}

// JobTracker reports the status of launched jobs
type JobTracker interface {
	Status(jobID string) (pipeline.JobStatus, bool)
}

// CacheStats exposes cache counters
type CacheStats interface {
	GetSnapshot() redis.MetricsSnapshot
}

// HealthCheck probes one dependency
type HealthCheck func(ctx context.Context) error

// Dependencies are the collaborators of the HTTP handlers
type Dependencies struct {
	Recommender Recommender
	Bus         Notifier
	Jobs        JobTracker
	CacheStats  CacheStats
	Health      map[string]HealthCheck
}

// Handler is the HTTP adapter
type Handler struct {
	config Config
	deps   Dependencies
}

// NewHandler constructs the HTTP handler
func NewHandler(config Config, deps Dependencies) *Handler {
	return &Handler{config: config, deps: deps}
}

// NewRouter registers the routes and middleware stack
func NewRouter(handler *Handler) http.Handler {
	r := chi.NewRouter()
	useMiddleware(r)

	r.Get("/healthz", handler.healthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/file/upload_dataset/", handler.uploadDataset)
		r.Get("/recommendation/get_recommendation/", handler.getRecommendation)
		r.Get("/jobs/{job_id}", handler.jobStatus)
		r.Get("/cache/stats", handler.cacheStats)
	})

	return r
}
