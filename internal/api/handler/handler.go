// Package handler provides HTTP handlers for all API endpoints.
// Handlers call the schedule, match and outcome packages directly; there is
// no service layer. Anything derived from a fixed schedule version and
// resolver generation is cached with an ETag.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/albapepper/scoracle-sim/internal/api/respond"
	"github.com/albapepper/scoracle-sim/internal/cache"
	"github.com/albapepper/scoracle-sim/internal/match"
	"github.com/albapepper/scoracle-sim/internal/outcome"
	"github.com/albapepper/scoracle-sim/internal/schedule"
)

// HealthChecker is satisfied by *db.Pool.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps are the handler's collaborators. DB may be nil when running without
// Postgres.
type Deps struct {
	Schedule schedule.Store
	Matches  *match.Holder
	Outcomes outcome.Store
	DB       HealthChecker
	Cache    *cache.Cache
	Clock    clock.Clock
}

// Handler holds shared dependencies for all endpoint handlers.
type Handler struct {
	schedule schedule.Store
	matches  *match.Holder
	outcomes outcome.Store
	db       HealthChecker
	cache    *cache.Cache
	clock    clock.Clock
}

// New creates a Handler with shared dependencies.
func New(d Deps) *Handler {
	if d.Cache == nil {
		d.Cache = cache.New(false, 0)
	}
	if d.Clock == nil {
		d.Clock = clock.New()
	}
	return &Handler{
		schedule: d.Schedule,
		matches:  d.Matches,
		outcomes: d.Outcomes,
		db:       d.DB,
		cache:    d.Cache,
		clock:    d.Clock,
	}
}

// Root serves API info at /.
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSONObject(w, http.StatusOK, map[string]any{
		"name":    "Scoracle Sim API",
		"version": "1.0.0",
		"status":  "running",
		"endpoints": []string{
			"GET /api/v1/schedule",
			"GET /api/v1/matches/current",
			"GET /api/v1/matches/upcoming?n=",
			"GET /api/v1/matches/{index}",
			"GET /api/v1/matches/id/{matchID}",
			"GET /api/v1/outcomes/{matchID}",
			"GET /health",
			"GET /health/db",
			"GET /health/cache",
			"GET /metrics",
			"GET /docs/",
		},
	})
}

// HealthCheck returns basic health status.
// @Summary Health check
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /health [get]
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSONObject(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": h.clock.Now().UTC().Format(time.RFC3339),
	})
}

// HealthCheckDB verifies database connectivity.
// @Summary Database health check
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 503 {object} map[string]interface{}
// @Router /health/db [get]
func (h *Handler) HealthCheckDB(w http.ResponseWriter, r *http.Request) {
	if h.db == nil {
		respond.WriteJSONObject(w, http.StatusOK, map[string]any{
			"status":    "healthy",
			"database":  "not configured",
			"timestamp": h.clock.Now().UTC().Format(time.RFC3339),
		})
		return
	}
	if err := h.db.HealthCheck(r.Context()); err != nil {
		respond.WriteJSONObject(w, http.StatusServiceUnavailable, map[string]any{
			"status":    "unhealthy",
			"database":  "disconnected",
			"error":     "Database connection check failed",
			"timestamp": h.clock.Now().UTC().Format(time.RFC3339),
		})
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"database":  "connected",
		"timestamp": h.clock.Now().UTC().Format(time.RFC3339),
	})
}

// HealthCheckCache returns cache statistics.
func (h *Handler) HealthCheckCache(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSONObject(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"cache":     h.cache.Stats(),
		"timestamp": h.clock.Now().UTC().Format(time.RFC3339),
	})
}
