package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/albapepper/scoracle-sim/internal/api/respond"
	"github.com/albapepper/scoracle-sim/internal/cache"
	"github.com/albapepper/scoracle-sim/internal/match"
	"github.com/albapepper/scoracle-sim/internal/schedule"
)

const defaultUpcoming = 10

// loadState fetches the schedule and active resolver, writing a 503 when
// either is unavailable.
func (h *Handler) loadState(w http.ResponseWriter, r *http.Request) (schedule.Config, *match.Resolver, bool) {
	cfg, err := schedule.Load(r.Context(), h.schedule)
	if err != nil {
		respond.WriteErrorDetail(w, http.StatusServiceUnavailable, "SCHEDULE_UNAVAILABLE",
			"Schedule configuration is not available", err.Error())
		return schedule.Config{}, nil, false
	}
	resolver := h.matches.Load()
	if resolver == nil {
		respond.WriteError(w, http.StatusServiceUnavailable, "MATCHES_UNAVAILABLE", "Match pool is not built yet")
		return schedule.Config{}, nil, false
	}
	return cfg, resolver, true
}

// GetSchedule returns the active schedule record and the current index.
// @Summary Get schedule
// @Description Returns the active schedule record and the index of the slot containing now.
// @Tags schedule
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 503 {object} respond.ErrorResponse
// @Router /api/v1/schedule [get]
func (h *Handler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	cfg, err := schedule.Load(r.Context(), h.schedule)
	if err != nil {
		respond.WriteErrorDetail(w, http.StatusServiceUnavailable, "SCHEDULE_UNAVAILABLE",
			"Schedule configuration is not available", err.Error())
		return
	}
	now := h.clock.Now()
	idx, err := schedule.IndexForTime(now, cfg)
	if err != nil {
		respond.WriteError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, map[string]any{
		"reference_epoch_ms": cfg.ReferenceEpochMillis,
		"interval_minutes":   cfg.IntervalMinutes,
		"timezone":           cfg.TimezoneLabel,
		"version":            cfg.Version,
		"updated_at":         cfg.UpdatedAt,
		"current_index":      idx,
		"now":                now.UTC().Format(time.RFC3339),
	})
}

// GetCurrentMatch returns the match whose slot contains now.
// @Summary Get current match
// @Tags matches
// @Produce json
// @Success 200 {object} match.Instance
// @Success 304 "Not modified"
// @Failure 503 {object} respond.ErrorResponse
// @Router /api/v1/matches/current [get]
func (h *Handler) GetCurrentMatch(w http.ResponseWriter, r *http.Request) {
	cfg, resolver, ok := h.loadState(w, r)
	if !ok {
		return
	}
	idx, err := schedule.IndexForTime(h.clock.Now(), cfg)
	if err != nil {
		respond.WriteError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
		return
	}
	h.writeMatch(w, r, cfg, resolver, idx)
}

// GetMatchByIndex returns the match at a schedule index.
// @Summary Get match by schedule index
// @Tags matches
// @Produce json
// @Param index path int true "Schedule index"
// @Success 200 {object} match.Instance
// @Success 304 "Not modified"
// @Failure 400 {object} respond.ErrorResponse
// @Failure 503 {object} respond.ErrorResponse
// @Router /api/v1/matches/{index} [get]
func (h *Handler) GetMatchByIndex(w http.ResponseWriter, r *http.Request) {
	idx, err := strconv.ParseInt(chi.URLParam(r, "index"), 10, 64)
	if err != nil || idx < 0 {
		respond.WriteError(w, http.StatusBadRequest, "INVALID_INDEX", "index must be a non-negative integer")
		return
	}
	cfg, resolver, ok := h.loadState(w, r)
	if !ok {
		return
	}
	h.writeMatch(w, r, cfg, resolver, idx)
}

// GetMatchByID resolves a match id back to its scheduled instance.
// @Summary Get match by id
// @Tags matches
// @Produce json
// @Param matchID path string true "Match id, league-<code>-week-<n>-match-<slot>-<home>-vs-<away>"
// @Success 200 {object} match.Instance
// @Failure 400 {object} respond.ErrorResponse
// @Failure 404 {object} respond.ErrorResponse
// @Router /api/v1/matches/id/{matchID} [get]
func (h *Handler) GetMatchByID(w http.ResponseWriter, r *http.Request) {
	cfg, resolver, ok := h.loadState(w, r)
	if !ok {
		return
	}
	m, err := resolver.ByID(chi.URLParam(r, "matchID"), cfg)
	switch {
	case errors.Is(err, match.ErrBadMatchID):
		respond.WriteErrorDetail(w, http.StatusBadRequest, "INVALID_MATCH_ID", "Malformed match id", err.Error())
		return
	case errors.Is(err, match.ErrUnknownMatch):
		respond.WriteError(w, http.StatusNotFound, "NOT_FOUND", "No such match in the schedule")
		return
	case err != nil:
		respond.WriteError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
		return
	}
	h.writeMatch(w, r, cfg, resolver, m.ScheduleIndex)
}

// GetUpcomingMatches returns the next n matches (default 10, at most 100).
// @Summary Get upcoming matches
// @Description Returns the matches in the next n slots, starting with the one after the current slot.
// @Tags matches
// @Produce json
// @Param n query int false "Number of matches (1-100, default 10)"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} respond.ErrorResponse
// @Router /api/v1/matches/upcoming [get]
func (h *Handler) GetUpcomingMatches(w http.ResponseWriter, r *http.Request) {
	n := defaultUpcoming
	if v := r.URL.Query().Get("n"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 || parsed > 100 {
			respond.WriteError(w, http.StatusBadRequest, "INVALID_N", "n must be between 1 and 100")
			return
		}
		n = parsed
	}

	cfg, resolver, ok := h.loadState(w, r)
	if !ok {
		return
	}
	matches, err := resolver.Upcoming(h.clock.Now(), cfg, n)
	if err != nil {
		respond.WriteError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, map[string]any{
		"count":   len(matches),
		"matches": matches,
	})
}

// writeMatch serves one resolved match through the cache. The key pins the
// schedule version and resolver generation, so a cached body is never stale.
func (h *Handler) writeMatch(w http.ResponseWriter, r *http.Request, cfg schedule.Config, resolver *match.Resolver, idx int64) {
	cacheKey := fmt.Sprintf("match:%d:%d:%s", idx, cfg.Version, resolver.Generation())
	ttl := cache.TTLMatch

	if data, etag, ok := h.cache.Get(cacheKey); ok {
		if cache.CheckETagMatch(r.Header.Get("If-None-Match"), etag) {
			respond.WriteNotModified(w, etag)
			return
		}
		respond.WriteJSON(w, data, etag, ttl, true)
		return
	}

	m, err := resolver.MatchAt(idx, cfg)
	if err != nil {
		respond.WriteError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
		return
	}
	raw, err := json.Marshal(m)
	if err != nil {
		respond.WriteError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
		return
	}

	etag := h.cache.Set(cacheKey, raw, ttl)
	if cache.CheckETagMatch(r.Header.Get("If-None-Match"), etag) {
		respond.WriteNotModified(w, etag)
		return
	}
	respond.WriteJSON(w, raw, etag, ttl, false)
}
