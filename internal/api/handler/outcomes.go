package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/albapepper/scoracle-sim/internal/api/respond"
	"github.com/albapepper/scoracle-sim/internal/cache"
	"github.com/albapepper/scoracle-sim/internal/match"
)

// GetOutcome returns the stored outcome of a match. Outcomes are only
// served once published; the oracle is never consulted here, so a match
// that has not been played cannot be peeked at.
// @Summary Get match outcome
// @Tags outcomes
// @Produce json
// @Param matchID path string true "Match id"
// @Success 200 {object} outcome.Record
// @Failure 400 {object} respond.ErrorResponse
// @Failure 404 {object} respond.ErrorResponse
// @Router /api/v1/outcomes/{matchID} [get]
func (h *Handler) GetOutcome(w http.ResponseWriter, r *http.Request) {
	matchID := chi.URLParam(r, "matchID")
	if _, err := match.ParseID(matchID); err != nil {
		respond.WriteErrorDetail(w, http.StatusBadRequest, "INVALID_MATCH_ID", "Malformed match id", err.Error())
		return
	}

	cacheKey := "outcome:" + matchID
	ttl := cache.TTLOutcome
	if data, etag, ok := h.cache.Get(cacheKey); ok {
		if cache.CheckETagMatch(r.Header.Get("If-None-Match"), etag) {
			respond.WriteNotModified(w, etag)
			return
		}
		respond.WriteJSON(w, data, etag, ttl, true)
		return
	}

	rec, ok, err := h.outcomes.Get(r.Context(), matchID)
	if err != nil {
		respond.WriteError(w, http.StatusInternalServerError, "INTERNAL", "Failed to load outcome")
		return
	}
	if !ok {
		respond.WriteError(w, http.StatusNotFound, "NOT_FOUND", "No outcome published for "+matchID)
		return
	}

	raw, err := json.Marshal(rec)
	if err != nil {
		respond.WriteError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
		return
	}
	if !rec.IsFinal {
		respond.WriteJSON(w, raw, cache.ComputeETag(raw), 0, false)
		return
	}
	etag := h.cache.Set(cacheKey, raw, ttl)
	respond.WriteJSON(w, raw, etag, ttl, false)
}
