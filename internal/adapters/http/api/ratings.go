package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/okian/jasselo/internal/domain/types"
)

// RatingDependencies defines the interface for player reads.
type RatingDependencies interface {
	Rating(ctx context.Context, playerID string) (types.RatingView, error)
	PlayerHistory(ctx context.Context, playerID string, limit int) (types.History, error)
}

// RatingsHandler handles rating requests.
type RatingsHandler struct {
	deps RatingDependencies
}

// NewRatingsHandler creates a new ratings handler.
func NewRatingsHandler(deps RatingDependencies) *RatingsHandler {
	return &RatingsHandler{deps: deps}
}

// HandleGetRating handles GET /ratings/{playerId}.
func (h *RatingsHandler) HandleGetRating(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_rating"
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	id := strings.TrimSpace(r.PathValue("playerId"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
		return
	}
	view, err := h.deps.Rating(r.Context(), id)
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// HandleGetHistory handles GET /ratings/{playerId}/history?limit=N. Without
// a limit the whole timeline is returned.
func (h *RatingsHandler) HandleGetHistory(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_rating_history"
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	id := strings.TrimSpace(r.PathValue("playerId"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
		return
	}
	limit, err := queryLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
		return
	}
	hist, err := h.deps.PlayerHistory(r.Context(), id, limit)
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, hist)
}
