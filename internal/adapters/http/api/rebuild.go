package api

import (
	"context"
	"net/http"

	"github.com/okian/jasselo/internal/domain/rebuild"
	"github.com/okian/jasselo/internal/domain/types"
)

// RebuildDependencies defines the interface for the admin rebuild command.
type RebuildDependencies interface {
	StartRebuild(ctx context.Context, scope rebuild.Scope) (string, error)
	RebuildStatus() types.RebuildStatus
}

// RebuildHandler handles rebuild requests.
type RebuildHandler struct {
	deps RebuildDependencies
}

// NewRebuildHandler creates a new rebuild handler.
func NewRebuildHandler(deps RebuildDependencies) *RebuildHandler {
	return &RebuildHandler{deps: deps}
}

type rebuildStarted struct {
	RunID string `json:"runId"`
	Scope string `json:"scope"`
	State string `json:"state"`
}

// HandleRebuild handles POST /admin/rebuild?scope=all|group:<id> and GET
// /admin/rebuild.
func (h *RebuildHandler) HandleRebuild(w http.ResponseWriter, r *http.Request) {
	const op = "api.rebuild"
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, h.deps.RebuildStatus())
	case http.MethodPost:
		scope, err := rebuild.ParseScope(r.URL.Query().Get("scope"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
			return
		}
		runID, err := h.deps.StartRebuild(r.Context(), scope)
		if err != nil {
			writeFailure(w, op, err)
			return
		}
		writeJSON(w, http.StatusAccepted, rebuildStarted{RunID: runID, Scope: scope.String(), State: string(rebuild.StateResetting)})
	default:
		http.NotFound(w, r)
	}
}
