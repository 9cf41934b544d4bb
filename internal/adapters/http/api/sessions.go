package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/okian/jasselo/internal/domain/model"
	"github.com/okian/jasselo/internal/domain/types"
)

// maxSessionBody bounds a POST /sessions body.
const maxSessionBody = 1 << 20

// SessionDependencies defines the interface for the live trigger and
// session reads.
type SessionDependencies interface {
	SubmitSession(ctx context.Context, s model.Session) (types.Ack, error)
	SessionHistory(ctx context.Context, sessionID string) (types.History, error)
}

// SessionsHandler handles session requests.
type SessionsHandler struct {
	deps SessionDependencies
}

// NewSessionsHandler creates a new sessions handler.
func NewSessionsHandler(deps SessionDependencies) *SessionsHandler {
	return &SessionsHandler{deps: deps}
}

// HandlePostSession handles POST /sessions: the "session completed"
// trigger. 202 accepted, 200 duplicate, 400 malformed, 429 queue full, 503
// rebuild in progress.
func (h *SessionsHandler) HandlePostSession(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_session"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req model.SessionPayload
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSessionBody))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	session, err := req.ToSession()
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}

	ack, err := h.deps.SubmitSession(r.Context(), session)
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	if ack.Duplicate {
		writeJSON(w, http.StatusOK, ack)
		return
	}
	writeJSON(w, http.StatusAccepted, ack)
}

// HandleGetSessionHistory handles GET /sessions/{sessionId}/history.
func (h *SessionsHandler) HandleGetSessionHistory(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_session_history"
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	id := strings.TrimSpace(r.PathValue("sessionId"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
		return
	}
	hist, err := h.deps.SessionHistory(r.Context(), id)
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, hist)
}
