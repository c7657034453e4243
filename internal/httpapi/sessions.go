package httpapi

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
)

const defaultSessionListLimit = 50
const defaultMessageListLimit = 200

// createSessionRequest optionally pins the new session to an agent so the
// client can immediately open a `/ws/chat` connection with a known
// client_id/session_id pair instead of letting the hello handshake mint one.
type createSessionRequest struct {
	AgentID string `json:"agent_id"`
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	limit := defaultSessionListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	sessions, err := h.store.ListSessions(r.Context(), limit)
	if err != nil {
		writeError(w, 500, err.Error())
		return
	}
	writeOK(w, sessions)
}

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	_ = decodeJSON(r, &req) // agent_id is optional; a malformed body just yields one unset

	sessionID := uuid.NewString()
	writeOK(w, map[string]string{"session_id": sessionID, "agent_id": req.AgentID})
}

func (h *Handler) handleSessionMessages(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	limit := defaultMessageListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	messages, err := h.store.MessagesBySession(r.Context(), id, limit)
	if err != nil {
		writeError(w, 500, err.Error())
		return
	}
	writeOK(w, messages)
}

func (h *Handler) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := h.store.DeleteSession(r.Context(), id); err != nil {
		writeError(w, 500, err.Error())
		return
	}
	writeOK(w, nil)
}
