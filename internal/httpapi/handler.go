// Package httpapi is the thin HTTP CRUD surface the front-end uses for
// out-of-band account, agent-template, and session-history management — a
// secondary collaborator alongside the WebSocket gateway's `/ws/chat`
// realtime transport, which remains the canonical path for a live
// conversation turn. Handlers are intentionally thin: they validate input
// and delegate to [*store.Store] or the in-memory agent-template list,
// never duplicating the pipeline's turn-taking logic.
package httpapi

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/cnwinds/chatflow-nexus/internal/config"
	"github.com/cnwinds/chatflow-nexus/internal/store"
)

// envelope is the uniform response shape for every endpoint in this
// package (§6): code=0 is success, any other value is a caller-facing
// error code. HTTP status stays 200 except for auth failures (401) and
// transport-level errors.
type envelope struct {
	Code int    `json:"code"`
	Data any    `json:"data,omitempty"`
	Msg  string `json:"msg"`
}

// Handler serves the CRUD surface. Agent templates and auth tokens are
// held in a local, mutex-guarded snapshot rather than read through *config.Config
// directly, so mutations here don't race the config watcher's reload of the
// live *config.Config the gateway was constructed from (see [internal/app.App.StartWatcher]'s
// documented limitation: those edits still need a restart to reach the
// gateway, but httpapi's own view can accept writes immediately).
type Handler struct {
	mu         sync.RWMutex
	agents     map[string]config.AgentConfig
	authTokens map[string]struct{}

	store    *store.Store
	audioDir string
}

// New builds a Handler seeded from cfg's configured agent templates and
// bearer-token allowlist. Request-level tracing/metrics are not duplicated
// here — the caller wraps the whole mux, this package's routes included,
// with [observe.Middleware].
func New(cfg *config.Config, st *store.Store) *Handler {
	h := &Handler{
		agents:     make(map[string]config.AgentConfig, len(cfg.Agents)),
		authTokens: make(map[string]struct{}, len(cfg.Server.AuthTokens)),
		store:      st,
		audioDir:   cfg.Server.AudioDir,
	}
	for _, a := range cfg.Agents {
		h.agents[a.ID] = a
	}
	for _, t := range cfg.Server.AuthTokens {
		h.authTokens[t] = struct{}{}
	}
	return h
}

// Register adds every route this package serves to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /auth/login", h.handleLogin)
	mux.HandleFunc("POST /auth/register", h.handleRegister)
	mux.HandleFunc("GET /auth/me", h.requireAuth(h.handleMe))

	mux.HandleFunc("GET /agents", h.requireAuth(h.handleListAgents))
	mux.HandleFunc("POST /agents", h.requireAuth(h.handleCreateAgent))
	mux.HandleFunc("GET /agents/templates", h.requireAuth(h.handleListAgents))
	mux.HandleFunc("GET /agents/{id}", h.requireAuth(h.handleGetAgent))
	mux.HandleFunc("PUT /agents/{id}", h.requireAuth(h.handleUpdateAgent))
	mux.HandleFunc("DELETE /agents/{id}", h.requireAuth(h.handleDeleteAgent))

	mux.HandleFunc("GET /sessions", h.requireAuth(h.handleListSessions))
	mux.HandleFunc("POST /sessions", h.requireAuth(h.handleCreateSession))
	mux.HandleFunc("GET /sessions/{id}/messages", h.requireAuth(h.handleSessionMessages))
	mux.HandleFunc("DELETE /sessions/{id}", h.requireAuth(h.handleDeleteSession))

	mux.HandleFunc("GET /voices", h.requireAuth(h.handleListVoices))
	mux.HandleFunc("POST /voices", h.requireAuth(h.handleCreateVoice))
	mux.HandleFunc("DELETE /voices/{id}", h.requireAuth(h.handleDeleteVoice))
}

func writeEnvelope(w http.ResponseWriter, status, code int, data any, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Code: code, Data: data, Msg: msg})
}

func writeOK(w http.ResponseWriter, data any) {
	writeEnvelope(w, http.StatusOK, 0, data, "ok")
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeEnvelope(w, http.StatusOK, code, nil, msg)
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	writeEnvelope(w, http.StatusUnauthorized, 401, nil, msg)
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
