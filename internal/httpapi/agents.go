package httpapi

import (
	"net/http"
	"sort"

	"github.com/cnwinds/chatflow-nexus/internal/config"
	"github.com/google/uuid"
)

func (h *Handler) handleListAgents(w http.ResponseWriter, _ *http.Request) {
	h.mu.RLock()
	list := make([]config.AgentConfig, 0, len(h.agents))
	for _, a := range h.agents {
		list = append(list, a)
	}
	h.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	writeOK(w, list)
}

func (h *Handler) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	h.mu.RLock()
	agent, ok := h.agents[id]
	h.mu.RUnlock()
	if !ok {
		writeError(w, 404, "agent not found")
		return
	}
	writeOK(w, agent)
}

func (h *Handler) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	var agent config.AgentConfig
	if err := decodeJSON(r, &agent); err != nil {
		writeError(w, 1, "invalid request body")
		return
	}
	if agent.ID == "" {
		agent.ID = uuid.NewString()
	}

	h.mu.Lock()
	if _, exists := h.agents[agent.ID]; exists {
		h.mu.Unlock()
		writeError(w, 409, "agent id already exists")
		return
	}
	h.agents[agent.ID] = agent
	h.mu.Unlock()

	writeOK(w, agent)
}

func (h *Handler) handleUpdateAgent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var agent config.AgentConfig
	if err := decodeJSON(r, &agent); err != nil {
		writeError(w, 1, "invalid request body")
		return
	}
	agent.ID = id

	h.mu.Lock()
	if _, ok := h.agents[id]; !ok {
		h.mu.Unlock()
		writeError(w, 404, "agent not found")
		return
	}
	h.agents[id] = agent
	h.mu.Unlock()

	writeOK(w, agent)
}

func (h *Handler) handleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	h.mu.Lock()
	if _, ok := h.agents[id]; !ok {
		h.mu.Unlock()
		writeError(w, 404, "agent not found")
		return
	}
	delete(h.agents, id)
	h.mu.Unlock()

	writeOK(w, nil)
}
