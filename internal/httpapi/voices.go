package httpapi

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// createVoiceRequest carries a voice clone upload. Samples are
// base64-encoded audio files in a provider-supported encoding (WAV/MP3);
// the background trainer submits them to the named TTS module verbatim.
type createVoiceRequest struct {
	Name     string   `json:"name"`
	Provider string   `json:"provider"`
	AgentID  string   `json:"agent_id"`
	Samples  []string `json:"samples"`
}

func (h *Handler) handleListVoices(w http.ResponseWriter, r *http.Request) {
	clones, err := h.store.ListVoiceClones(r.Context(), voiceOwner(r))
	if err != nil {
		writeError(w, 500, err.Error())
		return
	}
	writeOK(w, clones)
}

func (h *Handler) handleCreateVoice(w http.ResponseWriter, r *http.Request) {
	if h.audioDir == "" {
		writeError(w, 1, "voice cloning requires server.audio_dir to be configured")
		return
	}

	var req createVoiceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, 1, "invalid request body")
		return
	}
	if req.Name == "" || req.Provider == "" || len(req.Samples) == 0 {
		writeError(w, 1, "name, provider, and at least one sample are required")
		return
	}
	if req.AgentID != "" {
		h.mu.RLock()
		agent, ok := h.agents[req.AgentID]
		h.mu.RUnlock()
		if !ok {
			writeError(w, 1, "unknown agent_id")
			return
		}
		if !agent.Functions.EnableUserCloneVoice {
			writeError(w, 1, "voice cloning is disabled for this agent")
			return
		}
	}

	dir := filepath.Join(h.audioDir, "voiceclones", uuid.NewString())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		writeError(w, 500, err.Error())
		return
	}
	for i, enc := range req.Samples {
		data, err := base64.StdEncoding.DecodeString(enc)
		if err != nil {
			_ = os.RemoveAll(dir)
			writeError(w, 1, fmt.Sprintf("sample %d is not valid base64", i))
			return
		}
		if err := os.WriteFile(filepath.Join(dir, fmt.Sprintf("sample-%03d", i)), data, 0o644); err != nil {
			_ = os.RemoveAll(dir)
			writeError(w, 500, err.Error())
			return
		}
	}

	id, err := h.store.CreateVoiceClone(r.Context(), voiceOwner(r), req.Name, req.Provider, dir)
	if err != nil {
		_ = os.RemoveAll(dir)
		writeError(w, 500, err.Error())
		return
	}
	writeOK(w, map[string]string{"id": id, "status": "training"})
}

func (h *Handler) handleDeleteVoice(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteVoiceClone(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, 500, err.Error())
		return
	}
	writeOK(w, nil)
}

// voiceOwner identifies the clone's owner. With the allowlist disabled
// (local development) there is no token to key on, so every clone lands
// under one shared owner.
func voiceOwner(r *http.Request) string {
	if t := bearerToken(r); t != "" {
		return t
	}
	return "anonymous"
}
