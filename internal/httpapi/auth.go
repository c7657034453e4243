package httpapi

import (
	"net/http"
	"strings"
)

// loginRequest carries the bearer token a client already possesses (issued
// out-of-band by an operator) for the front-end to exchange for a
// confirmed session. There is no password/user-table layer in this
// deployment: §1 scopes the full account system out, so /auth/* only
// validates against the configured bearer-token allowlist.
type loginRequest struct {
	Token string `json:"token"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, 1, "invalid request body")
		return
	}
	if !h.isValidToken(req.Token) {
		writeUnauthorized(w, "invalid token")
		return
	}
	writeOK(w, map[string]string{"token": req.Token})
}

// handleRegister admits a new bearer token into the in-process allowlist.
// It does not persist the token anywhere durable — restarting the process
// reverts to the configured server.auth_tokens list. A real account system
// is explicitly out of scope (§1); this exists so the front-end's
// register-then-login flow has somewhere to land during local development.
func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil || req.Token == "" {
		writeError(w, 1, "invalid request body")
		return
	}
	h.mu.Lock()
	h.authTokens[req.Token] = struct{}{}
	h.mu.Unlock()
	writeOK(w, map[string]string{"token": req.Token})
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	writeOK(w, map[string]string{"token": bearerToken(r)})
}

func (h *Handler) isValidToken(token string) bool {
	if token == "" {
		return false
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.authTokens) == 0 {
		// Empty allowlist disables the check entirely (local development),
		// matching the gateway's own server.auth_tokens semantics.
		return true
	}
	_, ok := h.authTokens[token]
	return ok
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, prefix) {
		return strings.TrimPrefix(auth, prefix)
	}
	return ""
}

// requireAuth wraps next so it only runs when the request carries a valid
// bearer token, mirroring the gateway's own AuthTokens allowlist check.
func (h *Handler) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !h.isValidToken(bearerToken(r)) {
			writeUnauthorized(w, "missing or invalid bearer token")
			return
		}
		next(w, r)
	}
}
