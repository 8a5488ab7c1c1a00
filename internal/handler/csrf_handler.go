package handler

import (
	"net/http"

	"goodlistseller-gate/internal/middleware"
)

// CSRFTokenResponse is returned by GET /api/csrf-token
type CSRFTokenResponse struct {
	CSRFToken string `json:"csrfToken"`
}

// CSRFToken returns the token the gate attached to this response's cookie,
// so client code can echo it in X-CSRF-Token.
func CSRFToken(w http.ResponseWriter, r *http.Request) {
	token, ok := middleware.GetCSRFToken(r.Context())
	if !ok || token == "" {
		writeError(w, http.StatusInternalServerError, "CSRF token unavailable")
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, CSRFTokenResponse{CSRFToken: token})
}
