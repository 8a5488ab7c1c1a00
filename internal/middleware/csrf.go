package middleware

import (
	"log/slog"
	"net/http"

	"goodlistseller-gate/internal/observability"
)

const csrfRejectionBody = `{"error":"CSRF token validation failed","statusCode":403}`

// csrfExemptPaths skip validation even for mutating methods. They either
// hand out tokens or receive browser-generated reports that cannot carry one.
var csrfExemptPaths = map[string]struct{}{
	"/api/csrf-token":     {},
	"/api/auth/session":   {},
	"/api/auth/providers": {},
	"/api/auth/csrf":      {},
	"/api/csp-report":     {},
}

// isSafeMethod returns true if the HTTP method is idempotent and cacheable.
// These methods should not modify state and don't require CSRF tokens.
func isSafeMethod(method string) bool {
	return method == http.MethodGet ||
		method == http.MethodHead ||
		method == http.MethodOptions
}

// isExemptPath matches exactly; "/api/auth/csrf/x" is not exempt.
func isExemptPath(path string) bool {
	_, ok := csrfExemptPaths[path]
	return ok
}

// requiresCSRF reports whether r must carry a caller token
func requiresCSRF(r *http.Request) bool {
	return !isSafeMethod(r.Method) && !isExemptPath(r.URL.Path)
}

// logCSRFFailure logs a security event when CSRF validation fails.
func logCSRFFailure(r *http.Request, reason string) {
	observability.FromContext(r.Context()).Warn("CSRF validation failed",
		slog.String("reason", reason),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("remote_addr", r.RemoteAddr),
	)
}

func writeCSRFRejection(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	_, _ = w.Write([]byte(csrfRejectionBody))
}
