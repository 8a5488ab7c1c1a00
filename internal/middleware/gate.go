package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"goodlistseller-gate/internal/observability"
	"goodlistseller-gate/internal/security"
)

const (
	// ImageUploadsPath is the one route whose path query is sanitized here
	ImageUploadsPath = "/api/images/uploads"
	// NonceHeader carries the nonce to downstream renderers
	NonceHeader = "x-nonce"
)

// Gate runs in front of every route. For each request it:
//
//  1. rejects traversal attempts on the image proxy route (400)
//  2. logs automation traffic on API paths
//  3. validates the double-submit CSRF token for mutating requests (403)
//  4. attaches a fresh nonce-based CSP, hardening headers and the CSRF cookie
//
// Rejected requests never reach next and carry none of the headers from
// step 4.
type Gate struct {
	tokens *security.TokenStore
	policy *security.PolicyBuilder
	nonce  func() string
}

// NewGate creates a gate. nonceFn defaults to security.GenerateNonce.
func NewGate(tokens *security.TokenStore, policy *security.PolicyBuilder, nonceFn func() string) *Gate {
	if nonceFn == nil {
		nonceFn = security.GenerateNonce
	}
	return &Gate{tokens: tokens, policy: policy, nonce: nonceFn}
}

// Middleware returns a chi-compatible middleware function
func (g *Gate) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == ImageUploadsPath && isTraversal(r.URL.Query().Get("path")) {
				observability.PathGuardRejectionsTotal.Inc()
				observability.FromContext(r.Context()).Warn("rejected image path",
					slog.String("path", r.URL.Query().Get("path")),
					slog.String("remote_addr", r.RemoteAddr),
				)
				w.Header().Set("Content-Type", "text/plain; charset=utf-8")
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte("Invalid path parameter"))
				return
			}

			logIfSuspicious(r)

			token := g.tokens.IssueIfAbsent(r)

			if requiresCSRF(r) {
				caller := g.tokens.ExtractCallerToken(r)
				if !g.tokens.Validate(token, caller) {
					observability.CSRFValidationsTotal.WithLabelValues("invalid").Inc()
					reason := "invalid token"
					if caller == "" {
						reason = "missing token"
					}
					logCSRFFailure(r, reason)
					writeCSRFRejection(w)
					return
				}
				observability.CSRFValidationsTotal.WithLabelValues("valid").Inc()
			} else if !isSafeMethod(r.Method) {
				observability.CSRFValidationsTotal.WithLabelValues("exempt").Inc()
			}

			nonce := g.nonce()
			policy := g.policy.Build(nonce, nil, nil)

			h := w.Header()
			h.Set(g.policy.HeaderName(), policy.String())
			SetSecurityHeaders(h)
			g.tokens.Attach(w, token)

			r.Header.Set(NonceHeader, nonce)
			ctx := WithNonce(r.Context(), nonce)
			ctx = WithCSRFToken(ctx, token)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// isTraversal flags values that could escape the uploads directory or
// point at another origin.
func isTraversal(path string) bool {
	return strings.Contains(path, "..") ||
		strings.Contains(path, "://") ||
		strings.HasPrefix(path, "/")
}
