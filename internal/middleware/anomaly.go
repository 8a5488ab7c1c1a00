package middleware

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"goodlistseller-gate/internal/observability"
)

var automationSignatures = []string{"curl", "wget", "python", "scanner", "bot"}

// logIfSuspicious warns about API calls from automation clients that did
// not come from one of our own pages. It never changes the response.
func logIfSuspicious(r *http.Request) {
	if !strings.HasPrefix(r.URL.Path, "/api/") {
		return
	}

	ua := r.Header.Get("User-Agent")
	if !hasAutomationSignature(ua) {
		return
	}

	referer := r.Header.Get("Referer")
	if sameOrigin(referer, requestOrigin(r)) {
		return
	}

	observability.SuspiciousRequestsTotal.Inc()
	observability.FromContext(r.Context()).Warn("suspicious request",
		slog.String("user_agent", ua),
		slog.String("referer", referer),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("remote_addr", r.RemoteAddr),
	)
}

func hasAutomationSignature(ua string) bool {
	ua = strings.ToLower(ua)
	for _, sig := range automationSignatures {
		if strings.Contains(ua, sig) {
			return true
		}
	}
	return false
}

// requestOrigin is scheme://host for the incoming request
func requestOrigin(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	} else if proto := r.Header.Get("X-Forwarded-Proto"); proto == "https" || proto == "http" {
		scheme = proto
	}
	return scheme + "://" + strings.ToLower(r.Host)
}

func sameOrigin(referer, origin string) bool {
	if referer == "" {
		return false
	}
	u, err := url.Parse(referer)
	if err != nil || u.Host == "" {
		return false
	}
	return strings.ToLower(u.Scheme+"://"+u.Host) == origin
}
