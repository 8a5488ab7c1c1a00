package middleware

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"

	"goodlistseller-gate/internal/observability"
	"goodlistseller-gate/internal/ratelimit"
)

const (
	PurposeAPI    = "api"
	PurposeAuth   = "auth"
	PurposeReport = "report"
)

const rateLimitBody = `{"error":"Too many requests","statusCode":429}`

// RateLimiter applies a per-(IP, purpose) token bucket to API routes
type RateLimiter struct {
	limiters map[string]ratelimit.Limiter
}

// NewRateLimiter maps purposes to limiters. A purpose with no limiter is
// not limited.
func NewRateLimiter(limiters map[string]ratelimit.Limiter) *RateLimiter {
	return &RateLimiter{limiters: limiters}
}

// purposeFor classifies a path; "" means the path is not rate limited
func purposeFor(path string) string {
	switch {
	case path == "/api/csp-report":
		return PurposeReport
	case path == "/api/csrf-token", strings.HasPrefix(path, "/api/auth/"):
		return PurposeAuth
	case strings.HasPrefix(path, "/api/"):
		return PurposeAPI
	default:
		return ""
	}
}

// Middleware returns a chi-compatible middleware function
func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			purpose := purposeFor(r.URL.Path)
			limiter, ok := rl.limiters[purpose]
			if purpose == "" || !ok {
				next.ServeHTTP(w, r)
				return
			}

			res, err := limiter.Allow(r.Context(), ratelimit.Key(purpose, clientIP(r)))
			if err != nil {
				// fail open; a limiter outage must not take the site down
				observability.FromContext(r.Context()).Warn("rate limiter unavailable",
					slog.String("purpose", purpose),
					slog.Any("error", err),
				)
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))

			if !res.Allowed {
				observability.RateLimitRejectionsTotal.WithLabelValues(purpose).Inc()
				retry := int(math.Ceil(res.RetryAfter.Seconds()))
				if retry < 1 {
					retry = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(rateLimitBody))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientIP strips the port from RemoteAddr. chi's RealIP has already
// replaced it with the forwarded address when behind a proxy.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
