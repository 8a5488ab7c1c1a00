package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"goodlistseller-gate/internal/ratelimit"
	"goodlistseller-gate/internal/testutil"
)

type fakeLimiter struct {
	result ratelimit.Result
	err    error
	keys   []string
}

func (f *fakeLimiter) Allow(_ context.Context, key string) (ratelimit.Result, error) {
	f.keys = append(f.keys, key)
	return f.result, f.err
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestPurposeFor(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/api/stores", PurposeAPI},
		{"/api/images/uploads", PurposeAPI},
		{"/api/auth/signin", PurposeAuth},
		{"/api/auth/session", PurposeAuth},
		{"/api/csrf-token", PurposeAuth},
		{"/api/csp-report", PurposeReport},
		{"/", ""},
		{"/stores/42", ""},
		{"/health", ""},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			testutil.AssertEqual(t, purposeFor(tt.path), tt.want)
		})
	}
}

func TestRateLimiter_AllowsAndSetsRemaining(t *testing.T) {
	api := &fakeLimiter{result: ratelimit.Result{Allowed: true, Remaining: 7}}
	rl := NewRateLimiter(map[string]ratelimit.Limiter{PurposeAPI: api})

	req := httptest.NewRequest(http.MethodGet, "/api/stores", nil)
	req.RemoteAddr = "203.0.113.7:51234"
	w := httptest.NewRecorder()
	rl.Middleware()(okHandler()).ServeHTTP(w, req)

	testutil.AssertStatusCode(t, w, http.StatusOK)
	testutil.AssertHeader(t, w, "X-RateLimit-Remaining", "7")
	testutil.AssertEqual(t, len(api.keys), 1)
	testutil.AssertEqual(t, api.keys[0], "api:203.0.113.7")
}

func TestRateLimiter_RejectsWith429(t *testing.T) {
	auth := &fakeLimiter{result: ratelimit.Result{Allowed: false, RetryAfter: 1500 * time.Millisecond}}
	rl := NewRateLimiter(map[string]ratelimit.Limiter{PurposeAuth: auth})

	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })

	w := httptest.NewRecorder()
	rl.Middleware()(next).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/auth/signin", nil))

	testutil.AssertJSONError(t, w, http.StatusTooManyRequests, "Too many requests")
	testutil.AssertJSONContains(t, w, "statusCode", float64(429))
	testutil.AssertHeader(t, w, "Retry-After", "2")
	testutil.AssertHeader(t, w, "X-RateLimit-Remaining", "0")
	testutil.AssertFalse(t, called, "next handler should not run")
}

func TestRateLimiter_RetryAfterAtLeastOneSecond(t *testing.T) {
	api := &fakeLimiter{result: ratelimit.Result{Allowed: false, RetryAfter: 10 * time.Millisecond}}
	rl := NewRateLimiter(map[string]ratelimit.Limiter{PurposeAPI: api})

	w := httptest.NewRecorder()
	rl.Middleware()(okHandler()).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/stores", nil))

	testutil.AssertHeader(t, w, "Retry-After", "1")
}

func TestRateLimiter_FailsOpen(t *testing.T) {
	api := &fakeLimiter{err: errors.New("redis: connection refused")}
	rl := NewRateLimiter(map[string]ratelimit.Limiter{PurposeAPI: api})

	w := httptest.NewRecorder()
	rl.Middleware()(okHandler()).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/stores", nil))

	testutil.AssertStatusCode(t, w, http.StatusOK)
}

func TestRateLimiter_SkipsUnclassifiedAndUnconfigured(t *testing.T) {
	api := &fakeLimiter{result: ratelimit.Result{Allowed: false}}
	rl := NewRateLimiter(map[string]ratelimit.Limiter{PurposeAPI: api})

	for _, path := range []string{"/", "/stores/1", "/api/csp-report"} {
		t.Run(path, func(t *testing.T) {
			w := httptest.NewRecorder()
			rl.Middleware()(okHandler()).ServeHTTP(w, httptest.NewRequest(http.MethodPost, path, nil))
			testutil.AssertStatusCode(t, w, http.StatusOK)
		})
	}
	testutil.AssertLen(t, api.keys, 0)
}

func TestRateLimiter_WithMemoryLimiter(t *testing.T) {
	ml := ratelimit.NewMemoryLimiter(context.Background(), 1, 2)
	defer ml.Stop()
	rl := NewRateLimiter(map[string]ratelimit.Limiter{PurposeAPI: ml})
	handler := rl.Middleware()(okHandler())

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/stores", nil)
		req.RemoteAddr = "198.51.100.1:1000"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}

	testutil.AssertEqual(t, codes[0], http.StatusOK)
	testutil.AssertEqual(t, codes[1], http.StatusOK)
	testutil.AssertEqual(t, codes[2], http.StatusTooManyRequests)

	// another client is unaffected
	req := httptest.NewRequest(http.MethodGet, "/api/stores", nil)
	req.RemoteAddr = "198.51.100.2:1000"
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	testutil.AssertStatusCode(t, w, http.StatusOK)
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		remote string
		want   string
	}{
		{"203.0.113.7:443", "203.0.113.7"},
		{"[2001:db8::1]:443", "2001:db8::1"},
		{"203.0.113.7", "203.0.113.7"},
	}

	for _, tt := range tests {
		t.Run(tt.remote, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			testutil.AssertEqual(t, clientIP(req), tt.want)
		})
	}
}
