package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goodlistseller-gate/internal/config"
	"goodlistseller-gate/internal/fetch"
	"goodlistseller-gate/internal/handler"
	"goodlistseller-gate/internal/middleware"
	"goodlistseller-gate/internal/proxy"
	"goodlistseller-gate/internal/reporting"
	"goodlistseller-gate/internal/security"
)

type memorySink struct {
	got []reporting.Violation
}

func (s *memorySink) Publish(_ context.Context, v reporting.Violation) error {
	s.got = append(s.got, v)
	return nil
}

type testEnv struct {
	router    http.Handler
	sink      *memorySink
	upstreamN atomic.Int32
}

func newTestEnv(t *testing.T, authLimit config.RateLimit) *testEnv {
	t.Helper()
	env := &testEnv{sink: &memorySink{}}

	upstreamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		env.upstreamN.Add(1)
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<script nonce="` + r.Header.Get(middleware.NonceHeader) + `"></script>`))
	}))
	t.Cleanup(upstreamSrv.Close)

	imageSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/webp")
		_, _ = w.Write([]byte("webp:" + r.URL.Path))
	}))
	t.Cleanup(imageSrv.Close)

	cfg := &config.Config{
		Environment:     "production",
		ImageOrigin:     imageSrv.URL,
		APIRateLimit:    config.RateLimit{RequestsPerSecond: 100, Burst: 100},
		AuthRateLimit:   authLimit,
		ReportRateLimit: config.RateLimit{RequestsPerSecond: 100, Burst: 100},
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	upstream, err := proxy.New(upstreamSrv.URL)
	require.NoError(t, err)

	gate := middleware.NewGate(
		security.NewTokenStore(true),
		security.NewPolicyBuilder(security.DefaultPolicyConfig(false, originOf(cfg.ImageOrigin), "")),
		nil,
	)
	fetcher := fetch.New(fetch.Options{AllowedHosts: cfg.FetchHosts(), AllowPrivateNetworks: true})

	env.router = newRouter(routerDeps{
		origins:  []string{"https://goodlistseller.com"},
		gate:     gate,
		limiter:  middleware.NewRateLimiter(newLimiters(ctx, cfg, nil)),
		reports:  handler.NewCSPReportHandler(env.sink),
		images:   handler.NewImageHandler(fetcher, cfg.ImageOrigin, 0, 0),
		upstream: upstream,
		ready:    readyHandler(nil, nil),
	})
	return env
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func TestRouter_PageThroughGate(t *testing.T) {
	env := newTestEnv(t, config.RateLimit{RequestsPerSecond: 100, Burst: 100})

	w := env.do(httptest.NewRequest(http.MethodGet, "/stores/42", nil))

	require.Equal(t, http.StatusOK, w.Code)
	csp := w.Header().Get(security.CSPHeader)
	require.NotEmpty(t, csp)
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))

	// the nonce in the policy is the one the upstream rendered
	start := strings.Index(csp, "'nonce-") + len("'nonce-")
	nonce := csp[start : start+strings.Index(csp[start:], "'")]
	assert.Contains(t, w.Body.String(), `nonce="`+nonce+`"`)
}

func TestRouter_OperationalEndpointsBypassGate(t *testing.T) {
	env := newTestEnv(t, config.RateLimit{RequestsPerSecond: 100, Burst: 100})

	for _, path := range []string{"/health", "/health/ready", "/metrics"} {
		t.Run(path, func(t *testing.T) {
			w := env.do(httptest.NewRequest(http.MethodGet, path, nil))
			assert.Equal(t, http.StatusOK, w.Code)
			assert.Empty(t, w.Header().Get(security.CSPHeader))
		})
	}
}

func TestRouter_CSRFFlow(t *testing.T) {
	env := newTestEnv(t, config.RateLimit{RequestsPerSecond: 100, Burst: 100})

	w := env.do(httptest.NewRequest(http.MethodGet, "/api/csrf-token", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var cookie *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == security.CSRFCookieName {
			cookie = c
		}
	}
	require.NotNil(t, cookie)

	t.Run("without_token_rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/stores", strings.NewReader(`{}`))
		req.Header.Set("Content-Type", "application/json")
		req.AddCookie(cookie)

		w := env.do(req)

		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.JSONEq(t, `{"error":"CSRF token validation failed","statusCode":403}`, w.Body.String())
	})

	t.Run("with_token_proxied", func(t *testing.T) {
		before := env.upstreamN.Load()
		req := httptest.NewRequest(http.MethodPost, "/api/stores", strings.NewReader(`{"csrfToken":"`+cookie.Value+`"}`))
		req.Header.Set("Content-Type", "application/json")
		req.AddCookie(cookie)

		w := env.do(req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, before+1, env.upstreamN.Load())
	})
}

func TestRouter_CSPReportExempt(t *testing.T) {
	env := newTestEnv(t, config.RateLimit{RequestsPerSecond: 100, Burst: 100})

	req := httptest.NewRequest(http.MethodPost, "/api/csp-report",
		strings.NewReader(`{"csp-report":{"document-uri":"https://goodlistseller.com/","effective-directive":"img-src"}}`))
	req.Header.Set("Content-Type", reporting.ContentTypeLegacy)

	w := env.do(req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	require.Len(t, env.sink.got, 1)
	assert.Equal(t, "img-src", env.sink.got[0].EffectiveDirective)
}

func TestRouter_ImageProxy(t *testing.T) {
	env := newTestEnv(t, config.RateLimit{RequestsPerSecond: 100, Burst: 100})

	t.Run("served", func(t *testing.T) {
		w := env.do(httptest.NewRequest(http.MethodGet, "/api/images/uploads?path=stores/a.webp", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "image/webp", w.Header().Get("Content-Type"))
		assert.Equal(t, "webp:/uploads/stores/a.webp", w.Body.String())
	})

	t.Run("traversal_rejected", func(t *testing.T) {
		w := env.do(httptest.NewRequest(http.MethodGet, "/api/images/uploads?path=../../etc/passwd", nil))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "Invalid path parameter", w.Body.String())
	})
}

func TestRouter_AuthRateLimit(t *testing.T) {
	env := newTestEnv(t, config.RateLimit{RequestsPerSecond: 0.001, Burst: 2})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/csrf-token", nil)
		req.RemoteAddr = "203.0.113.9:4000"
		codes = append(codes, env.do(req).Code)
	}

	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestOriginOf(t *testing.T) {
	assert.Equal(t, "https://images.goodlistseller.com", originOf("https://images.goodlistseller.com/uploads"))
	assert.Equal(t, "", originOf(""))
	assert.Equal(t, "", originOf("not a url"))
}

func TestHostOf(t *testing.T) {
	assert.Equal(t, "api.goodlistseller.com", hostOf("https://api.goodlistseller.com:8443/v1"))
	assert.Equal(t, "", hostOf(""))
}

func TestNonceSource(t *testing.T) {
	for _, name := range []string{"", "random", "uuid"} {
		t.Run(name, func(t *testing.T) {
			n := nonceSource(name)()
			assert.Len(t, n, 24)
			assert.NotEqual(t, n, nonceSource(name)())
		})
	}
}
