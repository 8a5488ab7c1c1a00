package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"goodlistseller-gate/internal/observability"
)

func TestHasAutomationSignature(t *testing.T) {
	tests := []struct {
		ua   string
		want bool
	}{
		{"curl/8.4.0", true},
		{"Wget/1.21", true},
		{"python-requests/2.31", true},
		{"Mozilla/5.0 (compatible; Googlebot/2.1)", true},
		{"nuclei-scanner", true},
		{"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_0) Safari/605.1.15", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.ua, func(t *testing.T) {
			assert.Equal(t, tt.want, hasAutomationSignature(tt.ua))
		})
	}
}

func TestRequestOrigin(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "http://goodlistseller.com/api/stores", nil)
	assert.Equal(t, "http://goodlistseller.com", requestOrigin(req))

	req.Header.Set("X-Forwarded-Proto", "https")
	assert.Equal(t, "https://goodlistseller.com", requestOrigin(req))
}

func TestSameOrigin(t *testing.T) {
	tests := []struct {
		name    string
		referer string
		want    bool
	}{
		{"same", "https://goodlistseller.com/stores?page=2", true},
		{"case_insensitive", "https://GoodListSeller.com/", true},
		{"other_host", "https://evil.example/", false},
		{"other_scheme", "http://goodlistseller.com/", false},
		{"empty", "", false},
		{"relative", "/stores", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sameOrigin(tt.referer, "https://goodlistseller.com"))
		})
	}
}

func TestLogIfSuspicious_CountsOnlyForeignAutomation(t *testing.T) {
	tests := []struct {
		name      string
		path      string
		ua        string
		referer   string
		suspected bool
	}{
		{"curl_no_referer", "/api/stores", "curl/8.4.0", "", true},
		{"bot_foreign_referer", "/api/stores", "SomeBot/1.0", "https://evil.example/", true},
		{"bot_own_referer", "/api/stores", "SomeBot/1.0", "http://example.com/stores", false},
		{"browser", "/api/stores", "Mozilla/5.0", "", false},
		{"curl_outside_api", "/stores", "curl/8.4.0", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := testutil.ToFloat64(observability.SuspiciousRequestsTotal)

			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			req.Header.Set("User-Agent", tt.ua)
			if tt.referer != "" {
				req.Header.Set("Referer", tt.referer)
			}
			logIfSuspicious(req)

			delta := testutil.ToFloat64(observability.SuspiciousRequestsTotal) - before
			if tt.suspected {
				assert.Equal(t, float64(1), delta)
			} else {
				assert.Equal(t, float64(0), delta)
			}
		})
	}
}

func TestGate_AnomalyLoggingDoesNotBlock(t *testing.T) {
	g := newTestGate(gateOptions{})
	req := httptest.NewRequest(http.MethodGet, "/api/stores", nil)
	req.Header.Set("User-Agent", "python-requests/2.31")

	w, called := serve(t, g, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, called)
}
