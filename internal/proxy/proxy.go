// Package proxy forwards page and API traffic that the gateway does not serve
// itself to the upstream application.
package proxy

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"goodlistseller-gate/internal/observability"
)

const upstreamErrorBody = `{"error":"Upstream unavailable","statusCode":502}`

// gatewayOwnedHeaders are set by the gate; upstream copies are dropped so a
// response never carries two competing policies.
var gatewayOwnedHeaders = []string{
	"Content-Security-Policy",
	"Content-Security-Policy-Report-Only",
	"X-Content-Type-Options",
	"X-Frame-Options",
	"X-XSS-Protection",
	"Referrer-Policy",
	"Permissions-Policy",
	"Report-To",
}

// New creates a reverse proxy to upstream. The x-nonce request header set by
// the gate is forwarded unchanged.
func New(upstream string) (*httputil.ReverseProxy, error) {
	target, err := url.Parse(upstream)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream url: %w", err)
	}
	if (target.Scheme != "http" && target.Scheme != "https") || target.Host == "" {
		return nil, fmt.Errorf("invalid upstream url %q: must be absolute http(s)", upstream)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = 30 * time.Second

	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
			pr.Out.Host = pr.In.Host
		},
		Transport:      transport,
		ModifyResponse: stripGatewayHeaders,
		ErrorHandler:   writeUpstreamError,
	}, nil
}

func stripGatewayHeaders(resp *http.Response) error {
	for _, h := range gatewayOwnedHeaders {
		resp.Header.Del(h)
	}
	return nil
}

func writeUpstreamError(w http.ResponseWriter, r *http.Request, err error) {
	observability.FromContext(r.Context()).Error("upstream request failed",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Any("error", err),
	)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadGateway)
	_, _ = w.Write([]byte(upstreamErrorBody))
}
