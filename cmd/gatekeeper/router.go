package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"goodlistseller-gate/internal/handler"
	"goodlistseller-gate/internal/middleware"
)

type routerDeps struct {
	origins  []string
	gate     *middleware.Gate
	limiter  *middleware.RateLimiter
	reports  http.Handler
	images   http.Handler
	upstream http.Handler
	ready    http.HandlerFunc
}

// newRouter mounts operational endpoints outside the gate and everything a
// browser can reach behind it.
func newRouter(d routerDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.Metrics())

	r.Get("/health", handler.Health)
	r.Get("/health/ready", d.ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.CORS(d.origins))
		r.Use(d.gate.Middleware())
		r.Use(d.limiter.Middleware())

		r.Get("/api/csrf-token", handler.CSRFToken)
		r.Method(http.MethodPost, "/api/csp-report", d.reports)
		r.Method(http.MethodGet, middleware.ImageUploadsPath, d.images)

		// pages, auth and the rest of the API live upstream
		r.Handle("/*", d.upstream)
	})

	return r
}
