package main

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	rdb "github.com/redis/go-redis/v9"

	"goodlistseller-gate/internal/config"
	"goodlistseller-gate/internal/fetch"
	"goodlistseller-gate/internal/handler"
	"goodlistseller-gate/internal/messaging"
	"goodlistseller-gate/internal/middleware"
	"goodlistseller-gate/internal/observability"
	"goodlistseller-gate/internal/proxy"
	"goodlistseller-gate/internal/ratelimit"
	"goodlistseller-gate/internal/reporting"
	"goodlistseller-gate/internal/security"
)

func main() {
	cfg := config.Load()

	observability.InitLogger(cfg.LogLevel, cfg.LogFormat)

	slog.Info("starting gatekeeper",
		slog.String("environment", cfg.Environment),
		slog.String("upstream", cfg.UpstreamURL))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var redisClient *rdb.Client
	if cfg.RedisURL != "" {
		opts, err := rdb.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("invalid redis url", slog.String("error", err.Error()))
			os.Exit(1)
		}
		redisClient = rdb.NewClient(opts)
		defer redisClient.Close()

		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			// limiter fails open until redis is reachable
			slog.Warn("redis ping failed", slog.String("error", err.Error()))
		} else {
			slog.Info("connected to redis")
		}
		pingCancel()
	}

	var rmq *messaging.RabbitMQ
	sink := reporting.MultiSink{reporting.LogSink{}}
	if cfg.RabbitMQURL != "" {
		var err error
		rmq, err = messaging.NewRabbitMQ(cfg.RabbitMQURL)
		if err != nil {
			slog.Error("failed to connect to rabbitmq", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer rmq.Close()
		sink = append(sink, reporting.NewAMQPSink(rmq, messaging.RoutingPrefix))
		slog.Info("csp reports forwarded to rabbitmq", slog.String("exchange", messaging.ReportsExchange))
	}

	policyCfg := security.DefaultPolicyConfig(cfg.IsDevelopment(), originOf(cfg.ImageOrigin), originOf(cfg.BackendAPIURL))
	policyCfg.ReportOnly = cfg.CSPReportOnly
	gate := middleware.NewGate(
		security.NewTokenStore(cfg.IsProduction()),
		security.NewPolicyBuilder(policyCfg),
		nonceSource(cfg.NonceSource),
	)

	fetcher := fetch.New(fetch.Options{
		AllowedHosts:         cfg.FetchHosts(),
		AllowPrivateNetworks: cfg.IsDevelopment(),
		BearerToken:          cfg.BackendAPIToken,
		AuthHosts:            []string{hostOf(cfg.BackendAPIURL)},
	})

	upstream, err := proxy.New(cfg.UpstreamURL)
	if err != nil {
		slog.Error("failed to create upstream proxy", slog.String("error", err.Error()))
		os.Exit(1)
	}

	r := newRouter(routerDeps{
		origins:  cfg.Origins(),
		gate:     gate,
		limiter:  middleware.NewRateLimiter(newLimiters(ctx, cfg, redisClient)),
		reports:  handler.NewCSPReportHandler(sink),
		images:   handler.NewImageHandler(fetcher, cfg.ImageOrigin, 0, 0),
		upstream: upstream,
		ready:    readyHandler(redisClient, rmq),
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("gatekeeper listening", slog.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", slog.String("error", err.Error()))
	}

	cancel()

	slog.Info("server stopped gracefully")
}

// newLimiters uses redis when configured so every instance shares buckets.
// Memory limiters stop when ctx is cancelled.
func newLimiters(ctx context.Context, cfg *config.Config, client *rdb.Client) map[string]ratelimit.Limiter {
	limits := map[string]config.RateLimit{
		middleware.PurposeAPI:    cfg.APIRateLimit,
		middleware.PurposeAuth:   cfg.AuthRateLimit,
		middleware.PurposeReport: cfg.ReportRateLimit,
	}

	limiters := make(map[string]ratelimit.Limiter, len(limits))
	for purpose, l := range limits {
		if client != nil {
			limiters[purpose] = ratelimit.NewRedisLimiter(client, "rl:", l.RequestsPerSecond, l.Burst)
		} else {
			limiters[purpose] = ratelimit.NewMemoryLimiter(ctx, l.RequestsPerSecond, l.Burst)
		}
	}
	return limiters
}

func nonceSource(name string) func() string {
	if name == "uuid" {
		return security.UUIDNonce
	}
	return security.GenerateNonce
}

// readyHandler passes untyped nils for dependencies that are not configured
func readyHandler(redisClient *rdb.Client, rmq *messaging.RabbitMQ) http.HandlerFunc {
	var pinger handler.RedisPinger
	if redisClient != nil {
		pinger = redisClient
	}
	var broker handler.BrokerConn
	if rmq != nil {
		broker = rmq
	}
	return handler.Ready(pinger, broker)
}

// originOf returns scheme://host for CSP source lists
func originOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
