package handler

import (
	"context"
	"net/http"
	"sync"
	"time"

	rdb "github.com/redis/go-redis/v9"
)

const readyTimeout = 5 * time.Second

// Health is the liveness probe
func Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HealthCheckResult represents the result of one dependency check
type HealthCheckResult struct {
	Status    string `json:"status"` // up, down or disabled
	LatencyMs int64  `json:"latency_ms,omitempty"`
	Error     string `json:"error,omitempty"`
}

// RedisPinger is satisfied by every go-redis client
type RedisPinger interface {
	Ping(ctx context.Context) *rdb.StatusCmd
}

// BrokerConn is satisfied by *messaging.RabbitMQ
type BrokerConn interface {
	IsClosed() bool
}

// dependencyCheck is one readiness probe. A critical dependency that is down
// fails readiness; any other outage only degrades it.
type dependencyCheck struct {
	name     string
	critical bool
	run      func(ctx context.Context) HealthCheckResult
}

type readiness struct {
	Status    string                       `json:"status"`
	Timestamp string                       `json:"timestamp"`
	Checks    map[string]HealthCheckResult `json:"checks"`
}

// Ready returns the readiness probe. A nil dependency is not configured and
// reports "disabled". Redis is critical because it holds the shared rate
// limit buckets; RabbitMQ is not, CSP reports still reach the log.
func Ready(redis RedisPinger, rmq BrokerConn) http.HandlerFunc {
	checks := []dependencyCheck{
		{name: "redis", critical: true, run: func(ctx context.Context) HealthCheckResult { return checkRedis(ctx, redis) }},
		{name: "rabbitmq", run: func(context.Context) HealthCheckResult { return checkRabbitMQ(rmq) }},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()

		results := make([]HealthCheckResult, len(checks))
		var wg sync.WaitGroup
		for i, c := range checks {
			wg.Add(1)
			go func() {
				defer wg.Done()
				results[i] = c.run(ctx)
			}()
		}
		wg.Wait()

		resp := readiness{
			Status:    "ready",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Checks:    make(map[string]HealthCheckResult, len(checks)),
		}
		status := http.StatusOK
		for i, c := range checks {
			resp.Checks[c.name] = results[i]
			if results[i].Status != "down" {
				continue
			}
			if c.critical {
				resp.Status = "not_ready"
				status = http.StatusServiceUnavailable
			} else if resp.Status == "ready" {
				resp.Status = "degraded"
			}
		}

		writeJSON(w, status, resp)
	}
}

func checkRedis(ctx context.Context, redis RedisPinger) HealthCheckResult {
	if redis == nil {
		return HealthCheckResult{Status: "disabled"}
	}

	start := time.Now()
	err := redis.Ping(ctx).Err()
	result := HealthCheckResult{Status: "up", LatencyMs: time.Since(start).Milliseconds()}
	if err != nil {
		result.Status = "down"
		result.Error = err.Error()
	}
	return result
}

func checkRabbitMQ(rmq BrokerConn) HealthCheckResult {
	switch {
	case rmq == nil:
		return HealthCheckResult{Status: "disabled"}
	case rmq.IsClosed():
		return HealthCheckResult{Status: "down", Error: "connection closed"}
	default:
		return HealthCheckResult{Status: "up"}
	}
}
