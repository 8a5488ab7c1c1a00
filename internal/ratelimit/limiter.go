// Package ratelimit provides token bucket limiters keyed by client and purpose.
package ratelimit

import (
	"context"
	"time"
)

// Result is the outcome of one Allow call
type Result struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter withdraws one token from the bucket identified by key
type Limiter interface {
	Allow(ctx context.Context, key string) (Result, error)
}

// Key builds the bucket key for a client and limiter purpose.
func Key(purpose, clientIP string) string {
	return purpose + ":" + clientIP
}
