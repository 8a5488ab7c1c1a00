package ratelimit

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// Maximum number of buckets to keep in memory
	maxLimiters = 10000
	// How often inactive buckets are swept
	cleanupInterval = 5 * time.Minute
	// A bucket is considered inactive if not used for this duration
	limiterTTL = 15 * time.Minute
)

// limiterEntry wraps a rate.Limiter with last access time
type limiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// MemoryLimiter keeps one token bucket per key in process memory. Buckets are
// swept after limiterTTL of inactivity and capped at maxEntries, evicting the
// least recently used first.
type MemoryLimiter struct {
	limiters   map[string]*limiterEntry
	mu         sync.Mutex
	rate       rate.Limit
	burst      int
	maxEntries int
	stopCh     chan struct{}
	stopOnce   sync.Once
}

// NewMemoryLimiter creates a limiter and starts its cleanup loop, which runs
// until ctx is done or Stop is called.
// requestsPerSecond: refill rate per key
// burst: bucket capacity
func NewMemoryLimiter(ctx context.Context, requestsPerSecond float64, burst int) *MemoryLimiter {
	ml := &MemoryLimiter{
		limiters:   make(map[string]*limiterEntry),
		rate:       rate.Limit(requestsPerSecond),
		burst:      burst,
		maxEntries: maxLimiters,
		stopCh:     make(chan struct{}),
	}

	go ml.cleanupLoop(ctx)

	return ml
}

func (ml *MemoryLimiter) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ml.stopCh:
			return
		case <-ticker.C:
			ml.cleanup(time.Now())
		}
	}
}

// cleanup removes buckets idle since before now-limiterTTL, then trims the
// map down to maxEntries/2 oldest-first if it is still over the cap.
func (ml *MemoryLimiter) cleanup(now time.Time) {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	for key, entry := range ml.limiters {
		if now.Sub(entry.lastAccess) > limiterTTL {
			delete(ml.limiters, key)
		}
	}

	if len(ml.limiters) <= ml.maxEntries {
		return
	}

	type keyTime struct {
		key  string
		time time.Time
	}
	entries := make([]keyTime, 0, len(ml.limiters))
	for k, e := range ml.limiters {
		entries = append(entries, keyTime{k, e.lastAccess})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].time.Before(entries[j].time)
	})

	for _, e := range entries[:len(entries)-ml.maxEntries/2] {
		delete(ml.limiters, e.key)
	}
}

// Stop stops the cleanup goroutine
func (ml *MemoryLimiter) Stop() {
	ml.stopOnce.Do(func() { close(ml.stopCh) })
}

// Len returns the number of live buckets
func (ml *MemoryLimiter) Len() int {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	return len(ml.limiters)
}

// getLimiter returns the bucket for key, creating it on first use
func (ml *MemoryLimiter) getLimiter(key string, now time.Time) *rate.Limiter {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	entry, exists := ml.limiters[key]
	if !exists {
		entry = &limiterEntry{limiter: rate.NewLimiter(ml.rate, ml.burst)}
		ml.limiters[key] = entry
	}
	entry.lastAccess = now
	return entry.limiter
}

// Allow withdraws one token for key. It never returns an error.
func (ml *MemoryLimiter) Allow(_ context.Context, key string) (Result, error) {
	now := time.Now()
	lim := ml.getLimiter(key, now)

	if lim.AllowN(now, 1) {
		return Result{Allowed: true, Remaining: int(lim.TokensAt(now))}, nil
	}

	r := lim.ReserveN(now, 1)
	retry := r.DelayFrom(now)
	r.CancelAt(now)

	return Result{Allowed: false, RetryAfter: retry}, nil
}
