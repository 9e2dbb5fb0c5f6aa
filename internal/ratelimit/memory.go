package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

// MemoryLimiter keeps window counters in process memory
type MemoryLimiter struct {
	mu       sync.Mutex
	counters *cache.Cache
	limit    int
	window   time.Duration
}

// NewMemoryLimiter creates a limiter admitting limit requests per window
func NewMemoryLimiter(limit int, window time.Duration) *MemoryLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &MemoryLimiter{
		counters: cache.New(window, 5*time.Minute),
		limit:    limit,
		window:   window,
	}
}

// Allow counts the request against key's current window
func (l *MemoryLimiter) Allow(_ context.Context, key string) Decision {
	if l.limit <= 0 {
		return Decision{Allowed: true}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	count := 1
	if err := l.counters.Add(key, count, l.window); err != nil {
		n, err := l.counters.IncrementInt(key, 1)
		if err != nil {
			// Expired between Add and IncrementInt
			l.counters.Set(key, 1, l.window)
			n = 1
		}
		count = n
	}

	_, windowEnd, _ := l.counters.GetWithExpiration(key)
	return Decision{
		Allowed:   count <= l.limit,
		Count:     count,
		WindowEnd: windowEnd,
	}
}
