// Package ratelimit counts requests per key in fixed windows. It guards the
// verification endpoints against user code guessing (RFC 8628 section 5.1).
package ratelimit

import (
	"context"
	"time"
)

// Decision is the outcome of one Allow call
type Decision struct {
	Allowed   bool
	Count     int
	WindowEnd time.Time
}

// Limiter admits at most limit requests per key per window
type Limiter interface {
	Allow(ctx context.Context, key string) Decision
}

// Unlimited admits every request
type Unlimited struct{}

// Allow always admits
func (Unlimited) Allow(context.Context, string) Decision {
	return Decision{Allowed: true}
}
