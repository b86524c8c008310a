// Package clients provides the call guards wrapped around connector
// adapters: per-connector rate limiting and circuit breaking.
package clients

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ajitpratap0/orbit/pkg/models"
)

// RateLimiter bounds batch-level calls to one connector. A policy may carry
// both a per-minute and a per-hour budget; a call waits for both.
type RateLimiter struct {
	policy    models.RateLimitPolicy
	perMinute *rate.Limiter
	perHour   *rate.Limiter
}

// NewRateLimiter creates a limiter for the policy. Zero limits are unlimited.
func NewRateLimiter(policy models.RateLimitPolicy) *RateLimiter {
	rl := &RateLimiter{policy: policy}
	if policy.RequestsPerMinute > 0 {
		rl.perMinute = rate.NewLimiter(rate.Every(time.Minute/time.Duration(policy.RequestsPerMinute)), burst(policy.RequestsPerMinute, 60))
	}
	if policy.RequestsPerHour > 0 {
		rl.perHour = rate.NewLimiter(rate.Every(time.Hour/time.Duration(policy.RequestsPerHour)), burst(policy.RequestsPerHour, 3600))
	}
	return rl
}

// burst allows roughly one second worth of calls at once, never less than one.
func burst(perPeriod int, seconds float64) int {
	return int(math.Max(1, math.Ceil(float64(perPeriod)/seconds)))
}

// Wait blocks until a call is allowed or ctx is done
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if rl.perHour != nil {
		if err := rl.perHour.Wait(ctx); err != nil {
			return err
		}
	}
	if rl.perMinute != nil {
		if err := rl.perMinute.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Allow reports whether a call may happen now, consuming budget if so
func (rl *RateLimiter) Allow() bool {
	now := time.Now()
	if rl.perHour != nil && rl.perMinute != nil {
		h := rl.perHour.ReserveN(now, 1)
		m := rl.perMinute.ReserveN(now, 1)
		if h.DelayFrom(now) == 0 && m.DelayFrom(now) == 0 {
			return true
		}
		h.CancelAt(now)
		m.CancelAt(now)
		return false
	}
	if rl.perHour != nil {
		return rl.perHour.AllowN(now, 1)
	}
	if rl.perMinute != nil {
		return rl.perMinute.AllowN(now, 1)
	}
	return true
}

// Policy returns the policy the limiter enforces
func (rl *RateLimiter) Policy() models.RateLimitPolicy {
	return rl.policy
}

// Unlimited reports whether the limiter never blocks
func (rl *RateLimiter) Unlimited() bool {
	return rl.perMinute == nil && rl.perHour == nil
}

// LimiterSet keeps one limiter per connector, rebuilding it when the
// connector's policy changes.
type LimiterSet struct {
	mu       sync.Mutex
	limiters map[string]*RateLimiter
}

// NewLimiterSet creates an empty set
func NewLimiterSet() *LimiterSet {
	return &LimiterSet{limiters: make(map[string]*RateLimiter)}
}

// For returns the limiter of a connector under the given policy
func (s *LimiterSet) For(connectorID string, policy models.RateLimitPolicy) *RateLimiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rl, ok := s.limiters[connectorID]; ok && rl.policy == policy {
		return rl
	}
	rl := NewRateLimiter(policy)
	s.limiters[connectorID] = rl
	return rl
}
