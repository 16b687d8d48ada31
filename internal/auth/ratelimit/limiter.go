// Package ratelimit implements per-tenant, per-mode request budgets.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/crawl-admission/internal/admission"
)

// Result reports whether a request fits the budget. RetryAfter is set when it
// does not.
type Result struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Config holds per-mode limits in requests per minute. A mode without an entry
// uses DefaultRPM; zero or negative means unlimited.
type Config struct {
	DefaultRPM int
	ModeRPM    map[admission.Mode]int
}

// RPM returns the configured requests per minute for mode.
func (c Config) RPM(mode admission.Mode) int {
	if rpm, ok := c.ModeRPM[mode]; ok {
		return rpm
	}
	return c.DefaultRPM
}

type bucketKey struct {
	tenantID string
	mode     admission.Mode
}

// Local keeps one token bucket per tenant and mode in process memory. Each
// bucket refills at RPM/60 tokens per second with a burst of RPM.
type Local struct {
	mu       sync.Mutex
	limiters map[bucketKey]*rate.Limiter
	cfg      Config
	now      func() time.Time
}

// NewLocal creates a Local limiter.
func NewLocal(cfg Config) *Local {
	return &Local{
		limiters: make(map[bucketKey]*rate.Limiter),
		cfg:      cfg,
		now:      time.Now,
	}
}

// Allow consumes one token for tenantID in mode without blocking.
func (l *Local) Allow(_ context.Context, tenantID string, mode admission.Mode) (Result, error) {
	rpm := l.cfg.RPM(mode)
	if rpm <= 0 {
		return Result{Allowed: true}, nil
	}

	key := bucketKey{tenantID: tenantID, mode: mode}
	l.mu.Lock()
	limiter, exists := l.limiters[key]
	if !exists {
		limiter = rate.NewLimiter(rate.Limit(float64(rpm)/60), rpm)
		l.limiters[key] = limiter
	}
	l.mu.Unlock()

	now := l.now()
	res := limiter.ReserveN(now, 1)
	if !res.OK() {
		return Result{Allowed: false, RetryAfter: time.Minute}, nil
	}
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return Result{Allowed: false, RetryAfter: delay}, nil
	}
	return Result{Allowed: true}, nil
}
