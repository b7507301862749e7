package api

import (
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"github.com/bdobrica/Kioku/internal/kioku/metrics"
)

const (
	// DefaultTurnsPerMinute is the sustained per-user turn rate.
	DefaultTurnsPerMinute = 30
	// DefaultTurnBurst is how many turns a user may send back to back.
	DefaultTurnBurst = 5

	limiterIdleTTL = 10 * time.Minute
)

// RateLimitConfig bounds how often a single user may submit turns.
type RateLimitConfig struct {
	PerMinute int `yaml:"per_minute"`
	Burst     int `yaml:"burst"`
}

// UserRateLimiter holds one token bucket per user. Buckets of idle users
// expire, so memory stays bounded by the number of recently active users.
//
// UserRateLimiter is safe for concurrent use.
type UserRateLimiter struct {
	mu        sync.Mutex
	limit     rate.Limit
	perMinute int
	burst     int
	limiters  *gocache.Cache
}

// NewUserRateLimiter returns a limiter. A negative PerMinute disables
// limiting; zero fields take the defaults.
func NewUserRateLimiter(cfg RateLimitConfig) *UserRateLimiter {
	if cfg.PerMinute == 0 {
		cfg.PerMinute = DefaultTurnsPerMinute
	}
	if cfg.Burst <= 0 {
		cfg.Burst = DefaultTurnBurst
	}
	limit := rate.Limit(float64(cfg.PerMinute) / 60.0)
	if cfg.PerMinute < 0 {
		limit = rate.Inf
	}
	return &UserRateLimiter{
		limit:     limit,
		perMinute: cfg.PerMinute,
		burst:     cfg.Burst,
		limiters:  gocache.New(limiterIdleTTL, limiterIdleTTL/2),
	}
}

// Allow reports whether userID may submit another turn now and consumes a
// token when it may.
func (l *UserRateLimiter) Allow(userID string) bool {
	if l.limit == rate.Inf {
		return true
	}
	lim := l.limiterFor(userID)
	if lim.Allow() {
		return true
	}
	metrics.RateLimited.Inc()
	return false
}

// RetryAfter is the wait a rejected user should observe, in whole seconds.
func (l *UserRateLimiter) RetryAfter() int {
	if l.perMinute <= 0 {
		return 1
	}
	return (60 + l.perMinute - 1) / l.perMinute
}

func (l *UserRateLimiter) limiterFor(userID string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if v, ok := l.limiters.Get(userID); ok {
		lim := v.(*rate.Limiter)
		// Touch to push back expiry while the user stays active.
		l.limiters.SetDefault(userID, lim)
		return lim
	}
	lim := rate.NewLimiter(l.limit, l.burst)
	l.limiters.SetDefault(userID, lim)
	return lim
}
