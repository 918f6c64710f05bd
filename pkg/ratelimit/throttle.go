package ratelimit

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"

	"github.com/orneryd/storefront/pkg/metrics"
)

// ThrottleConfig sizes the per-address token buckets.
type ThrottleConfig struct {
	Enabled   bool
	PerSecond float64
	Burst     int
	// MaxClients bounds the number of buckets; the least recently seen
	// address is evicted first.
	MaxClients int
	// IdleTTL drops a bucket after this long without requests.
	IdleTTL time.Duration
}

// DefaultThrottleConfig allows a sustained 20 req/s with bursts of 40.
func DefaultThrottleConfig() ThrottleConfig {
	return ThrottleConfig{
		Enabled:    true,
		PerSecond:  20,
		Burst:      40,
		MaxClients: DefaultMemoryStoreSize,
		IdleTTL:    5 * time.Minute,
	}
}

// Throttle smooths bursts per client address with a token bucket. Unlike
// Limiter it never blocks for long: a client that slows down regains tokens
// within seconds.
type Throttle struct {
	mu      sync.Mutex
	buckets *expirable.LRU[string, *rate.Limiter]
	config  ThrottleConfig
}

// NewThrottle creates a Throttle.
func NewThrottle(config ThrottleConfig) *Throttle {
	if config.MaxClients <= 0 {
		config.MaxClients = DefaultMemoryStoreSize
	}
	if config.IdleTTL <= 0 {
		config.IdleTTL = 5 * time.Minute
	}
	if config.Burst <= 0 {
		config.Burst = 1
	}
	return &Throttle{
		buckets: expirable.NewLRU[string, *rate.Limiter](config.MaxClients, nil, config.IdleTTL),
		config:  config,
	}
}

// Allow takes one token from the bucket for key.
func (t *Throttle) Allow(key string) bool {
	return t.AllowAt(key, time.Now())
}

// AllowAt is Allow with an explicit clock.
func (t *Throttle) AllowAt(key string, now time.Time) bool {
	if !t.config.Enabled {
		return true
	}
	if key == "" {
		key = "unknown"
	}

	t.mu.Lock()
	lim, ok := t.buckets.Get(key)
	if !ok {
		lim = rate.NewLimiter(rate.Limit(t.config.PerSecond), t.config.Burst)
	}
	// re-adding refreshes the idle TTL
	t.buckets.Add(key, lim)
	t.mu.Unlock()

	if lim.AllowN(now, 1) {
		return true
	}
	metrics.RateLimitRejections.WithLabelValues("throttle").Inc()
	return false
}
