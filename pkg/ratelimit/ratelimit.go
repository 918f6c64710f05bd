// Package ratelimit bounds how often a client address may hit a sensitive
// endpoint.
//
// A Limiter counts requests per key inside a fixed window (15 minutes by
// default) and rejects once the count reaches the cap (10 by default). The
// counters live behind the Store interface so a single process can use the
// in-memory MemoryStore while a deployment that restarts often, or wants the
// counters to survive restarts, plugs in storage.CounterStore.
//
// Example Usage:
//
//	limiter, err := ratelimit.New(ratelimit.NewMemoryStore(10000, 15*time.Minute), ratelimit.DefaultConfig())
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	d, err := limiter.Allow(ctx, clientIP)
//	if err == nil && !d.Allowed {
//		// 429, retry in d.RetryMinutes() minutes
//	}
//
//	// after a successful login
//	_ = limiter.Reset(ctx, clientIP)
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/orneryd/storefront/pkg/metrics"
)

// Defaults for the login limiter.
const (
	DefaultMax    = 10
	DefaultWindow = 15 * time.Minute
)

// ErrInvalidConfig is returned by New for a non-positive cap or window.
var ErrInvalidConfig = errors.New("ratelimit: invalid configuration")

// Entry is the counter state for one key.
type Entry struct {
	Count   int       `json:"count"`
	ResetAt time.Time `json:"resetAt"`
}

// Expired reports whether the window of e has closed at now.
func (e Entry) Expired(now time.Time) bool {
	return !now.Before(e.ResetAt)
}

// Store persists counters. Increment must be atomic: it starts a new window
// of the given length when the key is missing or expired, and otherwise adds
// one to the count while keeping ResetAt.
type Store interface {
	Increment(ctx context.Context, key string, window time.Duration) (Entry, error)
	Get(ctx context.Context, key string) (Entry, bool, error)
	Expire(ctx context.Context, key string) error
}

// Config controls a Limiter.
type Config struct {
	Enabled bool
	Max     int
	Window  time.Duration
	// Scope prefixes store keys and labels rejection metrics, so several
	// limiters can share one store.
	Scope string
}

// DefaultConfig returns the login limiter defaults: 10 requests per 15 minutes.
func DefaultConfig() Config {
	return Config{
		Enabled: true,
		Max:     DefaultMax,
		Window:  DefaultWindow,
		Scope:   "login",
	}
}

// Decision is the outcome of Limiter.Allow.
type Decision struct {
	Allowed    bool
	Count      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// RetryMinutes is RetryAfter in whole minutes, rounded up.
func (d Decision) RetryMinutes() int {
	if d.RetryAfter <= 0 {
		return 0
	}
	return int(math.Ceil(d.RetryAfter.Minutes()))
}

// RetrySeconds is RetryAfter in whole seconds, rounded up, for Retry-After.
func (d Decision) RetrySeconds() int {
	if d.RetryAfter <= 0 {
		return 0
	}
	return int(math.Ceil(d.RetryAfter.Seconds()))
}

// Limiter is a fixed-window request counter keyed by client address.
type Limiter struct {
	store  Store
	config Config
	now    func() time.Time
}

// New creates a Limiter over store.
func New(store Store, config Config) (*Limiter, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if config.Max <= 0 || config.Window <= 0 {
		return nil, fmt.Errorf("%w: max=%d window=%s", ErrInvalidConfig, config.Max, config.Window)
	}
	if config.Scope == "" {
		config.Scope = "login"
	}
	return &Limiter{store: store, config: config, now: time.Now}, nil
}

// Config returns the limiter settings.
func (l *Limiter) Config() Config {
	return l.config
}

func (l *Limiter) key(key string) string {
	return l.config.Scope + ":" + key
}

// Allow counts one request for key. A key already at the cap is rejected
// without being incremented, so a blocked client does not extend its window.
func (l *Limiter) Allow(ctx context.Context, key string) (Decision, error) {
	if !l.config.Enabled {
		return Decision{Allowed: true, Remaining: l.config.Max}, nil
	}
	now := l.now()
	k := l.key(key)

	if cur, ok, err := l.store.Get(ctx, k); err != nil {
		return Decision{}, fmt.Errorf("reading rate limit for %s: %w", key, err)
	} else if ok && !cur.Expired(now) && cur.Count >= l.config.Max {
		return l.reject(cur, now), nil
	}

	entry, err := l.store.Increment(ctx, k, l.config.Window)
	if err != nil {
		return Decision{}, fmt.Errorf("incrementing rate limit for %s: %w", key, err)
	}
	// concurrent requests can push the count past the cap between Get and Increment
	if entry.Count > l.config.Max {
		return l.reject(entry, now), nil
	}
	return Decision{
		Allowed:   true,
		Count:     entry.Count,
		Remaining: l.config.Max - entry.Count,
		ResetAt:   entry.ResetAt,
	}, nil
}

func (l *Limiter) reject(e Entry, now time.Time) Decision {
	metrics.RateLimitRejections.WithLabelValues(l.config.Scope).Inc()
	return Decision{
		Allowed:    false,
		Count:      e.Count,
		ResetAt:    e.ResetAt,
		RetryAfter: e.ResetAt.Sub(now),
	}
}

// Reset clears the counter for key.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	return l.store.Expire(ctx, l.key(key))
}
