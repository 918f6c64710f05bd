package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/storefront/pkg/ratelimit"
)

func TestCounterStore(t *testing.T) {
	engine := newTestEngine(t)
	now := time.Now()
	engine.now = fixedClock(now)
	store := engine.Counters()
	ctx := context.Background()

	_, ok, err := store.Get(ctx, "login:ip")
	require.NoError(t, err)
	assert.False(t, ok)

	e, err := store.Increment(ctx, "login:ip", 15*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, e.Count)
	assert.True(t, e.ResetAt.Equal(now.Add(15*time.Minute)))

	e, err = store.Increment(ctx, "login:ip", 15*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 2, e.Count)

	got, ok, err := store.Get(ctx, "login:ip")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, got.Count)

	// window closed by the clock, before Badger's TTL fires
	engine.now = fixedClock(now.Add(15 * time.Minute))
	_, ok, err = store.Get(ctx, "login:ip")
	require.NoError(t, err)
	assert.False(t, ok)
	e, err = store.Increment(ctx, "login:ip", 15*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, e.Count)

	require.NoError(t, store.Expire(ctx, "login:ip"))
	_, ok, err = store.Get(ctx, "login:ip")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCounterStoreBacksLimiter(t *testing.T) {
	engine := newTestEngine(t)
	limiter, err := ratelimit.New(engine.Counters(), ratelimit.Config{Enabled: true, Max: 3, Window: time.Minute})
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := limiter.Allow(ctx, "203.0.113.7")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	}
	d, err := limiter.Allow(ctx, "203.0.113.7")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 1, d.RetryMinutes())

	require.NoError(t, limiter.Reset(ctx, "203.0.113.7"))
	d, err = limiter.Allow(ctx, "203.0.113.7")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}
