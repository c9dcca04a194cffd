package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/swimreg/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestPublicLimiterExhaustsBurst(t *testing.T) {
	cfg := config.Config{RateLimit: config.RateLimitConfig{Enabled: true, PublicRate: 0.1, PublicBurst: 2}}
	limiter := NewPublicLimiter(cfg, NewTokenBucket(newRedis(t)))
	require.True(t, limiter.Enabled())

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		res, err := limiter.Allow(ctx, "registrations", "41.90.1.1")
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	}

	res, err := limiter.Allow(ctx, "registrations", "41.90.1.1")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 10*time.Second, res.RetryAfter)

	other, err := limiter.Allow(ctx, "registrations", "41.90.1.2")
	require.NoError(t, err)
	assert.True(t, other.Allowed, "buckets are per client")
}

func TestPublicLimiterDisabled(t *testing.T) {
	assert.Nil(t, NewPublicLimiter(config.Config{}, nil))

	var limiter *PublicLimiter
	res, err := limiter.Allow(context.Background(), "verify", "1.1.1.1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestLockerWithLock(t *testing.T) {
	locker := NewLocker(newRedis(t))
	ctx := context.Background()

	err := locker.WithLock(ctx, "job:reconcile_stale", time.Minute, func(ctx context.Context) error {
		inner := locker.WithLock(ctx, "job:reconcile_stale", time.Minute, func(context.Context) error { return nil })
		assert.ErrorIs(t, inner, ErrLockHeld)
		return nil
	})
	require.NoError(t, err)

	// released after the first holder returned
	ran := false
	require.NoError(t, locker.WithLock(ctx, "job:reconcile_stale", time.Minute, func(context.Context) error {
		ran = true
		return nil
	}))
	assert.True(t, ran)
}

func TestNilLockerRunsDirectly(t *testing.T) {
	var locker *Locker
	boom := errors.New("boom")
	err := locker.WithLock(context.Background(), "k", time.Second, func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
}
