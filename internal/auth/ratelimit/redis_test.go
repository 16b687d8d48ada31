package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawl-admission/internal/admission"
)

type fakeRedis struct {
	counts  map[string]int64
	expires map[string]time.Duration
	ttl     time.Duration
	incrErr error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{counts: map[string]int64{}, expires: map[string]time.Duration{}}
}

func (f *fakeRedis) Incr(_ context.Context, key string) *goredis.IntCmd {
	if f.incrErr != nil {
		return goredis.NewIntResult(0, f.incrErr)
	}
	f.counts[key]++
	return goredis.NewIntResult(f.counts[key], nil)
}

func (f *fakeRedis) PExpire(_ context.Context, key string, expiration time.Duration) *goredis.BoolCmd {
	f.expires[key] = expiration
	return goredis.NewBoolResult(true, nil)
}

func (f *fakeRedis) PTTL(_ context.Context, _ string) *goredis.DurationCmd {
	return goredis.NewDurationResult(f.ttl, nil)
}

func TestRedisAllowWindow(t *testing.T) {
	t.Parallel()

	fr := newFakeRedis()
	fr.ttl = 12 * time.Second
	l, err := NewRedis(fr, Config{DefaultRPM: 2}, "rl:")
	require.NoError(t, err)
	now := time.UnixMilli(1700000040000)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := l.Allow(ctx, "team-a", admission.ModeCrawl)
		require.NoError(t, err)
		require.True(t, res.Allowed)
	}
	res, err := l.Allow(ctx, "team-a", admission.ModeCrawl)
	require.NoError(t, err)
	require.False(t, res.Allowed)
	require.Equal(t, 12*time.Second, res.RetryAfter)

	key := "rl:crawl:team-a:28333334"
	require.Equal(t, int64(3), fr.counts[key])
	require.Equal(t, time.Minute, fr.expires[key])
}

func TestRedisRetryFallsBackToWindowEnd(t *testing.T) {
	t.Parallel()

	fr := newFakeRedis()
	fr.ttl = -1
	l, err := NewRedis(fr, Config{DefaultRPM: 1}, "")
	require.NoError(t, err)
	// 20s into a window.
	now := time.UnixMilli(60000*28333334 + 20000)
	l.now = func() time.Time { return now }

	_, err = l.Allow(context.Background(), "team-a", admission.ModeCrawl)
	require.NoError(t, err)
	res, err := l.Allow(context.Background(), "team-a", admission.ModeCrawl)
	require.NoError(t, err)
	require.False(t, res.Allowed)
	require.Equal(t, 40*time.Second, res.RetryAfter)
}

func TestRedisErrors(t *testing.T) {
	t.Parallel()

	fr := newFakeRedis()
	fr.incrErr = errors.New("redis down")
	l, err := NewRedis(fr, Config{DefaultRPM: 1}, "")
	require.NoError(t, err)

	_, err = l.Allow(context.Background(), "team-a", admission.ModeCrawl)
	require.ErrorContains(t, err, "increment rate window")

	_, err = NewRedis(nil, Config{}, "")
	require.Error(t, err)
}

func TestRedisUnlimitedSkipsRedis(t *testing.T) {
	t.Parallel()

	fr := newFakeRedis()
	fr.incrErr = errors.New("should not be called")
	l, err := NewRedis(fr, Config{}, "")
	require.NoError(t, err)

	res, err := l.Allow(context.Background(), "team-a", admission.ModeCrawl)
	require.NoError(t, err)
	require.True(t, res.Allowed)
}
