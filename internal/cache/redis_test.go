package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/dengruihan/Raymond-Analysis/internal/cache"
	"github.com/dengruihan/Raymond-Analysis/internal/metrics"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *cache.Redis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := cache.NewRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}), cache.Options{
		Logger: zerolog.Nop(),
	})
	t.Cleanup(func() { _ = c.Close() })
	return mr, c
}

func TestRedisGetSet(t *testing.T) {
	ctx := context.Background()
	mr, c := newRedis(t)

	_, out := c.Get(ctx, "missing")
	require.Equal(t, cache.Miss, out)

	require.Equal(t, cache.OK, c.Set(ctx, cache.OnlineUsersKey, "7", 5*time.Minute))
	v, out := c.Get(ctx, cache.OnlineUsersKey)
	require.Equal(t, cache.OK, out)
	require.Equal(t, "7", v)
	require.Equal(t, 5*time.Minute, mr.TTL(cache.OnlineUsersKey))

	n, out := cache.GetInt64(ctx, c, cache.OnlineUsersKey)
	require.Equal(t, cache.OK, out)
	require.EqualValues(t, 7, n)

	require.Equal(t, cache.OK, c.Set(ctx, cache.AvgDurationKey, "12.5", 0))
	f, out := cache.GetFloat64(ctx, c, cache.AvgDurationKey)
	require.Equal(t, cache.OK, out)
	require.InDelta(t, 12.5, f, 0.0001)

	require.Equal(t, cache.OK, c.Set(ctx, "junk", "abc", 0))
	_, out = cache.GetInt64(ctx, c, "junk")
	require.Equal(t, cache.Miss, out)
}

func TestRedisCounters(t *testing.T) {
	ctx := context.Background()
	mr, c := newRedis(t)
	day := "2026-03-01"

	require.Equal(t, cache.OK, c.IncrBy(ctx, cache.PageViewsKey(day), 1, cache.DailyTTL))
	require.Equal(t, cache.OK, c.IncrBy(ctx, cache.PageViewsKey(day), 2, cache.DailyTTL))
	got, err := mr.Get(cache.PageViewsKey(day))
	require.NoError(t, err)
	require.Equal(t, "3", got)
	require.Equal(t, cache.DailyTTL, mr.TTL(cache.PageViewsKey(day)))

	require.Equal(t, cache.OK, c.HIncrBy(ctx, cache.DailyEventsKey(day), "click", 1, cache.DailyTTL))
	require.Equal(t, cache.OK, c.HIncrBy(ctx, cache.DailyEventsKey(day), "click", 1, cache.DailyTTL))
	require.Equal(t, cache.OK, c.HIncrBy(ctx, cache.DailyEventsKey(day), "submit", 1, cache.DailyTTL))
	m, out := c.HGetAll(ctx, cache.DailyEventsKey(day))
	require.Equal(t, cache.OK, out)
	require.Equal(t, map[string]string{"click": "2", "submit": "1"}, m)

	_, out = c.HGetAll(ctx, "nothing")
	require.Equal(t, cache.Miss, out)
}

func TestRedisZTopTieBreak(t *testing.T) {
	ctx := context.Background()
	_, c := newRedis(t)
	key := cache.TopPagesKey("2026-03-01")

	for url, n := range map[string]float64{"A": 5, "B": 3, "C": 3, "D": 1} {
		require.Equal(t, cache.OK, c.ZIncrBy(ctx, key, url, n, cache.DailyTTL))
	}

	top, out := c.ZTop(ctx, key, 2)
	require.Equal(t, cache.OK, out)
	require.Equal(t, []cache.Member{{Name: "A", Score: 5}, {Name: "B", Score: 3}}, top)

	top, out = c.ZTop(ctx, key, 10)
	require.Equal(t, cache.OK, out)
	require.Equal(t, []cache.Member{
		{Name: "A", Score: 5}, {Name: "B", Score: 3}, {Name: "C", Score: 3}, {Name: "D", Score: 1},
	}, top)

	_, out = c.ZTop(ctx, "empty", 3)
	require.Equal(t, cache.Miss, out)
}

func TestRedisReplace(t *testing.T) {
	ctx := context.Background()
	mr, c := newRedis(t)
	day := "2026-03-01"
	zkey, hkey := cache.TopPagesKey(day), cache.DailyEventsKey(day)

	require.Equal(t, cache.OK, c.ZIncrBy(ctx, zkey, "/stale", 40, 0))
	require.Equal(t, cache.OK, c.HIncrBy(ctx, hkey, "stale", 9, 0))

	require.Equal(t, cache.OK, c.ReplaceZSet(ctx, zkey, []cache.Member{
		{Name: "/a", Score: 2}, {Name: "/b", Score: 1},
	}, cache.DailyTTL))
	top, out := c.ZTop(ctx, zkey, 10)
	require.Equal(t, cache.OK, out)
	require.Equal(t, []cache.Member{{Name: "/a", Score: 2}, {Name: "/b", Score: 1}}, top)
	require.Equal(t, cache.DailyTTL, mr.TTL(zkey))

	require.Equal(t, cache.OK, c.ReplaceHash(ctx, hkey, map[string]int64{"click": 3}, cache.DailyTTL))
	m, out := c.HGetAll(ctx, hkey)
	require.Equal(t, cache.OK, out)
	require.Equal(t, map[string]string{"click": "3"}, m)
	require.Equal(t, cache.DailyTTL, mr.TTL(hkey))

	require.Equal(t, cache.OK, c.ReplaceZSet(ctx, zkey, nil, cache.DailyTTL))
	require.False(t, mr.Exists(zkey))
	require.Equal(t, cache.OK, c.ReplaceHash(ctx, hkey, nil, cache.DailyTTL))
	require.False(t, mr.Exists(hkey))

	require.Equal(t, cache.Unavailable, cache.Disabled{}.ReplaceZSet(ctx, zkey, nil, 0))
	require.Equal(t, cache.Unavailable, cache.Disabled{}.ReplaceHash(ctx, hkey, nil, 0))
}

func TestRedisUnavailable(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	mr := miniredis.RunT(t)
	c := cache.NewRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}), cache.Options{
		ProbeTimeout: 50 * time.Millisecond,
		OpTimeout:    50 * time.Millisecond,
		Logger:       zerolog.Nop(),
		Metrics:      m,
	})
	t.Cleanup(func() { _ = c.Close() })

	require.True(t, c.Available(ctx))

	mr.SetError("ERR forced failure")
	require.False(t, c.Available(ctx))
	require.Equal(t, cache.Unavailable, c.IncrBy(ctx, "k", 1, 0))
	_, out := c.Get(ctx, "k")
	require.Equal(t, cache.Unavailable, out)
	_, out = c.ZTop(ctx, "z", 3)
	require.Equal(t, cache.Unavailable, out)
	require.Equal(t, float64(1), testutil.ToFloat64(m.CacheOps.WithLabelValues("incrby", "unavailable")))

	mr.SetError("")
	require.True(t, c.Available(ctx))
	require.Equal(t, cache.OK, c.IncrBy(ctx, "k", 1, 0))
}

func TestDisabled(t *testing.T) {
	ctx := context.Background()
	var c cache.Cache = cache.Disabled{}
	require.False(t, c.Available(ctx))
	require.Equal(t, cache.Unavailable, c.Set(ctx, "k", "v", 0))
	n, out := cache.GetInt64(ctx, c, "k")
	require.Equal(t, cache.Unavailable, out)
	require.Zero(t, n)
}

func TestDial(t *testing.T) {
	_, err := cache.Dial("not a url", cache.Options{})
	require.Error(t, err)

	mr := miniredis.RunT(t)
	c, err := cache.Dial("redis://"+mr.Addr()+"/0", cache.Options{Logger: zerolog.Nop()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	require.True(t, c.Available(context.Background()))
}

func TestDay(t *testing.T) {
	loc := time.FixedZone("UTC+8", 8*3600)
	ts := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	require.Equal(t, "2026-03-02", cache.Day(ts, loc))
	require.Equal(t, "2026-03-01", cache.Day(ts, time.UTC))
}
