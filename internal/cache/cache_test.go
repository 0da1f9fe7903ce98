package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReportKey_MinuteBucket(t *testing.T) {
	a := time.Date(2025, 1, 1, 10, 15, 5, 0, time.UTC)
	b := a.Add(40 * time.Second)
	c := a.Add(time.Minute)

	assert.Equal(t, ReportKey("m1", "report", a), ReportKey("m1", "report", b))
	assert.NotEqual(t, ReportKey("m1", "report", a), ReportKey("m1", "report", c))
	assert.NotEqual(t, ReportKey("m1", "report", a), ReportKey("m2", "report", a))
}

func exercise(t *testing.T, c Cache) {
	t.Helper()
	ctx := context.Background()
	now := time.Now()

	k1 := ReportKey("m1", "report", now)
	k2 := ReportKey("m1", "badge", now)
	k3 := ReportKey("m10", "report", now)

	_, ok, err := c.Get(ctx, k1)
	require.NoError(t, err)
	assert.False(t, ok)

	for _, k := range []string{k1, k2, k3} {
		require.NoError(t, c.Set(ctx, k, []byte(`{"v":1}`), time.Minute))
	}

	v, ok, err := c.Get(ctx, k1)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.JSONEq(t, `{"v":1}`, string(v))

	require.NoError(t, c.InvalidateMonitor(ctx, "m1"))

	_, ok, _ = c.Get(ctx, k1)
	assert.False(t, ok)
	_, ok, _ = c.Get(ctx, k2)
	assert.False(t, ok)
	// m10 shares the m1 prefix but not the separator
	_, ok, _ = c.Get(ctx, k3)
	assert.True(t, ok)
}

func TestMemoryCache(t *testing.T) {
	exercise(t, NewMemoryCache())
}

func TestMemoryCache_Expiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewMemoryCache()
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set(ctx, "k", []byte("x"), time.Minute))
	_, ok, _ := c.Get(ctx, "k")
	assert.True(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok, _ = c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestMemoryCache_SweepsRolledBuckets(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewMemoryCache()
	c.now = func() time.Time { return now }

	for i := 0; i < 24*60; i++ {
		require.NoError(t, c.Set(ctx, ReportKey("m1", "badge-30d", now), []byte("x"), time.Minute))
		now = now.Add(time.Minute)
	}

	c.mu.Lock()
	n := len(c.entries)
	c.mu.Unlock()
	assert.LessOrEqual(t, n, 2)
}

func TestNopCache(t *testing.T) {
	ctx := context.Background()
	var c Cache = NopCache{}
	require.NoError(t, c.Set(ctx, "k", []byte("x"), time.Minute))
	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisCache(t *testing.T) {
	addr := os.Getenv("CRONGUARD_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CRONGUARD_TEST_REDIS_ADDR not set")
	}
	c, err := NewRedisCache(context.Background(), addr, "", 0)
	require.NoError(t, err)
	defer c.Close()

	exercise(t, c)
}
