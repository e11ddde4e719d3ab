package clients

import (
	"context"
	"testing"
	"time"

	"brokerdesk/api/internal/dates"

	"github.com/alicebob/miniredis/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSnapshot() Snapshot {
	return Snapshot{
		ResolvedAt: time.Date(2025, time.June, 15, 12, 0, 0, 0, time.UTC),
		Profiles: []ClientProfile{{
			ID:          "ana",
			DisplayName: "Ana",
			Sources:     []string{"autos"},
			Policies: []*PolicySummary{{
				RecordID: "a-1",
				Source:   "autos",
				EndDate:  dates.New(2026, time.January, 1),
				Premium:  decimal.RequireFromString("1200.50"),
			}},
			ActivePolicies: 1,
			TotalPolicies:  1,
		}},
	}
}

func TestMemoryCacheExpiry(t *testing.T) {
	clk := &testClock{t: time.Date(2025, time.June, 15, 12, 0, 0, 0, time.UTC)}
	c := NewMemoryCache(time.Minute, clk.Now)
	ctx := context.Background()

	_, ok, err := c.Load(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Store(ctx, sampleSnapshot()))
	assert.Equal(t, clk.Now().Add(time.Minute), c.ExpiresAt())

	snap, ok, err := c.Load(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, snap.Profiles, 1)

	clk.Advance(time.Minute)
	_, ok, err = c.Load(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "expires at exactly the TTL")
}

func TestMemoryCacheInvalidate(t *testing.T) {
	c := NewMemoryCache(0, nil)
	ctx := context.Background()
	require.NoError(t, c.Store(ctx, sampleSnapshot()))
	require.NoError(t, c.Invalidate(ctx))

	_, ok, err := c.Load(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func setupRedisCache(t *testing.T, ttl time.Duration) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	c, err := NewRedisCache("redis://"+s.Addr(), ttl)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, s
}

func TestRedisCacheRoundTrip(t *testing.T) {
	c, s := setupRedisCache(t, time.Minute)
	ctx := context.Background()
	require.NoError(t, c.Ping(ctx))

	_, ok, err := c.Load(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Store(ctx, sampleSnapshot()))
	assert.Equal(t, time.Minute, s.TTL(defaultRedisKey))

	snap, ok, err := c.Load(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, snap.Profiles, 1)
	policy := snap.Profiles[0].Policies[0]
	assert.Equal(t, "2026-01-01", policy.EndDate.String())
	assert.True(t, policy.Premium.Equal(decimal.RequireFromString("1200.50")))
	assert.False(t, policy.StartDate.IsKnown())
}

func TestRedisCacheExpires(t *testing.T) {
	c, s := setupRedisCache(t, time.Minute)
	ctx := context.Background()
	require.NoError(t, c.Store(ctx, sampleSnapshot()))

	s.FastForward(time.Minute + time.Second)

	_, ok, err := c.Load(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisCacheInvalidateAndPrefix(t *testing.T) {
	c, s := setupRedisCache(t, time.Minute)
	ctx := context.Background()

	scoped := c.WithKeyPrefix("team_t2")
	require.NoError(t, scoped.Store(ctx, sampleSnapshot()))
	assert.True(t, s.Exists("team_t2:"+defaultRedisKey))
	assert.False(t, s.Exists(defaultRedisKey))

	require.NoError(t, scoped.Invalidate(ctx))
	_, ok, err := scoped.Load(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNewRedisCacheRejectsBadURL(t *testing.T) {
	_, err := NewRedisCache("not a url", time.Minute)
	assert.Error(t, err)
}
