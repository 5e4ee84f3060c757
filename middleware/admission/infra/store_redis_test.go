package infra

import (
	"context"
	"fmt"
	"testing"
	"time"

	"admission-gateway/middleware/admission/domain"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func redisForTest(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		t.Skipf("Skipping integration test: Redis not available (%v)", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisStore_FixedWindow(t *testing.T) {
	rdb := redisForTest(t)
	ctx := context.Background()
	prefix := fmt.Sprintf("it_admission_%d", time.Now().UnixNano())
	s := NewRedisStore(rdb, WithStorePrefix(prefix))

	for i := 1; i <= 3; i++ {
		res, err := s.CheckAndIncrement(ctx, "k", time.Minute, 3)
		require.NoError(t, err)
		require.True(t, res.Allowed, "request %d", i)
		assert.Equal(t, 3-i, res.Remaining)
	}
	for i := 1; i <= 3; i++ {
		res, err := s.CheckAndIncrement(ctx, "k", time.Minute, 3)
		require.NoError(t, err)
		assert.False(t, res.Allowed)
		assert.Equal(t, 4, res.Count, "count caps at limit+1")
		assert.Equal(t, i, res.Violations)
	}

	ttl, err := rdb.PTTL(ctx, prefix+":k").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}

func TestRedisStore_WindowResetsWithClock(t *testing.T) {
	rdb := redisForTest(t)
	ctx := context.Background()
	clk := newFakeClock()
	clk.now = time.Now()
	prefix := fmt.Sprintf("it_admission_%d", time.Now().UnixNano())
	s := NewRedisStore(rdb, WithStorePrefix(prefix), WithRedisClock(clk.Now))

	_, _ = s.CheckAndIncrement(ctx, "k", 5*time.Second, 1)
	res, _ := s.CheckAndIncrement(ctx, "k", 5*time.Second, 1)
	require.False(t, res.Allowed)

	clk.Advance(5 * time.Second)
	res, err := s.CheckAndIncrement(ctx, "k", 5*time.Second, 1)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 0, res.Violations)
}

func TestRedisStore_UnavailableIsTagged(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	defer func() { _ = rdb.Close() }()

	_, err := NewRedisStore(rdb).CheckAndIncrement(context.Background(), "k", time.Second, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
}

func TestRedisBlockStore_RoundTrip(t *testing.T) {
	rdb := redisForTest(t)
	ctx := context.Background()
	s := NewRedisBlockStore(rdb, fmt.Sprintf("it_block_%d", time.Now().UnixNano()))

	exp := time.Now().Add(time.Minute)
	entry := domain.BlacklistEntry{IP: "10.1.1.1", Kind: domain.KindTemporary, Reason: "test", AddedAt: time.Now(), ExpiresAt: &exp}
	require.NoError(t, s.Put(ctx, entry))

	got, ok, err := s.Get(ctx, "10.1.1.1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.KindTemporary, got.Kind)

	require.NoError(t, s.Delete(ctx, "10.1.1.1"))
	_, ok, err = s.Get(ctx, "10.1.1.1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisEventSink_Emit(t *testing.T) {
	rdb := redisForTest(t)
	ctx := context.Background()
	prefix := fmt.Sprintf("it_events_%d", time.Now().UnixNano())
	s := NewRedisEventSink(rdb, WithEventPrefix(prefix), WithEventMaxLen(100))

	err := s.Emit(ctx, domain.SecurityEvent{
		Type:     domain.EventRateLimitExceeded,
		Severity: domain.SeverityMedium,
		IP:       "10.0.0.1",
		Details:  map[string]string{"class": "general"},
	})
	require.NoError(t, err)

	n, err := rdb.XLen(ctx, prefix).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	c, err := rdb.HGet(ctx, prefix+":count", string(domain.EventRateLimitExceeded)).Int64()
	require.NoError(t, err)
	assert.Equal(t, int64(1), c)
}

func TestRedisStatsStore_RecordsTotalsAndMinuteSeries(t *testing.T) {
	rdb := redisForTest(t)
	ctx := context.Background()
	prefix := fmt.Sprintf("it_stats_%d", time.Now().UnixNano())
	at := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)
	s := NewRedisStatsStore(rdb, WithStatsPrefix(prefix), WithStatsTTL(time.Minute), WithStatsTrackKeys(true))

	require.NoError(t, s.Record(ctx, domain.StatsEvent{Key: "ip:1.2.3.4", Allowed: true, Stage: domain.StageAllowed, Class: domain.ClassGeneral, At: at}))
	require.NoError(t, s.Record(ctx, domain.StatsEvent{Key: "ip:1.2.3.4", Allowed: false, Stage: domain.StageRateLimit, Class: domain.ClassGeneral, At: at}))

	total, err := rdb.HGetAll(ctx, prefix+":total").Result()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"allowed": "1", "denied": "1"}, total)

	minute, err := rdb.HGetAll(ctx, prefix+":minute:202603011230").Result()
	require.NoError(t, err)
	assert.Equal(t, "1", minute[string(domain.StageRateLimit)])

	ttl, err := rdb.TTL(ctx, prefix+":key:ip:1.2.3.4").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}
