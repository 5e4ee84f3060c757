package infra

import (
	"context"
	"sync"
	"testing"
	"time"

	"admission-gateway/middleware/admission/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestMemoryStore_AllowsUpToLimitThenDenies(t *testing.T) {
	clk := newFakeClock()
	s := NewMemoryStore(WithClock(clk.Now))
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		res, err := s.CheckAndIncrement(ctx, "k", time.Minute, 3)
		require.NoError(t, err)
		require.True(t, res.Allowed, "request %d", i)
		assert.Equal(t, 3-i, res.Remaining)
		assert.False(t, res.Violated)
	}

	res, err := s.CheckAndIncrement(ctx, "k", time.Minute, 3)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.True(t, res.Violated)
	assert.Equal(t, 0, res.Remaining)
	assert.Equal(t, 1, res.Violations)
	assert.Equal(t, clk.Now().Add(time.Minute), res.ResetAt)
}

func TestMemoryStore_CountCapsAtLimitPlusOne(t *testing.T) {
	clk := newFakeClock()
	s := NewMemoryStore(WithClock(clk.Now))

	for i := 0; i < 20; i++ {
		_, err := s.CheckAndIncrement(context.Background(), "k", time.Minute, 5)
		require.NoError(t, err)
	}

	ent, ok := s.Entry("k")
	require.True(t, ok)
	assert.Equal(t, 6, ent.Count)
	assert.Equal(t, 15, ent.Violations)
}

func TestMemoryStore_NewWindowAtExactReset(t *testing.T) {
	clk := newFakeClock()
	s := NewMemoryStore(WithClock(clk.Now))
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, _ = s.CheckAndIncrement(ctx, "k", time.Minute, 2)
	}

	clk.Advance(time.Minute)

	res, err := s.CheckAndIncrement(ctx, "k", time.Minute, 2)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 1, res.Count)
	assert.Equal(t, 0, res.Violations, "violations belong to the replaced window")
}

func TestMemoryStore_SweepRemovesOnlyExpired(t *testing.T) {
	clk := newFakeClock()
	s := NewMemoryStore(WithClock(clk.Now), WithShards(4))
	ctx := context.Background()

	_, _ = s.CheckAndIncrement(ctx, "short", time.Second, 10)
	_, _ = s.CheckAndIncrement(ctx, "long", time.Hour, 10)
	require.Equal(t, 2, s.Len())

	removed := s.Sweep(clk.Now().Add(2 * time.Second))
	assert.Equal(t, 1, removed)
	_, ok := s.Entry("long")
	assert.True(t, ok)
	_, ok = s.Entry("short")
	assert.False(t, ok)
}

func TestMemoryStore_ConcurrentIncrementsAreNotLost(t *testing.T) {
	s := NewMemoryStore()
	const workers, perWorker = 50, 40

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				_, _ = s.CheckAndIncrement(context.Background(), "shared", time.Hour, 1_000_000)
			}
		}()
	}
	wg.Wait()

	ent, ok := s.Entry("shared")
	require.True(t, ok)
	assert.Equal(t, workers*perWorker, ent.Count)
}

func TestMemoryStore_RejectsZeroWindow(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.CheckAndIncrement(context.Background(), domain.Key("k"), 0, 1)
	assert.Error(t, err)
}
