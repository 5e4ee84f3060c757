package application

import (
	"context"
	"testing"
	"time"

	"admission-gateway/middleware/admission/domain"
	"admission-gateway/middleware/admission/infra"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T, clk *fakeClock, cfg RateLimiterConfig) *RateLimiter {
	t.Helper()
	if cfg.Store == nil {
		cfg.Store = infra.NewMemoryStore(infra.WithClock(clk.Now))
	}
	cfg.Logger = discardLogger()
	cfg.Now = clk.Now
	rl, err := NewRateLimiter(cfg)
	require.NoError(t, err)
	return rl
}

func TestRateLimiter_AllowsLimitThenDenies(t *testing.T) {
	clk := newFakeClock()
	rl := newTestLimiter(t, clk, RateLimiterConfig{})
	ctx := context.Background()
	id := domain.ClientIdentity{IP: "203.0.113.1", Class: domain.ClassGeneral, Path: "/api/orders"}

	for i := 1; i <= 100; i++ {
		d, err := rl.Check(ctx, id)
		require.NoError(t, err)
		require.True(t, d.Allowed, "request %d", i)
		assert.Equal(t, 100-i, d.Remaining)
		assert.Equal(t, 100, d.Limit)
	}

	clk.Advance(15 * time.Second)
	d, err := rl.Check(ctx, id)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 45*time.Second, d.RetryAfter)
	assert.Equal(t, 1, d.Violations)
}

func TestRateLimiter_WindowBoundaryResets(t *testing.T) {
	clk := newFakeClock()
	rl := newTestLimiter(t, clk, RateLimiterConfig{
		Quotas: map[domain.APIClass]domain.Quota{domain.ClassGeneral: {Limit: 2, Window: time.Minute}},
	})
	ctx := context.Background()
	id := domain.ClientIdentity{IP: "203.0.113.2", Class: domain.ClassGeneral}

	for i := 0; i < 5; i++ {
		_, _ = rl.Check(ctx, id)
	}

	clk.Advance(time.Minute)
	d, err := rl.Check(ctx, id)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 1, d.Remaining)
	assert.Zero(t, d.Violations)
}

func TestRateLimiter_RetryAfterHasFloor(t *testing.T) {
	clk := newFakeClock()
	rl := newTestLimiter(t, clk, RateLimiterConfig{
		Quotas: map[domain.APIClass]domain.Quota{domain.ClassGeneral: {Limit: 1, Window: time.Second}},
	})
	ctx := context.Background()
	id := domain.ClientIdentity{IP: "203.0.113.3"}

	_, _ = rl.Check(ctx, id)
	clk.Advance(900 * time.Millisecond)
	d, _ := rl.Check(ctx, id)
	assert.False(t, d.Allowed)
	assert.Equal(t, time.Second, d.RetryAfter)
}

func TestRateLimiter_EscalatesEveryFiveViolations(t *testing.T) {
	clk := newFakeClock()
	esc := &recordingEscalator{}
	rl := newTestLimiter(t, clk, RateLimiterConfig{
		Quotas:    map[domain.APIClass]domain.Quota{domain.ClassGeneral: {Limit: 3, Window: time.Minute}},
		Escalator: esc,
	})
	ctx := context.Background()
	id := domain.ClientIdentity{IP: "203.0.113.4"}

	for i := 0; i < 3+4; i++ {
		_, _ = rl.Check(ctx, id)
	}
	assert.Zero(t, esc.Calls())

	_, _ = rl.Check(ctx, id)
	assert.Equal(t, 1, esc.Calls())

	for i := 0; i < 5; i++ {
		_, _ = rl.Check(ctx, id)
	}
	assert.Equal(t, 2, esc.Calls())
}

func TestRateLimiter_FiveViolationsCreateTemporaryBlock(t *testing.T) {
	clk := newFakeClock()
	bl := NewBlacklist(BlacklistConfig{Logger: discardLogger(), Now: clk.Now})
	rl := newTestLimiter(t, clk, RateLimiterConfig{
		Quotas:    map[domain.APIClass]domain.Quota{domain.ClassGeneral: {Limit: 100, Window: time.Minute}},
		Escalator: bl,
	})
	ctx := context.Background()
	id := domain.ClientIdentity{IP: "203.0.113.5"}

	for i := 0; i < 105; i++ {
		_, _ = rl.Check(ctx, id)
	}

	entry, blocked, err := bl.IsBlacklisted(ctx, id.IP)
	require.NoError(t, err)
	require.True(t, blocked)
	assert.Equal(t, domain.KindTemporary, entry.Kind)
	assert.Equal(t, clk.Now().Add(5*time.Minute), *entry.ExpiresAt)
}

func TestRateLimiter_PerUserClassesSplitSharedIP(t *testing.T) {
	clk := newFakeClock()
	rl := newTestLimiter(t, clk, RateLimiterConfig{
		Quotas: map[domain.APIClass]domain.Quota{
			domain.ClassGeneral: {Limit: 1, Window: time.Minute},
			domain.ClassAdmin:   {Limit: 1, Window: time.Minute, PerUser: true},
		},
	})
	ctx := context.Background()

	alice := domain.ClientIdentity{IP: "192.0.2.10", UserID: "alice", Class: domain.ClassAdmin}
	bob := domain.ClientIdentity{IP: "192.0.2.10", UserID: "bob", Class: domain.ClassAdmin}

	d, _ := rl.Check(ctx, alice)
	assert.True(t, d.Allowed)
	d, _ = rl.Check(ctx, bob)
	assert.True(t, d.Allowed, "per-user quota must not be shared across users on one IP")
	d, _ = rl.Check(ctx, alice)
	assert.False(t, d.Allowed)

	// general é por IP: o usuário não importa.
	carol := domain.ClientIdentity{IP: "192.0.2.11", UserID: "carol"}
	dave := domain.ClientIdentity{IP: "192.0.2.11", UserID: "dave"}
	d, _ = rl.Check(ctx, carol)
	assert.True(t, d.Allowed)
	d, _ = rl.Check(ctx, dave)
	assert.False(t, d.Allowed)
}

func TestRateLimiter_UnknownClassFallsBackToGeneral(t *testing.T) {
	clk := newFakeClock()
	rl := newTestLimiter(t, clk, RateLimiterConfig{})

	q, class := rl.Quota("reports")
	assert.Equal(t, domain.ClassGeneral, class)
	assert.Equal(t, 100, q.Limit)

	d, err := rl.Check(context.Background(), domain.ClientIdentity{IP: "192.0.2.1", Class: "reports"})
	require.NoError(t, err)
	assert.Equal(t, domain.ClassGeneral, d.Class)
}

func TestRateLimiter_EmergencyTightensLimits(t *testing.T) {
	clk := newFakeClock()
	emergency := false
	rl := newTestLimiter(t, clk, RateLimiterConfig{
		Quotas: map[domain.APIClass]domain.Quota{
			domain.ClassGeneral: {Limit: 10, Window: time.Minute},
			domain.ClassAuth:    {Limit: 1, Window: time.Minute},
		},
		Emergency: func() bool { return emergency },
	})
	ctx := context.Background()

	emergency = true
	for i := 1; i <= 5; i++ {
		d, _ := rl.Check(ctx, domain.ClientIdentity{IP: "192.0.2.2"})
		require.True(t, d.Allowed, "request %d", i)
		assert.Equal(t, 5, d.Limit)
	}
	d, _ := rl.Check(ctx, domain.ClientIdentity{IP: "192.0.2.2"})
	assert.False(t, d.Allowed)

	d, _ = rl.Check(ctx, domain.ClientIdentity{IP: "192.0.2.3", Class: domain.ClassAuth})
	assert.Equal(t, 1, d.Limit, "emergency limit never drops below 1")
	assert.True(t, d.Allowed)
}

func TestRateLimiter_StoreFailureFailsOpen(t *testing.T) {
	clk := newFakeClock()
	rl := newTestLimiter(t, clk, RateLimiterConfig{Store: failingCounterStore{}})

	d, err := rl.Check(context.Background(), domain.ClientIdentity{IP: "192.0.2.4"})
	require.ErrorIs(t, err, errStoreDown)
	assert.True(t, d.Allowed)
	assert.Equal(t, 100, d.Remaining)
}

func TestNewRateLimiter_Validation(t *testing.T) {
	store := infra.NewMemoryStore()

	_, err := NewRateLimiter(RateLimiterConfig{})
	assert.Error(t, err)

	_, err = NewRateLimiter(RateLimiterConfig{Store: store, Quotas: map[domain.APIClass]domain.Quota{
		domain.ClassSearch: {Limit: 1, Window: time.Second},
	}})
	assert.Error(t, err, "general quota is mandatory")

	_, err = NewRateLimiter(RateLimiterConfig{Store: store, Quotas: map[domain.APIClass]domain.Quota{
		domain.ClassGeneral: {Limit: 0, Window: time.Second},
	}})
	assert.Error(t, err)

	_, err = NewRateLimiter(RateLimiterConfig{Store: store, Quotas: map[domain.APIClass]domain.Quota{
		domain.ClassGeneral: {Limit: 1},
	}})
	assert.Error(t, err)
}
