package application

import (
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"admission-gateway/middleware/admission/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAnalyzer(opts ...PatternOption) *PatternAnalyzer {
	opts = append([]PatternOption{WithPatternLogger(discardLogger())}, opts...)
	return NewPatternAnalyzer(PatternConfig{}, opts...)
}

// feed manda n requests para o mesmo endpoint; identidade i%unique, as
// primeiras `authenticated` autenticadas. Devolve o último veredito e se
// algum foi ataque.
func feed(a *PatternAnalyzer, at time.Time, n, unique, authenticated int) (domain.PatternVerdict, bool) {
	var (
		last    domain.PatternVerdict
		flagged bool
	)
	for i := 0; i < n; i++ {
		last = a.Observe(domain.Observation{
			Endpoint:      "/api/orders",
			Identity:      fmt.Sprintf("id-%d", i%unique),
			IP:            fmt.Sprintf("198.51.100.%d", i%unique),
			Authenticated: i < authenticated,
			At:            at,
		})
		flagged = flagged || last.Attack
	}
	return last, flagged
}

func TestPatternAnalyzer_FlagsUnauthenticatedFlood(t *testing.T) {
	a := newTestAnalyzer()
	at := newFakeClock().Now()

	v, _ := feed(a, at, 150, 30, 5)
	assert.True(t, v.Attack)
	assert.Equal(t, 150, v.RequestCount)
	assert.Equal(t, 30, v.UniqueSources)
	assert.InDelta(t, 0.033, v.AuthRatio, 0.001)
	assert.Equal(t, domain.StatusUnderAttack, a.Status())
}

func TestPatternAnalyzer_AuthenticatedTrafficIsNotFlagged(t *testing.T) {
	a := newTestAnalyzer()
	at := newFakeClock().Now()

	v, flagged := feed(a, at, 150, 30, 140)
	assert.False(t, flagged)
	assert.False(t, v.Attack)
	assert.InDelta(t, 0.933, v.AuthRatio, 0.001)
	assert.Equal(t, domain.StatusMonitoring, a.Status())
}

func TestPatternAnalyzer_FlagsSpikeRegardlessOfMix(t *testing.T) {
	a := newTestAnalyzer()
	at := newFakeClock().Now()

	_, flagged := feed(a, at, 200, 1, 200)
	assert.False(t, flagged, "200 requests is still under the spike threshold")

	v := a.Observe(domain.Observation{Endpoint: "/api/orders", Identity: "id-0", Authenticated: true, At: at})
	assert.True(t, v.Attack)
	assert.Equal(t, "request spike", v.Reason)
}

func TestPatternAnalyzer_BucketsAreSeparatedByTimeAndEndpoint(t *testing.T) {
	a := newTestAnalyzer()
	clk := newFakeClock()

	feed(a, clk.Now(), 150, 1, 150)
	v, _ := feed(a, clk.Now().Add(10*time.Second), 1, 1, 0)
	assert.Equal(t, 1, v.RequestCount, "new 10s bucket starts from zero")

	other := a.Observe(domain.Observation{Endpoint: "/api/users", Identity: "x", At: clk.Now()})
	assert.Equal(t, 1, other.RequestCount)

	assert.Len(t, a.Buckets(), 3)
}

func TestPatternAnalyzer_BotnetSignature(t *testing.T) {
	at := newFakeClock().Now()
	observe := func(a *PatternAnalyzer, n int) (domain.PatternVerdict, int) {
		var (
			v      domain.PatternVerdict
			onsets int
		)
		for i := 0; i < n; i++ {
			v = a.Observe(domain.Observation{
				Endpoint:        fmt.Sprintf("/api/item/%d", i),
				Identity:        fmt.Sprintf("id-%d", i),
				HeaderSignature: "sig-1",
				At:              at.Add(time.Duration(i) * 100 * time.Millisecond),
			})
			if v.BotnetOnset {
				onsets++
			}
		}
		return v, onsets
	}

	v, onsets := observe(newTestAnalyzer(), 29)
	assert.False(t, v.Botnet)
	assert.Zero(t, onsets)

	v, _ = observe(newTestAnalyzer(), 30)
	assert.False(t, v.Botnet, "30 repeats is not more than the threshold")

	v, onsets = observe(newTestAnalyzer(), 31)
	assert.True(t, v.Botnet)
	assert.Equal(t, 31, v.SignatureCount)
	assert.Equal(t, 1, onsets)
	assert.False(t, v.Attack, "botnet signature alone is reported, not denied")
}

func TestPatternAnalyzer_BotnetWindowResets(t *testing.T) {
	a := newTestAnalyzer()
	at := newFakeClock().Now()

	for i := 0; i < 30; i++ {
		a.Observe(domain.Observation{Endpoint: "/api/a", Identity: "x", HeaderSignature: "sig", At: at})
	}
	v := a.Observe(domain.Observation{Endpoint: "/api/a", Identity: "x", HeaderSignature: "sig", At: at.Add(30 * time.Second)})
	assert.False(t, v.Botnet)
	assert.Equal(t, 1, v.SignatureCount)
}

func TestPatternAnalyzer_EmergencyModeAndSweep(t *testing.T) {
	var on, off atomic.Int32
	a := newTestAnalyzer(WithEmergencyHook(func(active bool) {
		if active {
			on.Add(1)
		} else {
			off.Add(1)
		}
	}))
	clk := newFakeClock()

	_, _ = feed(a, clk.Now(), 51, 51, 51)
	require.True(t, a.Emergency(), "more than 50 unique sources raises emergency")
	assert.Equal(t, int32(1), on.Load())

	v := a.Observe(domain.Observation{Endpoint: "/api/other", Identity: "y", At: clk.Now()})
	assert.True(t, v.Emergency)

	assert.Zero(t, a.Sweep(clk.Now().Add(30*time.Second)), "buckets at exactly the retention stay")
	assert.True(t, a.Emergency())

	removed := a.Sweep(clk.Now().Add(31 * time.Second))
	assert.Equal(t, 2, removed)
	assert.False(t, a.Emergency())
	assert.Equal(t, domain.StatusIdle, a.Status())
	assert.Equal(t, int32(1), off.Load())
}

func TestPatternAnalyzer_EmergencyByVolume(t *testing.T) {
	a := newTestAnalyzer()
	at := newFakeClock().Now()

	feed(a, at, 500, 1, 500)
	assert.False(t, a.Emergency())
	feed(a, at, 1, 1, 1)
	assert.True(t, a.Emergency())
}

func TestNormalizeEndpoint(t *testing.T) {
	cases := map[string]string{
		"":                 "/",
		"/":                "/",
		"/api/orders":      "/api/orders",
		"/api/orders/":     "/api/orders",
		"/api/item/42":     "/api/item/:id",
		"/api/item/42?x=1": "/api/item/:id",
		"/api/users/550e8400-e29b-41d4-a716-446655440000/orders": "/api/users/:id/orders",
		"/api/blobs/9f86d081884c7d659a2feaa0c55ad015":            "/api/blobs/:id",
		"/api/v1/cafe":                      "/api/v1/cafe",
		"/api/t/" + strings.Repeat("x", 40): "/api/t/:id",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeEndpoint(in), in)
	}
}

func TestPatternAnalyzer_FloodOverRandomIDsSharesBucket(t *testing.T) {
	a := newTestAnalyzer()
	at := newFakeClock().Now()

	var flagged bool
	for i := 0; i < 101; i++ {
		v := a.Observe(domain.Observation{
			Endpoint: fmt.Sprintf("/api/item/%d", 1000+i),
			Identity: fmt.Sprintf("id-%d", i%25),
			At:       at,
		})
		flagged = flagged || v.Attack
	}

	assert.True(t, flagged, "ids in the path must not split the flood")
	require.Len(t, a.Buckets(), 1)
	assert.Equal(t, "/api/item/:id", a.Buckets()[0].Endpoint)
}

func TestPatternAnalyzer_BucketCapFoldsIntoOverflow(t *testing.T) {
	a := NewPatternAnalyzer(PatternConfig{MaxBuckets: 3}, WithPatternLogger(discardLogger()))
	at := newFakeClock().Now()

	for i := 0; i < 10; i++ {
		a.Observe(domain.Observation{Endpoint: fmt.Sprintf("/api/r%c", 'g'+i), Identity: "x", At: at})
	}

	buckets := a.Buckets()
	assert.Len(t, buckets, 4, "3 endpoints plus the overflow bucket")
	var overflow int
	for _, b := range buckets {
		if b.Endpoint == OverflowEndpoint {
			overflow = b.Requests
		}
	}
	assert.Equal(t, 7, overflow)
}
