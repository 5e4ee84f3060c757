package infra

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"admission-gateway/middleware/admission/domain"

	"golang.org/x/time/rate"
)

// TokenBucketStore é a alternativa opcional à janela fixa, baseada em
// token-bucket (x/time/rate) com cache por chave e limpeza periódica.
//
// A janela fixa deixa passar até 2×limit na virada da janela; aqui a taxa é
// limit/window contínua com burst=limit, então esse pico não acontece.
// O contrato de CounterStore é o mesmo; ResetAt é quando o próximo token chega.
type TokenBucketStore struct {
	mu      sync.Mutex
	entries map[domain.Key]*bucketEntry
	idleTTL time.Duration
	now     func() time.Time
}

type bucketEntry struct {
	lim        *rate.Limiter
	limit      int
	window     time.Duration
	violations int
	lastSeen   time.Time
}

type TokenBucketOption func(*TokenBucketStore)

// WithIdleTTL define quanto tempo uma chave sem tráfego fica em cache.
func WithIdleTTL(d time.Duration) TokenBucketOption {
	return func(s *TokenBucketStore) { s.idleTTL = d }
}

// WithBucketClock troca o relógio (testes).
func WithBucketClock(now func() time.Time) TokenBucketOption {
	return func(s *TokenBucketStore) { s.now = now }
}

func NewTokenBucketStore(opts ...TokenBucketOption) *TokenBucketStore {
	s := &TokenBucketStore{
		entries: make(map[domain.Key]*bucketEntry),
		idleTTL: 15 * time.Minute,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func perSecond(limit int, window time.Duration) rate.Limit {
	return rate.Limit(float64(limit) / window.Seconds())
}

// CheckAndIncrement implementa domain.CounterStore.
func (s *TokenBucketStore) CheckAndIncrement(_ context.Context, key domain.Key, window time.Duration, limit int) (domain.WindowResult, error) {
	if window <= 0 {
		return domain.WindowResult{}, errors.New("window must be > 0")
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.entries[key]
	if !ok {
		ent = &bucketEntry{
			lim:    rate.NewLimiter(perSecond(limit, window), limit),
			limit:  limit,
			window: window,
		}
		s.entries[key] = ent
	} else if ent.limit != limit || ent.window != window {
		// quota mudou (ex.: modo de emergência): ajusta sem perder o saldo
		ent.lim.SetLimitAt(now, perSecond(limit, window))
		ent.lim.SetBurstAt(now, limit)
		ent.limit, ent.window = limit, window
	}
	// uma janela inteira sem tráfego zera as violações, como a janela fixa faria
	if ok && now.Sub(ent.lastSeen) >= window {
		ent.violations = 0
	}
	ent.lastSeen = now

	if ent.lim.AllowN(now, 1) {
		tokens := ent.lim.TokensAt(now)
		remaining := int(math.Floor(tokens))
		return domain.WindowResult{
			Allowed:    true,
			Count:      limit - remaining,
			Remaining:  remaining,
			Violations: ent.violations,
			ResetAt:    now.Add(refillIn(tokens, ent.lim.Limit())),
		}, nil
	}

	ent.violations++
	tokens := ent.lim.TokensAt(now)
	return domain.WindowResult{
		Count:      limit + 1,
		Violations: ent.violations,
		ResetAt:    now.Add(refillIn(tokens, ent.lim.Limit())),
		Violated:   true,
	}, nil
}

// refillIn é o tempo até o bucket ter um token inteiro.
func refillIn(tokens float64, r rate.Limit) time.Duration {
	if tokens >= 1 || r <= 0 {
		return 0
	}
	return time.Duration((1 - tokens) / float64(r) * float64(time.Second))
}

// Sweep remove chaves inativas há mais que idleTTL.
func (s *TokenBucketStore) Sweep(now time.Time) int {
	cutoff := now.Add(-s.idleTTL)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for k, ent := range s.entries {
		if ent.lastSeen.Before(cutoff) {
			delete(s.entries, k)
			removed++
		}
	}
	return removed
}
