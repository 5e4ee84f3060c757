package infra

import (
	"context"
	"errors"
	"sync"
	"time"

	"admission-gateway/middleware/admission/domain"

	"github.com/cespare/xxhash/v2"
)

const defaultShards = 64

// MemoryStore é o CounterStore de janela fixa para uma instância só.
//
// As chaves são distribuídas em shards (xxhash) e cada shard tem seu próprio
// mutex: CheckAndIncrement é atômico por chave sem serializar o processo todo.
type MemoryStore struct {
	shards []*memoryShard
	now    func() time.Time
}

type memoryShard struct {
	mu      sync.Mutex
	entries map[domain.Key]*domain.RateLimitEntry
}

type MemoryStoreOption func(*MemoryStore)

// WithShards define o número de shards (padrão 64).
func WithShards(n int) MemoryStoreOption {
	return func(s *MemoryStore) {
		if n > 0 {
			s.shards = make([]*memoryShard, n)
		}
	}
}

// WithClock troca o relógio (testes).
func WithClock(now func() time.Time) MemoryStoreOption {
	return func(s *MemoryStore) { s.now = now }
}

func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	s := &MemoryStore{
		shards: make([]*memoryShard, defaultShards),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	for i := range s.shards {
		s.shards[i] = &memoryShard{entries: make(map[domain.Key]*domain.RateLimitEntry)}
	}
	return s
}

func (s *MemoryStore) shardFor(key domain.Key) *memoryShard {
	return s.shards[xxhash.Sum64String(string(key))%uint64(len(s.shards))]
}

// CheckAndIncrement implementa domain.CounterStore.
func (s *MemoryStore) CheckAndIncrement(_ context.Context, key domain.Key, window time.Duration, limit int) (domain.WindowResult, error) {
	if window <= 0 {
		return domain.WindowResult{}, errors.New("window must be > 0")
	}
	now := s.now()
	sh := s.shardFor(key)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	ent, ok := sh.entries[key]
	if !ok || ent.Expired(now) {
		ent = &domain.RateLimitEntry{WindowStart: now, WindowResetAt: now.Add(window)}
		sh.entries[key] = ent
	}

	// o contador para em limit+1: a request que estoura ainda conta, as seguintes não.
	if ent.Count <= limit {
		ent.Count++
	}

	res := domain.WindowResult{Count: ent.Count, ResetAt: ent.WindowResetAt}
	if ent.Count > limit {
		ent.Violations++
		res.Violated = true
		res.Violations = ent.Violations
		return res, nil
	}
	res.Allowed = true
	res.Remaining = limit - ent.Count
	res.Violations = ent.Violations
	return res, nil
}

// Entry devolve uma cópia da entrada atual (ok=false se não existe).
func (s *MemoryStore) Entry(key domain.Key) (domain.RateLimitEntry, bool) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	ent, ok := sh.entries[key]
	if !ok {
		return domain.RateLimitEntry{}, false
	}
	return *ent, true
}

// Len conta as entradas (inclusive expiradas ainda não varridas).
func (s *MemoryStore) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		n += len(sh.entries)
		sh.mu.Unlock()
	}
	return n
}

// Sweep remove janelas expiradas. O lock de cada shard é segurado só
// enquanto aquele shard é varrido.
func (s *MemoryStore) Sweep(now time.Time) int {
	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for k, ent := range sh.entries {
			if ent.Expired(now) {
				delete(sh.entries, k)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}
