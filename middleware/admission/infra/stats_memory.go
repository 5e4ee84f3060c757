package infra

import (
	"context"
	"maps"
	"sync"

	"admission-gateway/middleware/admission/domain"
)

// Counters soma decisões permitidas e negadas.
type Counters struct {
	Allowed int64 `json:"allowed"`
	Denied  int64 `json:"denied"`
}

func (c Counters) plus(allowed bool) Counters {
	if allowed {
		c.Allowed++
	} else {
		c.Denied++
	}
	return c
}

// StatsSnapshot é a foto servida pelo endpoint de status.
type StatsSnapshot struct {
	Total   Counters                     `json:"total"`
	ByStage map[domain.Stage]int64       `json:"by_stage"`
	ByClass map[domain.APIClass]Counters `json:"by_class"`
	ByRoute map[string]Counters          `json:"by_route"`
	ByKey   map[string]Counters          `json:"by_key,omitempty"`
}

// MemoryStatsStore guarda as decisões do pipeline em memória, sem expiração.
// Serve testes e o example-server; com muitas identidades prefira Redis ou
// Prometheus.
type MemoryStatsStore struct {
	mu      sync.Mutex
	total   Counters
	byStage map[domain.Stage]int64
	byClass map[domain.APIClass]Counters
	byRoute map[string]Counters
	byKey   map[string]Counters

	trackKeys bool
}

type MemoryStatsOption func(*MemoryStatsStore)

// WithTrackKeys liga a contagem por identidade (alta cardinalidade).
func WithTrackKeys(track bool) MemoryStatsOption {
	return func(s *MemoryStatsStore) { s.trackKeys = track }
}

func NewMemoryStatsStore(opts ...MemoryStatsOption) *MemoryStatsStore {
	s := &MemoryStatsStore{
		byStage: make(map[domain.Stage]int64),
		byClass: make(map[domain.APIClass]Counters),
		byRoute: make(map[string]Counters),
		byKey:   make(map[string]Counters),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Record implementa domain.StatsStore.
func (s *MemoryStatsStore) Record(_ context.Context, ev domain.StatsEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.total = s.total.plus(ev.Allowed)
	if ev.Stage != "" {
		s.byStage[ev.Stage]++
	}
	if ev.Class != "" {
		s.byClass[ev.Class] = s.byClass[ev.Class].plus(ev.Allowed)
	}
	if ev.Path != "" {
		route := ev.Method + " " + ev.Path
		s.byRoute[route] = s.byRoute[route].plus(ev.Allowed)
	}
	if s.trackKeys && ev.Key != "" {
		s.byKey[string(ev.Key)] = s.byKey[string(ev.Key)].plus(ev.Allowed)
	}
	return nil
}

func (s *MemoryStatsStore) Total() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

func (s *MemoryStatsStore) ByStage() map[domain.Stage]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.byStage)
}

func (s *MemoryStatsStore) ByClass() map[domain.APIClass]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.byClass)
}

func (s *MemoryStatsStore) ByRoute() map[string]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.byRoute)
}

func (s *MemoryStatsStore) ByKey() map[string]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.byKey)
}

// Snapshot copia todos os agregados sob um único lock.
func (s *MemoryStatsStore) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := StatsSnapshot{
		Total:   s.total,
		ByStage: maps.Clone(s.byStage),
		ByClass: maps.Clone(s.byClass),
		ByRoute: maps.Clone(s.byRoute),
	}
	if s.trackKeys {
		snap.ByKey = maps.Clone(s.byKey)
	}
	return snap
}
