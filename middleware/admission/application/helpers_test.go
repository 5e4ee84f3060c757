package application

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"admission-gateway/middleware/admission/domain"
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

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeBlockStore simula o espelho compartilhado da blacklist.
type fakeBlockStore struct {
	mu      sync.Mutex
	entries map[string]domain.BlacklistEntry
	getErr  error
	deleted []string
}

func newFakeBlockStore() *fakeBlockStore {
	return &fakeBlockStore{entries: make(map[string]domain.BlacklistEntry)}
}

func (s *fakeBlockStore) Put(_ context.Context, e domain.BlacklistEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[e.IP] = e
	return nil
}

func (s *fakeBlockStore) Get(_ context.Context, ip string) (domain.BlacklistEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return domain.BlacklistEntry{}, false, s.getErr
	}
	e, ok := s.entries[ip]
	return e, ok, nil
}

func (s *fakeBlockStore) Delete(_ context.Context, ip string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, ip)
	s.deleted = append(s.deleted, ip)
	return nil
}

var errStoreDown = errors.New("connection refused")

type failingCounterStore struct{}

func (failingCounterStore) CheckAndIncrement(context.Context, domain.Key, time.Duration, int) (domain.WindowResult, error) {
	return domain.WindowResult{}, errStoreDown
}

type panickingCounterStore struct{}

func (panickingCounterStore) CheckAndIncrement(context.Context, domain.Key, time.Duration, int) (domain.WindowResult, error) {
	panic("boom")
}

type recordingEscalator struct {
	mu    sync.Mutex
	calls []string
}

func (e *recordingEscalator) Escalate(_ context.Context, ip string, _ domain.ViolationType, _ string) domain.PenaltyState {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, ip)
	return domain.PenaltyTempBlock
}

func (e *recordingEscalator) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}
