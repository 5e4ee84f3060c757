package infra

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"admission-gateway/middleware/admission/domain"

	"golang.org/x/time/rate"
)

// LogSink escreve eventos de segurança no log estruturado.
//
// Sob ataque o volume de eventos explode; o limiter segura a taxa de linhas e
// o número de eventos suprimidos vai junto na próxima linha escrita.
type LogSink struct {
	log        *slog.Logger
	lim        *rate.Limiter
	suppressed atomic.Int64
}

// NewLogSink cria o sink. perSecond <= 0 desliga o limite.
func NewLogSink(log *slog.Logger, perSecond float64, burst int) *LogSink {
	if log == nil {
		log = slog.Default()
	}
	s := &LogSink{log: log}
	if perSecond > 0 {
		if burst <= 0 {
			burst = 1
		}
		s.lim = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
	return s
}

func (s *LogSink) Emit(ctx context.Context, ev domain.SecurityEvent) error {
	if s.lim != nil && !s.lim.Allow() {
		s.suppressed.Add(1)
		return nil
	}

	attrs := []any{
		"type", ev.Type,
		"severity", ev.Severity,
		"ip", ev.IP,
		"method", ev.Method,
		"path", ev.Path,
		"at", ev.Timestamp,
	}
	if ev.UserID != "" {
		attrs = append(attrs, "user_id", ev.UserID)
	}
	if ev.IncidentID != "" {
		attrs = append(attrs, "incident_id", ev.IncidentID)
	}
	for k, v := range ev.Details {
		attrs = append(attrs, "detail_"+k, v)
	}
	if n := s.suppressed.Swap(0); n > 0 {
		attrs = append(attrs, "suppressed", n)
	}

	s.log.Log(ctx, levelFor(ev.Severity), "security event", attrs...)
	return nil
}

func levelFor(sev domain.Severity) slog.Level {
	switch sev {
	case domain.SeverityLow:
		return slog.LevelInfo
	case domain.SeverityMedium:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

// MemoryEventSink guarda os últimos eventos e contadores por tipo.
// Não faz expiração; o buffer circular limita a memória.
type MemoryEventSink struct {
	mu     sync.Mutex
	recent []domain.SecurityEvent
	next   int
	full   bool
	byType map[domain.EventType]int64
}

func NewMemoryEventSink(capacity int) *MemoryEventSink {
	if capacity <= 0 {
		capacity = 256
	}
	return &MemoryEventSink{
		recent: make([]domain.SecurityEvent, capacity),
		byType: make(map[domain.EventType]int64),
	}
}

func (s *MemoryEventSink) Emit(_ context.Context, ev domain.SecurityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.recent[s.next] = ev
	s.next = (s.next + 1) % len(s.recent)
	if s.next == 0 {
		s.full = true
	}
	s.byType[ev.Type]++
	return nil
}

// Recent devolve os eventos do mais antigo para o mais novo.
func (s *MemoryEventSink) Recent() []domain.SecurityEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.full {
		out := make([]domain.SecurityEvent, s.next)
		copy(out, s.recent[:s.next])
		return out
	}
	out := make([]domain.SecurityEvent, 0, len(s.recent))
	out = append(out, s.recent[s.next:]...)
	out = append(out, s.recent[:s.next]...)
	return out
}

func (s *MemoryEventSink) Count(t domain.EventType) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byType[t]
}

// Total soma todos os tipos.
func (s *MemoryEventSink) Total() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, v := range s.byType {
		n += v
	}
	return n
}

// MultiSink repassa o evento para todos os sinks; os erros são agregados.
type MultiSink []domain.EventSink

func (m MultiSink) Emit(ctx context.Context, ev domain.SecurityEvent) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Emit(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MultiStats é o equivalente de MultiSink para domain.StatsStore.
type MultiStats []domain.StatsStore

func (m MultiStats) Record(ctx context.Context, ev domain.StatsEvent) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Record(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
