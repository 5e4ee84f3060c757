package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"admission-gateway/middleware/admission/domain"
)

// maxRecordedTypes limita o histórico de tipos guardado por IP.
const maxRecordedTypes = 32

// ErrWhitelisted é devolvido ao tentar bloquear manualmente um IP confiável.
var ErrWhitelisted = errors.New("ip is whitelisted")

type BlacklistConfig struct {
	Durations domain.PenaltyDurations
	Whitelist *Whitelist
	// Shared é opcional; espelha as entradas para outras instâncias.
	Shared domain.BlockStore
	// Events recebe IP_BLOCKED só de bloqueios manuais (Add).
	Events domain.EventSink
	Logger *slog.Logger
	Now    func() time.Time
}

// Blacklist mantém a máquina de penalidade por IP.
//
// O estado de cada IP vem só da contagem acumulada de violações
// (domain.NextPenalty). A contagem nunca zera com o tempo: uma entrada
// temporária expirada sai da blacklist, mas a próxima violação continua a
// escalada de onde parou.
type Blacklist struct {
	mu      sync.Mutex
	entries map[string]domain.BlacklistEntry
	records map[string]*domain.ViolationRecord

	durations domain.PenaltyDurations
	whitelist *Whitelist
	shared    domain.BlockStore
	events    domain.EventSink
	log       *slog.Logger
	now       func() time.Time
}

func NewBlacklist(cfg BlacklistConfig) *Blacklist {
	if cfg.Durations == (domain.PenaltyDurations{}) {
		cfg.Durations = domain.DefaultPenaltyDurations()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Whitelist == nil {
		cfg.Whitelist, _ = NewWhitelist()
	}
	return &Blacklist{
		entries:   make(map[string]domain.BlacklistEntry),
		records:   make(map[string]*domain.ViolationRecord),
		durations: cfg.Durations,
		whitelist: cfg.Whitelist,
		shared:    cfg.Shared,
		events:    cfg.Events,
		log:       cfg.Logger,
		now:       cfg.Now,
	}
}

// IsBlacklisted consulta a entrada do IP. Entradas temporárias vencidas são
// removidas aqui mesmo (lazy), sem tocar no histórico de violações.
//
// Com store compartilhado, um erro de consulta devolve blocked=true junto com
// o erro: uma falha interna nunca libera um IP que poderia estar bloqueado.
func (b *Blacklist) IsBlacklisted(ctx context.Context, ip string) (domain.BlacklistEntry, bool, error) {
	if b.whitelist.Contains(ip) {
		return domain.BlacklistEntry{}, false, nil
	}
	now := b.now()

	b.mu.Lock()
	entry, ok := b.entries[ip]
	if ok && entry.Expired(now) {
		delete(b.entries, ip)
		ok = false
	}
	b.mu.Unlock()

	if ok {
		return entry, true, nil
	}
	if b.shared == nil {
		return domain.BlacklistEntry{}, false, nil
	}

	entry, ok, err := b.shared.Get(ctx, ip)
	if err != nil {
		return domain.BlacklistEntry{IP: ip, Reason: "blacklist unavailable"}, true, fmt.Errorf("blacklist lookup: %w", err)
	}
	if !ok || entry.Expired(now) {
		return domain.BlacklistEntry{}, false, nil
	}

	b.mu.Lock()
	if cur, exists := b.entries[ip]; !exists || entry.MoreSevere(cur) {
		b.entries[ip] = entry
	}
	b.mu.Unlock()
	return entry, true, nil
}

// RecordViolation soma uma violação ao IP e aplica o estado resultante.
func (b *Blacklist) RecordViolation(ctx context.Context, ip string, t domain.ViolationType, reason string) domain.PenaltyState {
	return b.record(ctx, ip, t, reason, 0)
}

// Escalate é usado quando outro componente já concluiu que o IP merece
// bloqueio (ex.: violações repetidas de rate limit numa mesma janela): a
// contagem sobe pelo menos até o primeiro nível de bloqueio.
func (b *Blacklist) Escalate(ctx context.Context, ip string, t domain.ViolationType, reason string) domain.PenaltyState {
	return b.record(ctx, ip, t, reason, tempBlockThreshold())
}

func tempBlockThreshold() int {
	n := 1
	for !domain.NextPenalty(n).Blocks() {
		n++
	}
	return n
}

func (b *Blacklist) record(ctx context.Context, ip string, t domain.ViolationType, reason string, floor int) domain.PenaltyState {
	ip = strings.TrimSpace(ip)
	if ip == "" || b.whitelist.Contains(ip) {
		return domain.PenaltyNone
	}
	now := b.now()

	b.mu.Lock()
	rec, ok := b.records[ip]
	if !ok {
		rec = &domain.ViolationRecord{IP: ip, FirstViolationAt: now}
		b.records[ip] = rec
	}
	rec.Count++
	if rec.Count < floor {
		rec.Count = floor
	}
	rec.LastViolationAt = now
	rec.Types = append(rec.Types, t)
	if len(rec.Types) > maxRecordedTypes {
		rec.Types = rec.Types[len(rec.Types)-maxRecordedTypes:]
	}
	state := domain.NextPenalty(rec.Count)
	count := rec.Count

	if reason == "" {
		reason = string(t)
	}
	applied, changed := b.applyLocked(ip, state, fmt.Sprintf("%s (%s)", reason, state), now)
	b.mu.Unlock()

	b.log.Warn("violation recorded",
		"ip", ip,
		"type", t,
		"count", count,
		"state", state.String(),
	)

	// No caminho da request o bloqueio só é espelhado: quem negou a request
	// emite o único evento de auditoria, com o estado em Details.
	if changed {
		b.mirror(ctx, applied)
	}
	return state
}

// applyLocked cria/substitui a entrada do IP se o estado bloqueia.
// A entrada mais severa vence. b.mu precisa estar travado.
func (b *Blacklist) applyLocked(ip string, state domain.PenaltyState, reason string, now time.Time) (domain.BlacklistEntry, bool) {
	if !state.Blocks() {
		return domain.BlacklistEntry{}, false
	}

	entry := domain.BlacklistEntry{IP: ip, Kind: domain.KindTemporary, Reason: reason, AddedAt: now}
	if state == domain.PenaltyPermanent {
		entry.Kind = domain.KindPermanent
	} else {
		exp := now.Add(b.durations.Duration(state))
		entry.ExpiresAt = &exp
	}

	if cur, ok := b.entries[ip]; ok && !cur.Expired(now) && !entry.MoreSevere(cur) {
		return cur, false
	}
	b.entries[ip] = entry
	return entry, true
}

func (b *Blacklist) mirror(ctx context.Context, entry domain.BlacklistEntry) {
	if b.shared == nil {
		return
	}
	if err := b.shared.Put(ctx, entry); err != nil {
		b.log.Warn("blacklist mirror failed", "ip", entry.IP, "error", err)
	}
}

// announce espelha um bloqueio manual e emite IP_BLOCKED; é o único caminho
// que publica esse evento.
func (b *Blacklist) announce(ctx context.Context, entry domain.BlacklistEntry, state domain.PenaltyState) {
	b.mirror(ctx, entry)
	if b.events != nil {
		ev := domain.SecurityEvent{
			Type:      domain.EventIPBlocked,
			Severity:  domain.SeverityHigh,
			IP:        entry.IP,
			Timestamp: entry.AddedAt,
			Details: map[string]string{
				"state":  state.String(),
				"kind":   string(entry.Kind),
				"reason": entry.Reason,
			},
		}
		if entry.ExpiresAt != nil {
			ev.Details["expires_at"] = entry.ExpiresAt.UTC().Format(time.RFC3339)
		}
		if err := b.events.Emit(ctx, ev); err != nil {
			b.log.Warn("security event emit failed", "type", ev.Type, "error", err)
		}
	}
}

// Add bloqueia manualmente. duration <= 0 com KindTemporary vira permanente.
func (b *Blacklist) Add(ctx context.Context, ip string, kind domain.EntryKind, reason string, duration time.Duration) (domain.BlacklistEntry, error) {
	ip = strings.TrimSpace(ip)
	if ip == "" {
		return domain.BlacklistEntry{}, errors.New("ip is required")
	}
	if b.whitelist.Contains(ip) {
		return domain.BlacklistEntry{}, fmt.Errorf("%s: %w", ip, ErrWhitelisted)
	}
	now := b.now()

	entry := domain.BlacklistEntry{IP: ip, Kind: kind, Reason: reason, AddedAt: now}
	if kind != domain.KindPermanent {
		if duration <= 0 {
			entry.Kind = domain.KindPermanent
		} else {
			exp := now.Add(duration)
			entry.Kind = domain.KindTemporary
			entry.ExpiresAt = &exp
		}
	}

	b.mu.Lock()
	if cur, ok := b.entries[ip]; ok && !cur.Expired(now) && !entry.MoreSevere(cur) {
		b.mu.Unlock()
		return cur, nil
	}
	b.entries[ip] = entry
	b.mu.Unlock()

	state := domain.PenaltyTempBlock
	if entry.Kind == domain.KindPermanent {
		state = domain.PenaltyPermanent
	}
	b.announce(ctx, entry, state)
	return entry, nil
}

// Remove tira o IP da blacklist. O histórico de violações continua.
func (b *Blacklist) Remove(ctx context.Context, ip string) error {
	b.mu.Lock()
	delete(b.entries, ip)
	b.mu.Unlock()

	if b.shared != nil {
		return b.shared.Delete(ctx, ip)
	}
	return nil
}

// Whitelist libera um IP ou prefixo: entra na whitelist e perde entrada e
// histórico. É a única forma de zerar a escalada.
func (b *Blacklist) Whitelist(ctx context.Context, entry string) error {
	match, err := Matcher(entry)
	if err != nil {
		return err
	}
	if err := b.whitelist.Add(entry); err != nil {
		return err
	}

	var cleared []string
	b.mu.Lock()
	for ip := range b.entries {
		if match(ip) {
			delete(b.entries, ip)
			cleared = append(cleared, ip)
		}
	}
	for ip := range b.records {
		if match(ip) {
			delete(b.records, ip)
		}
	}
	b.mu.Unlock()

	var errs []error
	if b.shared != nil {
		for _, ip := range cleared {
			if err := b.shared.Delete(ctx, ip); err != nil {
				errs = append(errs, err)
			}
		}
	}
	b.log.Info("whitelisted", "entry", entry, "cleared", len(cleared))
	return errors.Join(errs...)
}

// Entry devolve a entrada ativa do IP sem consultar o store compartilhado.
func (b *Blacklist) Entry(ip string) (domain.BlacklistEntry, bool) {
	now := b.now()
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[ip]
	if !ok || e.Expired(now) {
		return domain.BlacklistEntry{}, false
	}
	return e, true
}

// Sweep remove entradas temporárias vencidas de IPs que não voltaram. O
// histórico de violações fica: a escalada continua de onde parou.
func (b *Blacklist) Sweep(now time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	removed := 0
	for ip, e := range b.entries {
		if e.Expired(now) {
			delete(b.entries, ip)
			removed++
		}
	}
	return removed
}

// Entries lista as entradas ativas, ordenadas por IP.
func (b *Blacklist) Entries() []domain.BlacklistEntry {
	now := b.now()
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]domain.BlacklistEntry, 0, len(b.entries))
	for _, e := range b.entries {
		if !e.Expired(now) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IP < out[j].IP })
	return out
}

// Violations devolve uma cópia do histórico do IP.
func (b *Blacklist) Violations(ip string) (domain.ViolationRecord, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec, ok := b.records[ip]
	if !ok {
		return domain.ViolationRecord{}, false
	}
	cp := *rec
	cp.Types = append([]domain.ViolationType(nil), rec.Types...)
	return cp, true
}

// State é o estado de penalidade atual do IP.
func (b *Blacklist) State(ip string) domain.PenaltyState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if rec, ok := b.records[ip]; ok {
		return domain.NextPenalty(rec.Count)
	}
	return domain.PenaltyNone
}
