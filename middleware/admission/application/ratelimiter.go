package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"admission-gateway/middleware/admission/domain"
)

// Escalator recebe o IP que estourou a quota repetidas vezes.
// *Blacklist satisfaz esta interface.
type Escalator interface {
	Escalate(ctx context.Context, ip string, t domain.ViolationType, reason string) domain.PenaltyState
}

type RateLimiterConfig struct {
	Store  domain.CounterStore
	Quotas map[domain.APIClass]domain.Quota

	// A cada ViolationThreshold negações na mesma janela o IP é escalado.
	ViolationThreshold int
	Escalator          Escalator

	// Emergency, se não nil, aperta todas as quotas por EmergencyFactor.
	Emergency       func() bool
	EmergencyFactor float64

	Logger *slog.Logger
	Now    func() time.Time
}

// RateLimiter aplica as quotas por classe de API sobre um CounterStore.
type RateLimiter struct {
	store     domain.CounterStore
	quotas    map[domain.APIClass]domain.Quota
	threshold int
	escalator Escalator
	emergency func() bool
	factor    float64
	log       *slog.Logger
	now       func() time.Time
}

func NewRateLimiter(cfg RateLimiterConfig) (*RateLimiter, error) {
	if cfg.Store == nil {
		return nil, errors.New("Store is required")
	}
	if len(cfg.Quotas) == 0 {
		cfg.Quotas = domain.DefaultQuotas()
	}
	if _, ok := cfg.Quotas[domain.ClassGeneral]; !ok {
		return nil, errors.New("a quota for the general class is required")
	}
	for class, q := range cfg.Quotas {
		if q.Limit <= 0 {
			return nil, fmt.Errorf("quota %s: limit must be > 0", class)
		}
		if q.Window <= 0 {
			return nil, fmt.Errorf("quota %s: window must be > 0", class)
		}
	}
	if cfg.ViolationThreshold <= 0 {
		cfg.ViolationThreshold = 5
	}
	if cfg.EmergencyFactor <= 0 || cfg.EmergencyFactor > 1 {
		cfg.EmergencyFactor = 0.5
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	quotas := make(map[domain.APIClass]domain.Quota, len(cfg.Quotas))
	for k, v := range cfg.Quotas {
		quotas[k] = v
	}
	return &RateLimiter{
		store:     cfg.Store,
		quotas:    quotas,
		threshold: cfg.ViolationThreshold,
		escalator: cfg.Escalator,
		emergency: cfg.Emergency,
		factor:    cfg.EmergencyFactor,
		log:       cfg.Logger,
		now:       cfg.Now,
	}, nil
}

// Quota devolve a quota da classe; classes desconhecidas caem em general.
func (r *RateLimiter) Quota(class domain.APIClass) (domain.Quota, domain.APIClass) {
	if q, ok := r.quotas[class]; ok {
		return q, class
	}
	return r.quotas[domain.ClassGeneral], domain.ClassGeneral
}

func (r *RateLimiter) effectiveLimit(q domain.Quota) int {
	if r.emergency == nil || !r.emergency() {
		return q.Limit
	}
	return max(1, int(math.Floor(float64(q.Limit)*r.factor)))
}

// Check conta a request na janela da identidade.
//
// Com erro do store a decisão é Allowed=true e o erro volta para ser logado:
// indisponibilidade do contador não derruba tráfego legítimo.
func (r *RateLimiter) Check(ctx context.Context, id domain.ClientIdentity) (domain.Decision, error) {
	q, class := r.Quota(id.Class)
	id.Class = class
	limit := r.effectiveLimit(q)

	d := domain.Decision{Class: class, Limit: limit}

	res, err := r.store.CheckAndIncrement(ctx, id.Key(q.PerUser), q.Window, limit)
	if err != nil {
		d.Allowed = true
		d.Remaining = limit
		return d, fmt.Errorf("rate limit check: %w", err)
	}

	d.Allowed = res.Allowed
	d.Remaining = res.Remaining
	d.ResetAt = res.ResetAt
	d.Violations = res.Violations
	if res.Allowed {
		return d, nil
	}

	d.RetryAfter = res.ResetAt.Sub(r.now())
	if d.RetryAfter < time.Second {
		d.RetryAfter = time.Second
	}

	if res.Violated && r.escalator != nil && res.Violations > 0 && res.Violations%r.threshold == 0 {
		state := r.escalator.Escalate(ctx, id.IP, domain.ViolationRateLimit,
			fmt.Sprintf("%d rate limit violations on %s", res.Violations, class))
		d.Penalty = state
		r.log.Warn("rate limit escalation",
			"ip", id.IP,
			"class", class,
			"violations", res.Violations,
			"state", state.String(),
		)
	}
	return d, nil
}
