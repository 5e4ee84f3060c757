package domain

// Camada de domínio do rate limit.
//
// Regras e contratos (interfaces/tipos) sem dependência de net/http.

import (
	"context"
	"time"
)

// Quota é a configuração por classe de API.
type Quota struct {
	Limit   int           `yaml:"limit"`
	Window  time.Duration `yaml:"window"`
	PerUser bool          `yaml:"per_user"`
}

// DefaultQuotas devolve as quotas padrão por classe.
// admin e bulk contam por usuário.
func DefaultQuotas() map[APIClass]Quota {
	return map[APIClass]Quota{
		ClassGeneral: {Limit: 100, Window: time.Minute},
		ClassSearch:  {Limit: 30, Window: time.Minute},
		ClassAuth:    {Limit: 10, Window: time.Minute},
		ClassAdmin:   {Limit: 300, Window: time.Minute, PerUser: true},
		ClassBulk:    {Limit: 20, Window: time.Minute, PerUser: true},
	}
}

// RateLimitEntry é o contador de uma janela fixa para (identidade, classe).
// Uma entrada expirada é substituída, nunca reaproveitada.
type RateLimitEntry struct {
	Count         int
	Violations    int
	WindowStart   time.Time
	WindowResetAt time.Time
}

// Expired informa se a janela já virou. Uma request exatamente em
// WindowResetAt já pertence à próxima janela.
func (e RateLimitEntry) Expired(now time.Time) bool {
	return !now.Before(e.WindowResetAt)
}

// WindowResult é a resposta de CheckAndIncrement.
type WindowResult struct {
	Allowed    bool
	Count      int
	Remaining  int
	Violations int
	ResetAt    time.Time
	// Violated é true quando esta request contou como violação da quota.
	Violated bool
}

// CounterStore guarda contadores por chave.
//
// CheckAndIncrement deve ser atômico por chave: duas goroutines concorrentes
// nunca podem perder um incremento. A implementação pode ser em memória
// (mapa com locks por shard) ou compartilhada (Redis); a semântica de janela
// fixa é a mesma.
type CounterStore interface {
	CheckAndIncrement(ctx context.Context, key Key, window time.Duration, limit int) (WindowResult, error)
}

// Decision é o resultado do rate limiter para uma request.
type Decision struct {
	Allowed bool
	Class   APIClass
	Limit   int
	// Remaining nunca é negativo.
	Remaining int
	ResetAt   time.Time
	// RetryAfter é o valor para o header Retry-After quando bloquear.
	// Se 0, não há recomendação.
	RetryAfter time.Duration
	Violations int
	// Penalty é o estado aplicado quando esta negação escalou o IP.
	Penalty PenaltyState
}
