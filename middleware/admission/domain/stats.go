package domain

import (
	"context"
	"time"
)

// Stage é a etapa do pipeline que tomou a decisão final.
type Stage string

const (
	StageSkipped   Stage = "skipped"
	StageBlacklist Stage = "blacklist"
	StageContent   Stage = "content"
	StagePattern   Stage = "pattern"
	StageRateLimit Stage = "ratelimit"
	StageAllowed   Stage = "allowed"
	// StageRequest só aparece em falhas internas de leitura da request.
	StageRequest Stage = "request"
)

// StatsEvent representa uma decisão do pipeline (permitida ou negada).
//
// Ele é propositalmente "agnóstico de HTTP": Method/Path são strings genéricas.
//
// Observação: cuidado com cardinalidade (ex.: salvar Key/Path sem controle pode
// explodir o número de séries/chaves em uma base como Redis/Prometheus).
type StatsEvent struct {
	Key     Key
	Allowed bool
	Stage   Stage
	Class   APIClass

	Method string
	Path   string

	At time.Time
}

// StatsStore é a estratégia de persistência para estatísticas de decisão.
//
// Implementações podem armazenar em Redis, Prometheus, memória, etc.
// O middleware deve tratar erro como best-effort (não derrubar request).
type StatsStore interface {
	Record(ctx context.Context, ev StatsEvent) error
}
