package domain

import (
	"context"
	"time"
)

// SlotPool representa um recurso com capacidade finita (ex: requests em voo).
//
// A semântica é: Acquire bloqueia até conseguir uma vaga ou até o ctx encerrar.
// Ao adquirir, retorna uma função de release que deve ser chamada exatamente uma vez.
type SlotPool interface {
	Acquire(ctx context.Context) (release func(), ok bool)
}

// Sweeper remove registros expirados. Chamado pela manutenção periódica,
// nunca no caminho da request.
type Sweeper interface {
	Sweep(now time.Time) int
}

// BlockStore espelha a blacklist para outras instâncias.
//
// Get devolve (entry, true, nil) quando o IP está bloqueado no store.
// Um erro de Get é tratado pelo chamador como bloqueio (fail closed).
type BlockStore interface {
	Put(ctx context.Context, entry BlacklistEntry) error
	Get(ctx context.Context, ip string) (BlacklistEntry, bool, error)
	Delete(ctx context.Context, ip string) error
}

// BodyMasker é o passe de mascaramento de PII aplicado à resposta depois que
// a request foi admitida. É independente da decisão de admissão.
type BodyMasker interface {
	Mask(body []byte) []byte
}
