package application

import (
	"context"
	"time"

	"admission-gateway/middleware/admission/domain"
)

// ConcurrencyService concentra a regra de aquisição/liberação de vagas com timeout,
// sem saber nada sobre HTTP.
//
// Em modo emergência (InEmergency() == true) a request também precisa de uma
// vaga em EmergencyPool, que é menor: o teto de requests em voo aperta
// enquanto o detector de padrões acusar ataque.
type ConcurrencyService struct {
	Pool           domain.SlotPool
	AcquireTimeout time.Duration

	EmergencyPool domain.SlotPool
	InEmergency   func() bool
}

// Acquire tenta adquirir uma vaga.
// - Se `AcquireTimeout <= 0`, espera indefinidamente (até ctx cancelar).
// - Se `AcquireTimeout > 0`, espera até o timeout (o mesmo prazo vale para as duas vagas).
// Retorna (release, ok). Se ok=false, nenhuma vaga ficou presa.
func (s ConcurrencyService) Acquire(ctx context.Context) (func(), bool) {
	if s.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.AcquireTimeout)
		defer cancel()
	}

	release := func() {}
	if s.Pool != nil {
		r, ok := s.Pool.Acquire(ctx)
		if !ok {
			return nil, false
		}
		release = r
	}

	if s.EmergencyPool == nil || s.InEmergency == nil || !s.InEmergency() {
		return release, true
	}

	er, ok := s.EmergencyPool.Acquire(ctx)
	if !ok {
		release()
		return nil, false
	}
	return func() {
		er()
		release()
	}, true
}
