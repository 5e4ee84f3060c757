package application

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"admission-gateway/middleware/admission/domain"
)

// Janitor varre periodicamente os stores (janelas expiradas, buckets velhos)
// fora do caminho da request.
type Janitor struct {
	interval time.Duration
	sweepers map[string]domain.Sweeper
	log      *slog.Logger
	now      func() time.Time

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
	stopped   chan struct{}
}

type JanitorOption func(*Janitor)

func WithJanitorLogger(log *slog.Logger) JanitorOption {
	return func(j *Janitor) {
		if log != nil {
			j.log = log
		}
	}
}

func WithJanitorClock(now func() time.Time) JanitorOption {
	return func(j *Janitor) { j.now = now }
}

// NewJanitor cria o janitor; interval <= 0 usa 30s.
func NewJanitor(interval time.Duration, sweepers map[string]domain.Sweeper, opts ...JanitorOption) *Janitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	j := &Janitor{
		interval: interval,
		sweepers: make(map[string]domain.Sweeper, len(sweepers)),
		log:      slog.Default(),
		now:      time.Now,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	for name, s := range sweepers {
		if s != nil {
			j.sweepers[name] = s
		}
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// RunOnce varre todos os stores uma vez e devolve o total removido por nome.
func (j *Janitor) RunOnce(now time.Time) map[string]int {
	out := make(map[string]int, len(j.sweepers))
	for name, s := range j.sweepers {
		out[name] = s.Sweep(now)
	}
	return out
}

// Start sobe a goroutine de limpeza. Chamadas repetidas são ignoradas.
// A goroutine termina com Stop ou quando ctx é cancelado.
func (j *Janitor) Start(ctx context.Context) {
	j.startOnce.Do(func() {
		go j.loop(ctx)
	})
}

func (j *Janitor) loop(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	defer close(j.stopped)

	for {
		select {
		case <-ctx.Done():
			return
		case <-j.done:
			return
		case <-ticker.C:
			removed := j.RunOnce(j.now())
			for name, n := range removed {
				if n > 0 {
					j.log.Debug("sweep", "store", name, "removed", n)
				}
			}
		}
	}
}

// Stop encerra a goroutine e espera ela sair. Seguro sem Start e repetido.
func (j *Janitor) Stop() {
	j.stopOnce.Do(func() {
		close(j.done)
	})
	started := true
	j.startOnce.Do(func() { started = false })
	if started {
		<-j.stopped
	}
}
