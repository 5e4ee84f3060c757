package infra

import (
	"context"
	"strconv"

	"admission-gateway/middleware/admission/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exporta decisões e eventos de segurança para o Prometheus.
// Implementa domain.StatsStore e domain.EventSink.
//
// Os labels são de baixa cardinalidade (stage, class, type, severity);
// chave e path nunca viram label.
type Metrics struct {
	decisions *prometheus.CounterVec
	events    *prometheus.CounterVec
	emergency prometheus.Gauge
}

// NewMetrics registra as métricas em reg. Com reg nil usa o registry padrão.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		decisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "admission",
				Name:      "decisions_total",
				Help:      "Admission decisions by deciding stage",
			},
			[]string{"stage", "class", "allowed"},
		),
		events: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "admission",
				Name:      "security_events_total",
				Help:      "Security events emitted to the audit sink",
			},
			[]string{"type", "severity"},
		),
		emergency: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "admission",
			Name:      "emergency_mode",
			Help:      "1 while the pattern analyzer holds emergency mode",
		}),
	}
}

// Record implementa domain.StatsStore.
func (m *Metrics) Record(_ context.Context, ev domain.StatsEvent) error {
	m.decisions.WithLabelValues(string(ev.Stage), string(ev.Class), strconv.FormatBool(ev.Allowed)).Inc()
	return nil
}

// Emit implementa domain.EventSink.
func (m *Metrics) Emit(_ context.Context, ev domain.SecurityEvent) error {
	m.events.WithLabelValues(string(ev.Type), string(ev.Severity)).Inc()
	return nil
}

// SetEmergency reflete o modo de emergência no gauge.
func (m *Metrics) SetEmergency(on bool) {
	if on {
		m.emergency.Set(1)
		return
	}
	m.emergency.Set(0)
}
