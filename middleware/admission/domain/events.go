package domain

import (
	"context"
	"time"
)

// Severity segue a escala usual de alertas.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// EventType identifica o evento de segurança emitido para auditoria.
type EventType string

const (
	EventBlacklisted       EventType = "BLACKLISTED_ACCESS"
	EventContentRejected   EventType = "CONTENT_REJECTED"
	EventAttackDetected    EventType = "DDOS_DETECTED"
	EventBotnetDetected    EventType = "BOTNET_DETECTED"
	EventRateLimitExceeded EventType = "RATE_LIMIT_EXCEEDED"
	EventIPBlocked         EventType = "IP_BLOCKED"
	EventInternalFault     EventType = "INTERNAL_FAULT"
)

// SecurityEvent é o que vai para o coletor de auditoria externo.
// Este subsistema não persiste eventos por conta própria.
type SecurityEvent struct {
	Type       EventType         `json:"type"`
	Severity   Severity          `json:"severity"`
	IP         string            `json:"ip,omitempty"`
	UserID     string            `json:"user_id,omitempty"`
	Method     string            `json:"method,omitempty"`
	Path       string            `json:"path,omitempty"`
	IncidentID string            `json:"incident_id,omitempty"`
	Details    map[string]string `json:"details,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// EventSink recebe eventos de segurança.
//
// O pipeline trata erro como best-effort (loga e segue): a auditoria
// nunca derruba a request.
type EventSink interface {
	Emit(ctx context.Context, ev SecurityEvent) error
}
