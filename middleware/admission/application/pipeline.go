package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"admission-gateway/middleware/admission/domain"

	"github.com/google/uuid"
)

// Request é o snapshot da request que o pipeline avalia. O body já vem
// bufferizado; nada aqui faz I/O de rede.
type Request struct {
	Identity        domain.ClientIdentity
	Method          string
	Query           url.Values
	Body            []byte
	HeaderSignature string
	At              time.Time
	// Faults são problemas de leitura da request (header malformado, body
	// truncado) que não impediram a avaliação; cada um vira um INTERNAL_FAULT.
	Faults []error
}

// Verdict é a decisão final do pipeline.
type Verdict struct {
	Allowed bool
	Stage   domain.Stage
	// Err carrega o sentinel de domain (errors.Is) quando Allowed=false.
	Err        error
	Reason     string
	IncidentID string

	Quota        domain.Decision
	QuotaChecked bool

	Whitelisted bool
	Botnet      bool
}

type PipelineConfig struct {
	Blacklist *Blacklist
	Whitelist *Whitelist
	Inspector *Inspector
	// Analyzer é opcional.
	Analyzer *PatternAnalyzer
	Limiter  *RateLimiter
	Events   domain.EventSink

	Logger        *slog.Logger
	NewIncidentID func() string
	Now           func() time.Time
}

// Pipeline avalia, em ordem fixa, blacklist, conteúdo, padrão de tráfego e
// quota. A primeira etapa que nega encerra a avaliação.
type Pipeline struct {
	blacklist  *Blacklist
	whitelist  *Whitelist
	inspector  *Inspector
	analyzer   *PatternAnalyzer
	limiter    *RateLimiter
	events     domain.EventSink
	log        *slog.Logger
	incidentID func() string
	now        func() time.Time
}

func NewPipeline(cfg PipelineConfig) (*Pipeline, error) {
	if cfg.Blacklist == nil {
		return nil, errors.New("Blacklist is required")
	}
	if cfg.Limiter == nil {
		return nil, errors.New("Limiter is required")
	}
	if cfg.Inspector == nil {
		cfg.Inspector = NewInspector()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.NewIncidentID == nil {
		cfg.NewIncidentID = uuid.NewString
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Pipeline{
		blacklist:  cfg.Blacklist,
		whitelist:  cfg.Whitelist,
		inspector:  cfg.Inspector,
		analyzer:   cfg.Analyzer,
		limiter:    cfg.Limiter,
		events:     cfg.Events,
		log:        cfg.Logger,
		incidentID: cfg.NewIncidentID,
		now:        cfg.Now,
	}, nil
}

func mutating(method string) bool {
	switch method {
	case "POST", "PUT", "PATCH":
		return true
	}
	return false
}

// Evaluate nunca entra em pânico: falhas internas de uma etapa viram um
// evento INTERNAL_FAULT e a etapa segue a política dela (blacklist nega,
// padrão e quota liberam).
func (p *Pipeline) Evaluate(ctx context.Context, req Request) Verdict {
	if req.At.IsZero() {
		req.At = p.now()
	}
	ip := req.Identity.IP
	v := Verdict{Whitelisted: p.whitelist.Contains(ip)}
	for _, err := range req.Faults {
		p.fault(ctx, domain.StageRequest, req, err)
	}

	// 1. blacklist
	if !v.Whitelisted {
		var (
			entry   domain.BlacklistEntry
			blocked bool
			err     error
		)
		if perr := p.guard(func() { entry, blocked, err = p.blacklist.IsBlacklisted(ctx, ip) }); perr != nil {
			blocked, err = true, perr
			entry.Reason = "blacklist unavailable"
		}
		if err != nil {
			p.fault(ctx, domain.StageBlacklist, req, err)
		}
		if blocked {
			reason := entry.Reason
			if reason == "" {
				reason = "blacklisted"
			}
			details := map[string]string{"reason": reason}
			if entry.Kind != "" {
				details["kind"] = string(entry.Kind)
			}
			if entry.ExpiresAt != nil {
				details["expires_at"] = entry.ExpiresAt.UTC().Format(time.RFC3339)
			}
			return p.deny(ctx, req, v, domain.StageBlacklist, domain.ErrAccessDenied, reason,
				domain.EventBlacklisted, domain.SeverityHigh, details)
		}
	}

	// 2. conteúdo
	var (
		match   Match
		matched bool
	)
	body := req.Body
	if !mutating(req.Method) {
		body = nil
	}
	if perr := p.guard(func() { match, matched = p.inspector.Inspect(req.Query, body) }); perr != nil {
		p.fault(ctx, domain.StageContent, req, perr)
	}
	if matched {
		v.IncidentID = p.incidentID()
		details := map[string]string{
			"rule":  match.Rule,
			"field": match.Field,
		}
		if !v.Whitelisted {
			p.penalty(details, ip, p.blacklist.RecordViolation(ctx, ip, match.Type, match.Rule))
		}
		return p.deny(ctx, req, v, domain.StageContent, domain.ErrContentRejected, string(match.Type),
			domain.EventContentRejected, domain.SeverityHigh, details)
	}

	// 3. padrão de tráfego
	if p.analyzer != nil && !v.Whitelisted {
		var pv domain.PatternVerdict
		obs := domain.Observation{
			Endpoint:        req.Identity.Path,
			Identity:        string(req.Identity.Key(true)),
			IP:              ip,
			Authenticated:   req.Identity.Authenticated(),
			HeaderSignature: req.HeaderSignature,
			At:              req.At,
		}
		if perr := p.guard(func() { pv = p.analyzer.Observe(obs) }); perr != nil {
			p.fault(ctx, domain.StagePattern, req, perr)
		}
		v.Botnet = pv.Botnet
		if pv.BotnetOnset {
			p.emit(ctx, p.event(req, domain.EventBotnetDetected, domain.SeverityMedium, "", map[string]string{
				"reason":    "BOTNET DETECTED",
				"signature": req.HeaderSignature,
				"count":     strconv.Itoa(pv.SignatureCount),
			}))
		}
		if pv.Attack {
			details := map[string]string{
				"reason":         pv.Reason,
				"requests":       strconv.Itoa(pv.RequestCount),
				"unique_sources": strconv.Itoa(pv.UniqueSources),
				"auth_ratio":     strconv.FormatFloat(pv.AuthRatio, 'f', 3, 64),
				"emergency":      strconv.FormatBool(pv.Emergency),
			}
			p.penalty(details, ip, p.blacklist.RecordViolation(ctx, ip, domain.ViolationDDoS, pv.Reason))
			return p.deny(ctx, req, v, domain.StagePattern, domain.ErrAttackDetected, pv.Reason,
				domain.EventAttackDetected, domain.SeverityCritical, details)
		}
	}

	// 4. quota
	if !v.Whitelisted {
		var (
			dec domain.Decision
			err error
		)
		if perr := p.guard(func() { dec, err = p.limiter.Check(ctx, req.Identity) }); perr != nil {
			dec, err = domain.Decision{Allowed: true}, perr
		}
		if err != nil {
			p.fault(ctx, domain.StageRateLimit, req, err)
		}
		v.Quota = dec
		v.QuotaChecked = err == nil
		if !dec.Allowed {
			details := map[string]string{
				"class":       string(dec.Class),
				"limit":       strconv.Itoa(dec.Limit),
				"violations":  strconv.Itoa(dec.Violations),
				"retry_after": dec.RetryAfter.String(),
			}
			p.penalty(details, ip, dec.Penalty)
			return p.deny(ctx, req, v, domain.StageRateLimit, domain.ErrCapacityExceeded, "rate limit exceeded",
				domain.EventRateLimitExceeded, domain.SeverityMedium, details)
		}
	}

	v.Allowed = true
	v.Stage = domain.StageAllowed
	return v
}

func (p *Pipeline) deny(ctx context.Context, req Request, v Verdict, stage domain.Stage, sentinel error, reason string,
	t domain.EventType, sev domain.Severity, details map[string]string) Verdict {
	v.Allowed = false
	v.Stage = stage
	v.Reason = reason
	v.Err = fmt.Errorf("%w: %s", sentinel, reason)
	p.emit(ctx, p.event(req, t, sev, v.IncidentID, details))
	return v
}

// penalty anexa ao evento da negação o estado de punição que ela causou,
// incluindo a entrada de blacklist quando o IP passou a ser bloqueado.
func (p *Pipeline) penalty(details map[string]string, ip string, state domain.PenaltyState) {
	if state == domain.PenaltyNone {
		return
	}
	details["penalty"] = state.String()
	if !state.Blocks() {
		return
	}
	entry, ok := p.blacklist.Entry(ip)
	if !ok {
		return
	}
	details["block_kind"] = string(entry.Kind)
	if entry.ExpiresAt != nil {
		details["blocked_until"] = entry.ExpiresAt.UTC().Format(time.RFC3339)
	}
}

func (p *Pipeline) event(req Request, t domain.EventType, sev domain.Severity, incidentID string, details map[string]string) domain.SecurityEvent {
	return domain.SecurityEvent{
		Type:       t,
		Severity:   sev,
		IP:         req.Identity.IP,
		UserID:     req.Identity.UserID,
		Method:     req.Method,
		Path:       req.Identity.Path,
		IncidentID: incidentID,
		Details:    details,
		Timestamp:  req.At,
	}
}

func (p *Pipeline) emit(ctx context.Context, ev domain.SecurityEvent) {
	if p.events == nil {
		return
	}
	if err := p.events.Emit(ctx, ev); err != nil {
		p.log.Warn("security event emit failed", "type", ev.Type, "error", err)
	}
}

// fault registra uma falha interna: warning no log e um evento LOW separado.
func (p *Pipeline) fault(ctx context.Context, stage domain.Stage, req Request, err error) {
	p.log.Warn("admission stage fault",
		"stage", stage,
		"ip", req.Identity.IP,
		"path", req.Identity.Path,
		"error", err,
	)
	p.emit(ctx, p.event(req, domain.EventInternalFault, domain.SeverityLow, "", map[string]string{
		"stage": string(stage),
		"error": err.Error(),
	}))
}

// guard executa fn e converte um panic em erro.
func (p *Pipeline) guard(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	fn()
	return nil
}
