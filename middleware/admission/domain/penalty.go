package domain

import "time"

// PenaltyState é o estado de punição de um IP.
// Só regride via whitelist explícita, nunca pelo tempo.
type PenaltyState int

const (
	PenaltyNone PenaltyState = iota
	PenaltyWarning
	PenaltyTempBlock
	PenaltyExtendedBlock
	PenaltyPermanent
)

func (s PenaltyState) String() string {
	switch s {
	case PenaltyWarning:
		return "WARNING"
	case PenaltyTempBlock:
		return "TEMP_BLOCK"
	case PenaltyExtendedBlock:
		return "EXTENDED_BLOCK"
	case PenaltyPermanent:
		return "PERMANENT"
	default:
		return "NONE"
	}
}

// Blocks informa se o estado gera uma entrada na blacklist.
func (s PenaltyState) Blocks() bool { return s >= PenaltyTempBlock }

// NextPenalty é a função de transição: o estado depende apenas da contagem
// acumulada de violações do IP.
func NextPenalty(violations int) PenaltyState {
	switch {
	case violations <= 0:
		return PenaltyNone
	case violations == 1:
		return PenaltyWarning
	case violations == 2:
		return PenaltyTempBlock
	case violations == 3:
		return PenaltyExtendedBlock
	default:
		return PenaltyPermanent
	}
}

// PenaltyDurations define quanto tempo dura cada bloqueio temporário.
type PenaltyDurations struct {
	TempBlock     time.Duration `yaml:"temp_block"`
	ExtendedBlock time.Duration `yaml:"extended_block"`
}

func DefaultPenaltyDurations() PenaltyDurations {
	return PenaltyDurations{
		TempBlock:     5 * time.Minute,
		ExtendedBlock: time.Hour,
	}
}

// Duration devolve a duração do bloqueio para o estado.
// 0 significa sem expiração (permanente) ou sem bloqueio.
func (d PenaltyDurations) Duration(s PenaltyState) time.Duration {
	switch s {
	case PenaltyTempBlock:
		return d.TempBlock
	case PenaltyExtendedBlock:
		return d.ExtendedBlock
	default:
		return 0
	}
}

// ViolationType identifica a origem de uma violação.
type ViolationType string

const (
	ViolationRateLimit ViolationType = "RATE_LIMIT_EXCEEDED"
	ViolationDDoS      ViolationType = "DDOS_ATTACK"
	ViolationInjection ViolationType = "INJECTION_ATTEMPT"
	ViolationXSS       ViolationType = "XSS_ATTEMPT"
	ViolationManual    ViolationType = "MANUAL"
)

// ViolationRecord acumula o histórico de um IP.
// Zera apenas quando o IP entra na whitelist.
type ViolationRecord struct {
	IP               string
	Count            int
	FirstViolationAt time.Time
	LastViolationAt  time.Time
	Types            []ViolationType
}

// EntryKind é o tipo de entrada na blacklist.
type EntryKind string

const (
	KindTemporary EntryKind = "TEMPORARY"
	KindPermanent EntryKind = "PERMANENT"
)

// BlacklistEntry é única por IP; a mais severa vence.
type BlacklistEntry struct {
	IP        string     `json:"ip"`
	Kind      EntryKind  `json:"kind"`
	Reason    string     `json:"reason"`
	AddedAt   time.Time  `json:"added_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Expired vale apenas para entradas temporárias (now >= expiresAt).
func (e BlacklistEntry) Expired(now time.Time) bool {
	if e.Kind == KindPermanent || e.ExpiresAt == nil {
		return false
	}
	return !now.Before(*e.ExpiresAt)
}

// MoreSevere compara duas entradas do mesmo IP.
func (e BlacklistEntry) MoreSevere(other BlacklistEntry) bool {
	if e.Kind != other.Kind {
		return e.Kind == KindPermanent
	}
	if e.ExpiresAt == nil || other.ExpiresAt == nil {
		return e.ExpiresAt == nil && other.ExpiresAt != nil
	}
	return e.ExpiresAt.After(*other.ExpiresAt)
}
