package application

import (
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"admission-gateway/middleware/admission/domain"
)

// PatternConfig define os limiares do detector. Zero em qualquer campo usa o
// padrão de DefaultPatternConfig.
type PatternConfig struct {
	BucketSize time.Duration `yaml:"bucket_size"`
	Retention  time.Duration `yaml:"retention"`

	// volumétrico: muitas origens, quase nenhuma autenticada
	AttackRequests  int     `yaml:"attack_requests"`
	AttackUnique    int     `yaml:"attack_unique"`
	AttackAuthRatio float64 `yaml:"attack_auth_ratio"`
	// pico puro de volume
	SpikeRequests int `yaml:"spike_requests"`

	EmergencyRequests int `yaml:"emergency_requests"`
	EmergencyUnique   int `yaml:"emergency_unique"`

	BotnetThreshold int           `yaml:"botnet_threshold"`
	BotnetWindow    time.Duration `yaml:"botnet_window"`

	// MaxBuckets limita os buckets vivos; endpoints novos além disso caem
	// todos no bucket OverflowEndpoint até a próxima varredura.
	MaxBuckets int `yaml:"max_buckets"`
}

// OverflowEndpoint agrega o tráfego de endpoints que não couberam em MaxBuckets.
const OverflowEndpoint = "*"

func DefaultPatternConfig() PatternConfig {
	return PatternConfig{
		BucketSize:        10 * time.Second,
		Retention:         30 * time.Second,
		AttackRequests:    100,
		AttackUnique:      20,
		AttackAuthRatio:   0.1,
		SpikeRequests:     200,
		EmergencyRequests: 500,
		EmergencyUnique:   50,
		BotnetThreshold:   30,
		BotnetWindow:      30 * time.Second,
		MaxBuckets:        10_000,
	}
}

func (c PatternConfig) withDefaults() PatternConfig {
	d := DefaultPatternConfig()
	if c.BucketSize <= 0 {
		c.BucketSize = d.BucketSize
	}
	if c.Retention <= 0 {
		c.Retention = d.Retention
	}
	if c.AttackRequests <= 0 {
		c.AttackRequests = d.AttackRequests
	}
	if c.AttackUnique <= 0 {
		c.AttackUnique = d.AttackUnique
	}
	if c.AttackAuthRatio <= 0 {
		c.AttackAuthRatio = d.AttackAuthRatio
	}
	if c.SpikeRequests <= 0 {
		c.SpikeRequests = d.SpikeRequests
	}
	if c.EmergencyRequests <= 0 {
		c.EmergencyRequests = d.EmergencyRequests
	}
	if c.EmergencyUnique <= 0 {
		c.EmergencyUnique = d.EmergencyUnique
	}
	if c.BotnetThreshold <= 0 {
		c.BotnetThreshold = d.BotnetThreshold
	}
	if c.BotnetWindow <= 0 {
		c.BotnetWindow = d.BotnetWindow
	}
	if c.MaxBuckets <= 0 {
		c.MaxBuckets = d.MaxBuckets
	}
	return c
}

type patternBucket struct {
	domain.RequestPattern
	attack bool
}

type signatureCounter struct {
	count int
	start time.Time
}

// PatternAnalyzer agrega volume, identidades únicas e proporção de
// autenticados por endpoint em buckets curtos de tempo.
type PatternAnalyzer struct {
	cfg PatternConfig
	log *slog.Logger

	mu         sync.Mutex
	buckets    map[string]*patternBucket
	signatures map[string]*signatureCounter

	emergency   atomic.Bool
	onEmergency func(active bool)
}

type PatternOption func(*PatternAnalyzer)

// WithEmergencyHook é chamado (fora do lock) a cada mudança do modo emergência.
func WithEmergencyHook(fn func(active bool)) PatternOption {
	return func(a *PatternAnalyzer) { a.onEmergency = fn }
}

func WithPatternLogger(log *slog.Logger) PatternOption {
	return func(a *PatternAnalyzer) {
		if log != nil {
			a.log = log
		}
	}
}

func NewPatternAnalyzer(cfg PatternConfig, opts ...PatternOption) *PatternAnalyzer {
	a := &PatternAnalyzer{
		cfg:        cfg.withDefaults(),
		log:        slog.Default(),
		buckets:    make(map[string]*patternBucket),
		signatures: make(map[string]*signatureCounter),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *PatternAnalyzer) bucketStart(at time.Time) time.Time {
	return at.Truncate(a.cfg.BucketSize)
}

func (a *PatternAnalyzer) bucketKey(endpoint string, start time.Time) string {
	return endpoint + "|" + strconv.FormatInt(start.UnixNano()/int64(a.cfg.BucketSize), 10)
}

// Observe registra a request e avalia as heurísticas do bucket dela. O
// endpoint é normalizado (NormalizeEndpoint) para que ids variáveis no path
// não espalhem um flood por vários buckets.
func (a *PatternAnalyzer) Observe(obs domain.Observation) domain.PatternVerdict {
	obs.Endpoint = NormalizeEndpoint(obs.Endpoint)
	start := a.bucketStart(obs.At)
	key := a.bucketKey(obs.Endpoint, start)

	a.mu.Lock()
	b, ok := a.buckets[key]
	if !ok && len(a.buckets) >= a.cfg.MaxBuckets {
		obs.Endpoint = OverflowEndpoint
		key = a.bucketKey(obs.Endpoint, start)
		b, ok = a.buckets[key]
	}
	if !ok {
		b = &patternBucket{RequestPattern: domain.RequestPattern{
			Endpoint:         obs.Endpoint,
			BucketKey:        key,
			UniqueIdentities: make(map[string]struct{}),
			BucketStart:      start,
		}}
		a.buckets[key] = b
	}
	b.RequestCount++
	identity := obs.Identity
	if identity == "" {
		identity = obs.IP
	}
	b.UniqueIdentities[identity] = struct{}{}
	if obs.Authenticated {
		b.AuthenticatedCount++
	}

	v := domain.PatternVerdict{
		RequestCount:  b.RequestCount,
		UniqueSources: len(b.UniqueIdentities),
		AuthRatio:     b.AuthRatio(),
	}

	switch {
	case v.RequestCount > a.cfg.AttackRequests && v.UniqueSources > a.cfg.AttackUnique && v.AuthRatio < a.cfg.AttackAuthRatio:
		v.Attack = true
		v.Reason = "distributed unauthenticated flood"
	case v.RequestCount > a.cfg.SpikeRequests:
		v.Attack = true
		v.Reason = "request spike"
	}
	if v.Attack {
		b.attack = true
	}

	if obs.HeaderSignature != "" {
		sc, ok := a.signatures[obs.HeaderSignature]
		if !ok || obs.At.Sub(sc.start) >= a.cfg.BotnetWindow {
			sc = &signatureCounter{start: obs.At}
			a.signatures[obs.HeaderSignature] = sc
		}
		sc.count++
		v.SignatureCount = sc.count
		if sc.count > a.cfg.BotnetThreshold {
			v.Botnet = true
			v.BotnetOnset = sc.count == a.cfg.BotnetThreshold+1
		}
	}

	raise := v.RequestCount > a.cfg.EmergencyRequests || v.UniqueSources > a.cfg.EmergencyUnique
	a.mu.Unlock()

	if raise && a.emergency.CompareAndSwap(false, true) {
		a.log.Warn("emergency mode on",
			"endpoint", obs.Endpoint,
			"requests", v.RequestCount,
			"unique", v.UniqueSources,
		)
		if a.onEmergency != nil {
			a.onEmergency(true)
		}
	}
	v.Emergency = a.emergency.Load()
	return v
}

// Sweep descarta buckets mais velhos que a retenção e assinaturas fora da
// janela. Sem buckets restantes o status volta a idle e a emergência cai.
func (a *PatternAnalyzer) Sweep(now time.Time) int {
	a.mu.Lock()
	removed := 0
	for k, b := range a.buckets {
		if now.Sub(b.BucketStart) > a.cfg.Retention {
			delete(a.buckets, k)
			removed++
		}
	}
	for sig, sc := range a.signatures {
		if now.Sub(sc.start) >= a.cfg.BotnetWindow {
			delete(a.signatures, sig)
		}
	}
	empty := len(a.buckets) == 0
	a.mu.Unlock()

	if empty && a.emergency.CompareAndSwap(true, false) {
		a.log.Info("emergency mode off")
		if a.onEmergency != nil {
			a.onEmergency(false)
		}
	}
	return removed
}

func (a *PatternAnalyzer) Emergency() bool { return a.emergency.Load() }

func (a *PatternAnalyzer) Status() domain.AnalyzerStatus {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.buckets) == 0 {
		return domain.StatusIdle
	}
	for _, b := range a.buckets {
		if b.attack {
			return domain.StatusUnderAttack
		}
	}
	return domain.StatusMonitoring
}

// BucketSnapshot é a visão de leitura de um bucket (endpoints de admin).
type BucketSnapshot struct {
	Endpoint      string    `json:"endpoint"`
	BucketStart   time.Time `json:"bucket_start"`
	Requests      int       `json:"requests"`
	UniqueSources int       `json:"unique_sources"`
	AuthRatio     float64   `json:"auth_ratio"`
	Attack        bool      `json:"attack"`
}

// Buckets lista os buckets vivos, mais recentes primeiro.
func (a *PatternAnalyzer) Buckets() []BucketSnapshot {
	a.mu.Lock()
	out := make([]BucketSnapshot, 0, len(a.buckets))
	for _, b := range a.buckets {
		out = append(out, BucketSnapshot{
			Endpoint:      b.Endpoint,
			BucketStart:   b.BucketStart,
			Requests:      b.RequestCount,
			UniqueSources: len(b.UniqueIdentities),
			AuthRatio:     b.AuthRatio(),
			Attack:        b.attack,
		})
	}
	a.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].BucketStart.Equal(out[j].BucketStart) {
			return out[i].BucketStart.After(out[j].BucketStart)
		}
		return out[i].Endpoint < out[j].Endpoint
	})
	return out
}

// NormalizeEndpoint troca segmentos que parecem ids (números, UUIDs, hex
// longo, tokens compridos) por ":id" e remove query e barra final.
func NormalizeEndpoint(p string) string {
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	segs := strings.Split(p, "/")
	for i, seg := range segs {
		if looksLikeID(seg) {
			segs[i] = ":id"
		}
	}
	out := strings.Join(segs, "/")
	if len(out) > 1 {
		out = strings.TrimSuffix(out, "/")
	}
	return out
}

const maxSegmentLen = 32

func looksLikeID(seg string) bool {
	if seg == "" {
		return false
	}
	if len(seg) > maxSegmentLen {
		return true
	}
	digits, hex := 0, 0
	for _, c := range seg {
		switch {
		case c >= '0' && c <= '9':
			digits++
			hex++
		case (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F'):
			hex++
		case c == '-':
		default:
			return false
		}
	}
	// só dígitos (123), ou hex/UUID com ao menos um dígito (9f86d081..., 550e8400-e29b-...)
	if digits == len(seg) {
		return true
	}
	return digits > 0 && hex >= 16
}
