package admission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"admission-gateway/middleware/admission/application"
	"admission-gateway/middleware/admission/domain"
	"admission-gateway/middleware/admission/infra"

	"gopkg.in/yaml.v3"
)

// Policy é a configuração declarativa da admissão (arquivo YAML).
type Policy struct {
	Quotas map[domain.APIClass]domain.Quota `yaml:"quotas"`
	Routes []ClassRoute                     `yaml:"routes"`

	Whitelist []string `yaml:"whitelist"`

	TrustedIPHeader    string `yaml:"trusted_ip_header"`
	TrustXForwardedFor bool   `yaml:"trust_x_forwarded_for"`
	UserHeader         string `yaml:"user_header"`

	APIPrefixes      []string `yaml:"api_prefixes"`
	StaticExtensions []string `yaml:"static_extensions"`
	PublicPaths      []string `yaml:"public_paths"`
	MaxBodyBytes     int64    `yaml:"max_body_bytes"`

	ViolationThreshold int                       `yaml:"violation_threshold"`
	EmergencyFactor    float64                   `yaml:"emergency_factor"`
	Penalties          domain.PenaltyDurations   `yaml:"penalties"`
	Pattern            application.PatternConfig `yaml:"pattern"`

	// regras extras de inspeção: nome -> regex
	InjectionRules map[string]string `yaml:"injection_rules"`
	XSSRules       map[string]string `yaml:"xss_rules"`

	SweepInterval time.Duration `yaml:"sweep_interval"`
}

func DefaultPolicy() Policy {
	return Policy{
		Quotas:             domain.DefaultQuotas(),
		Routes:             DefaultClassRoutes(),
		TrustedIPHeader:    "X-Real-IP",
		TrustXForwardedFor: true,
		UserHeader:         "X-User-ID",
		APIPrefixes:        DefaultAPIPrefixes(),
		StaticExtensions:   DefaultStaticExtensions(),
		PublicPaths:        []string{"/api/public/"},
		MaxBodyBytes:       defaultMaxBodyBytes,
		ViolationThreshold: 5,
		EmergencyFactor:    0.5,
		Penalties:          domain.DefaultPenaltyDurations(),
		Pattern:            application.DefaultPatternConfig(),
		SweepInterval:      30 * time.Second,
	}
}

// ParsePolicy aplica o YAML por cima de DefaultPolicy. Cada quota listada
// substitui a padrão inteira (limit e window são obrigatórios).
func ParsePolicy(data []byte) (Policy, error) {
	p := DefaultPolicy()
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Policy{}, fmt.Errorf("parse policy: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

func LoadPolicy(path string) (Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("read policy: %w", err)
	}
	return ParsePolicy(data)
}

func (p Policy) Validate() error {
	if _, ok := p.Quotas[domain.ClassGeneral]; !ok {
		return errors.New("quotas.general is required")
	}
	for class, q := range p.Quotas {
		if q.Limit <= 0 {
			return fmt.Errorf("quotas.%s.limit must be > 0", class)
		}
		if q.Window <= 0 {
			return fmt.Errorf("quotas.%s.window must be > 0", class)
		}
	}
	if p.ViolationThreshold < 0 {
		return errors.New("violation_threshold must be >= 0")
	}
	if p.EmergencyFactor < 0 || p.EmergencyFactor > 1 {
		return errors.New("emergency_factor must be between 0 and 1")
	}
	if p.MaxBodyBytes < 0 {
		return errors.New("max_body_bytes must be >= 0")
	}
	if _, err := application.NewWhitelist(p.Whitelist...); err != nil {
		return err
	}
	if _, err := application.CompileRules(domain.ViolationInjection, p.InjectionRules); err != nil {
		return err
	}
	if _, err := application.CompileRules(domain.ViolationXSS, p.XSSRules); err != nil {
		return err
	}
	return nil
}

// Deps são as peças de infraestrutura escolhidas pelo binário.
type Deps struct {
	// Store nil usa o MemoryStore.
	Store  domain.CounterStore
	Shared domain.BlockStore
	Events domain.EventSink
	Stats  domain.StatsStore
	Logger *slog.Logger
	// OnEmergency é avisado quando o modo emergência liga/desliga.
	OnEmergency func(active bool)
	Now         func() time.Time
}

// Admission é o subsistema montado: serviços da camada application e o
// middleware HTTP que os usa.
type Admission struct {
	Policy    Policy
	Whitelist *application.Whitelist
	Blacklist *application.Blacklist
	Analyzer  *application.PatternAnalyzer
	Limiter   *application.RateLimiter
	Pipeline  *application.Pipeline
	Janitor   *application.Janitor
	Identity  IdentityExtractor
	Stats     domain.StatsStore

	log *slog.Logger
	now func() time.Time
}

func New(p Policy, deps Deps) (*Admission, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	store := deps.Store
	if store == nil {
		store = infra.NewMemoryStore(infra.WithClock(deps.Now))
	}

	wl, err := application.NewWhitelist(p.Whitelist...)
	if err != nil {
		return nil, err
	}

	bl := application.NewBlacklist(application.BlacklistConfig{
		Durations: p.Penalties,
		Whitelist: wl,
		Shared:    deps.Shared,
		Events:    deps.Events,
		Logger:    deps.Logger,
		Now:       deps.Now,
	})

	analyzerOpts := []application.PatternOption{application.WithPatternLogger(deps.Logger)}
	if deps.OnEmergency != nil {
		analyzerOpts = append(analyzerOpts, application.WithEmergencyHook(deps.OnEmergency))
	}
	analyzer := application.NewPatternAnalyzer(p.Pattern, analyzerOpts...)

	limiter, err := application.NewRateLimiter(application.RateLimiterConfig{
		Store:              store,
		Quotas:             p.Quotas,
		ViolationThreshold: p.ViolationThreshold,
		Escalator:          bl,
		Emergency:          analyzer.Emergency,
		EmergencyFactor:    p.EmergencyFactor,
		Logger:             deps.Logger,
		Now:                deps.Now,
	})
	if err != nil {
		return nil, err
	}

	rules := application.DefaultInspectionRules()
	extra, _ := application.CompileRules(domain.ViolationInjection, p.InjectionRules)
	rules = append(rules, extra...)
	extra, _ = application.CompileRules(domain.ViolationXSS, p.XSSRules)
	rules = append(rules, extra...)

	pipeline, err := application.NewPipeline(application.PipelineConfig{
		Blacklist: bl,
		Whitelist: wl,
		Inspector: application.NewInspector(rules...),
		Analyzer:  analyzer,
		Limiter:   limiter,
		Events:    deps.Events,
		Logger:    deps.Logger,
		Now:       deps.Now,
	})
	if err != nil {
		return nil, err
	}

	sweepers := map[string]domain.Sweeper{"patterns": analyzer, "blacklist": bl}
	if s, ok := store.(domain.Sweeper); ok {
		sweepers["counters"] = s
	}

	return &Admission{
		Policy:    p,
		Whitelist: wl,
		Blacklist: bl,
		Analyzer:  analyzer,
		Limiter:   limiter,
		Pipeline:  pipeline,
		Janitor:   application.NewJanitor(p.SweepInterval, sweepers, application.WithJanitorLogger(deps.Logger)),
		Identity: IdentityExtractor{
			TrustedIPHeader:    p.TrustedIPHeader,
			TrustXForwardedFor: p.TrustXForwardedFor,
			UserHeader:         p.UserHeader,
			Routes:             p.Routes,
			Logger:             deps.Logger,
		},
		Stats: deps.Stats,
		log:   deps.Logger,
		now:   deps.Now,
	}, nil
}

// Start sobe a varredura periódica; Stop a encerra.
func (a *Admission) Start(ctx context.Context) { a.Janitor.Start(ctx) }

func (a *Admission) Stop() { a.Janitor.Stop() }

func (a *Admission) Middleware() func(next http.Handler) http.Handler {
	return Middleware(Options{
		Pipeline:         a.Pipeline,
		Identity:         a.Identity,
		Stats:            a.Stats,
		APIPrefixes:      a.Policy.APIPrefixes,
		StaticExtensions: a.Policy.StaticExtensions,
		MaxBodyBytes:     a.Policy.MaxBodyBytes,
		Logger:           a.log,
		Now:              a.now,
	})
}

// MaskResponses monta o passe de PII com os prefixos da política.
func (a *Admission) MaskResponses(m domain.BodyMasker) func(next http.Handler) http.Handler {
	return MaskResponses(MaskOptions{
		Masker:      m,
		APIPrefixes: a.Policy.APIPrefixes,
		PublicPaths: a.Policy.PublicPaths,
	})
}
