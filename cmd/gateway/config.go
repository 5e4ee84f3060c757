package main

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"admission-gateway/middleware/admission"

	"github.com/joho/godotenv"
)

type config struct {
	listenAddr  string
	upstreamURL string

	logLevel  string
	logFormat string

	policyFile    string
	store         string // memory | redis | token_bucket
	sweepInterval time.Duration
	// trustXFF só sobrescreve a política quando TRUST_XFF está definido.
	trustXFF    bool
	trustXFFSet bool

	concurrencyMax          int
	concurrencyEmergencyMax int
	concurrencyTimeout      time.Duration

	redisAddr     string
	redisPassword string
	redisDB       int
	redisPrefix   string

	sharedBlacklist bool
	eventsRedis     bool
	eventsMaxLen    int64
	eventLogRate    float64

	statsEnabled   bool
	statsTTL       time.Duration
	statsBucket    string
	statsTrackKeys bool

	adminEnabled   bool
	metricsEnabled bool
	maskEnabled    bool
}

func readConfig() (config, error) {
	// .env é opcional; variáveis já exportadas têm precedência.
	_ = godotenv.Load()

	cfg := config{}
	cfg.listenAddr = getenvDefault("LISTEN_ADDR", ":8080")
	cfg.upstreamURL = os.Getenv("UPSTREAM_URL")
	cfg.logLevel = getenvDefault("LOG_LEVEL", "info")
	cfg.logFormat = getenvDefault("LOG_FORMAT", "json")

	cfg.policyFile = os.Getenv("ADMISSION_POLICY_FILE")
	cfg.store = strings.ToLower(getenvDefault("ADMISSION_STORE", "memory"))
	cfg.sweepInterval = getenvDurationDefault("ADMISSION_SWEEP_INTERVAL", 0)
	if v, ok := os.LookupEnv("TRUST_XFF"); ok && strings.TrimSpace(v) != "" {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return config{}, errors.New("TRUST_XFF must be a boolean")
		}
		cfg.trustXFF, cfg.trustXFFSet = b, true
	}

	cfg.concurrencyMax = getenvIntDefault("CONCURRENCY_MAX", 100)
	cfg.concurrencyEmergencyMax = getenvIntDefault("CONCURRENCY_EMERGENCY_MAX", 0)
	cfg.concurrencyTimeout = getenvDurationDefault("CONCURRENCY_TIMEOUT", 0)

	cfg.redisAddr = os.Getenv("REDIS_ADDR")
	cfg.redisPassword = os.Getenv("REDIS_PASSWORD")
	cfg.redisDB = getenvIntDefault("REDIS_DB", 0)
	cfg.redisPrefix = getenvDefault("REDIS_PREFIX", "admission")

	cfg.sharedBlacklist = getenvBoolDefault("ADMISSION_SHARED_BLACKLIST", false)
	cfg.eventsRedis = getenvBoolDefault("ADMISSION_EVENTS_REDIS", false)
	cfg.eventsMaxLen = int64(getenvIntDefault("ADMISSION_EVENTS_MAXLEN", 10000))
	cfg.eventLogRate = getenvFloatDefault("ADMISSION_EVENT_LOG_RATE", 20)

	cfg.statsEnabled = getenvBoolDefault("RATE_STATS_ENABLED", false)
	cfg.statsTTL = getenvDurationDefault("RATE_STATS_TTL", 24*time.Hour)
	cfg.statsBucket = getenvDefault("RATE_STATS_BUCKET", "minute")
	cfg.statsTrackKeys = getenvBoolDefault("RATE_STATS_TRACK_KEYS", false)

	cfg.adminEnabled = getenvBoolDefault("ADMIN_ENABLED", false)
	cfg.metricsEnabled = getenvBoolDefault("METRICS_ENABLED", true)
	cfg.maskEnabled = getenvBoolDefault("MASK_RESPONSES", false)

	if cfg.upstreamURL == "" {
		return config{}, errors.New("UPSTREAM_URL is required")
	}
	switch cfg.store {
	case "memory", "redis", "token_bucket":
	default:
		return config{}, errors.New("ADMISSION_STORE must be memory, redis or token_bucket")
	}
	if cfg.needsRedis() && strings.TrimSpace(cfg.redisAddr) == "" {
		return config{}, errors.New("REDIS_ADDR is required for the redis store, shared blacklist, redis events or stats")
	}
	if cfg.concurrencyMax < 0 {
		return config{}, errors.New("CONCURRENCY_MAX must be >= 0")
	}
	if cfg.concurrencyEmergencyMax < 0 {
		return config{}, errors.New("CONCURRENCY_EMERGENCY_MAX must be >= 0")
	}
	return cfg, nil
}

// loadPolicy lê o arquivo de política (ou os defaults) e aplica os overrides
// de ambiente que foram definidos explicitamente.
func (c config) loadPolicy() (admission.Policy, error) {
	policy := admission.DefaultPolicy()
	if c.policyFile != "" {
		var err error
		policy, err = admission.LoadPolicy(c.policyFile)
		if err != nil {
			return admission.Policy{}, err
		}
	}
	if c.trustXFFSet {
		policy.TrustXForwardedFor = c.trustXFF
	}
	if c.sweepInterval > 0 {
		policy.SweepInterval = c.sweepInterval
	}
	return policy, nil
}

func (c config) needsRedis() bool {
	return c.store == "redis" || c.sharedBlacklist || c.eventsRedis || c.statsEnabled
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvIntDefault(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getenvFloatDefault(k string, def float64) float64 {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getenvBoolDefault(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvDurationDefault(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
