package infra

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"admission-gateway/middleware/admission/domain"

	"github.com/redis/go-redis/v9"
)

// fixedWindowScript faz o check-and-increment da janela fixa de forma atômica.
// O hash guarda count, violations e reset_at (ms); a chave expira junto com a janela.
var fixedWindowScript = redis.NewScript(`
	local key = KEYS[1]
	local now = tonumber(ARGV[1])
	local window_ms = tonumber(ARGV[2])
	local limit = tonumber(ARGV[3])

	local reset_at = tonumber(redis.call('HGET', key, 'reset_at') or '0')
	if reset_at == 0 or now >= reset_at then
		reset_at = now + window_ms
		redis.call('DEL', key)
		redis.call('HSET', key, 'count', 0, 'violations', 0, 'reset_at', reset_at)
		redis.call('PEXPIREAT', key, reset_at)
	end

	local count = tonumber(redis.call('HGET', key, 'count'))
	local violations = tonumber(redis.call('HGET', key, 'violations'))
	if count <= limit then
		count = redis.call('HINCRBY', key, 'count', 1)
	end

	local allowed = 1
	if count > limit then
		allowed = 0
		violations = redis.call('HINCRBY', key, 'violations', 1)
	end

	return {allowed, count, violations, reset_at}
`)

// RedisStore é o CounterStore compartilhado entre instâncias.
// Mesma semântica de janela fixa do MemoryStore; o TTL das chaves faz a limpeza.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
	now    func() time.Time
}

type RedisStoreOption func(*RedisStore)

func WithStorePrefix(prefix string) RedisStoreOption {
	return func(s *RedisStore) { s.prefix = strings.Trim(prefix, ":") }
}

func WithRedisClock(now func() time.Time) RedisStoreOption {
	return func(s *RedisStore) { s.now = now }
}

func NewRedisStore(rdb *redis.Client, opts ...RedisStoreOption) *RedisStore {
	s := &RedisStore{
		rdb:    rdb,
		prefix: "admission:window",
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CheckAndIncrement implementa domain.CounterStore.
func (s *RedisStore) CheckAndIncrement(ctx context.Context, key domain.Key, window time.Duration, limit int) (domain.WindowResult, error) {
	if s == nil || s.rdb == nil {
		return domain.WindowResult{}, fmt.Errorf("%w: redis client not configured", domain.ErrStoreUnavailable)
	}
	if window <= 0 {
		return domain.WindowResult{}, errors.New("window must be > 0")
	}

	fullKey := s.prefix + ":" + string(key)
	vals, err := fixedWindowScript.Run(ctx, s.rdb, []string{fullKey},
		s.now().UnixMilli(), window.Milliseconds(), limit).Int64Slice()
	if err != nil {
		return domain.WindowResult{}, fmt.Errorf("%w: fixed window check: %v", domain.ErrStoreUnavailable, err)
	}
	if len(vals) != 4 {
		return domain.WindowResult{}, fmt.Errorf("%w: unexpected script reply %v", domain.ErrStoreUnavailable, vals)
	}

	res := domain.WindowResult{
		Allowed:    vals[0] == 1,
		Count:      int(vals[1]),
		Violations: int(vals[2]),
		ResetAt:    time.UnixMilli(vals[3]),
	}
	if res.Allowed {
		res.Remaining = limit - res.Count
	} else {
		res.Violated = true
	}
	return res, nil
}
