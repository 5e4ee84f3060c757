package infra

import (
	"context"
	"strings"
	"time"

	"admission-gateway/middleware/admission/domain"

	"github.com/redis/go-redis/v9"
)

const (
	StatsBucketMinute = "minute"
	StatsBucketNone   = "none"
)

// RedisStatsStore agrega decisões em hashes compartilhados entre instâncias.
//
// Layout (prefixo padrão admission:stats):
//
//	<p>:total            allowed | denied
//	<p>:stage            <stage>
//	<p>:class            <class>:allowed | <class>:denied
//	<p>:minute:<yyyymmddhhmm>  allowed | denied | <stage>   (expira em ttl)
//	<p>:key:<identity>   allowed | denied                  (opcional, expira em ttl)
//
// Rotas não são gravadas: o path cru estoura a cardinalidade no Redis.
type RedisStatsStore struct {
	rdb *redis.Client

	prefix    string
	ttl       time.Duration
	bucket    string
	trackKeys bool
}

type RedisStatsOption func(*RedisStatsStore)

func WithStatsPrefix(prefix string) RedisStatsOption {
	return func(s *RedisStatsStore) { s.prefix = strings.Trim(prefix, ":") }
}

// WithStatsTTL define a expiração das séries por minuto e por identidade.
func WithStatsTTL(d time.Duration) RedisStatsOption {
	return func(s *RedisStatsStore) { s.ttl = d }
}

// WithStatsBucket aceita "minute" ou "none"; outros valores caem em "minute".
func WithStatsBucket(bucket string) RedisStatsOption {
	return func(s *RedisStatsStore) {
		if strings.EqualFold(strings.TrimSpace(bucket), StatsBucketNone) {
			s.bucket = StatsBucketNone
			return
		}
		s.bucket = StatsBucketMinute
	}
}

func WithStatsTrackKeys(track bool) RedisStatsOption {
	return func(s *RedisStatsStore) { s.trackKeys = track }
}

func NewRedisStatsStore(rdb *redis.Client, opts ...RedisStatsOption) *RedisStatsStore {
	s := &RedisStatsStore{
		rdb:    rdb,
		prefix: "admission:stats",
		ttl:    24 * time.Hour,
		bucket: StatsBucketMinute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStatsStore) key(parts ...string) string {
	return s.prefix + ":" + strings.Join(parts, ":")
}

// Record implementa domain.StatsStore com um único round-trip.
func (s *RedisStatsStore) Record(ctx context.Context, ev domain.StatsEvent) error {
	if s == nil || s.rdb == nil {
		return nil
	}
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	outcome := "denied"
	if ev.Allowed {
		outcome = "allowed"
	}

	_, err := s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HIncrBy(ctx, s.key("total"), outcome, 1)
		if ev.Stage != "" {
			pipe.HIncrBy(ctx, s.key("stage"), string(ev.Stage), 1)
		}
		if ev.Class != "" {
			pipe.HIncrBy(ctx, s.key("class"), string(ev.Class)+":"+outcome, 1)
		}
		if s.bucket == StatsBucketMinute {
			series := s.key("minute", at.UTC().Format("200601021504"))
			pipe.HIncrBy(ctx, series, outcome, 1)
			if ev.Stage != "" {
				pipe.HIncrBy(ctx, series, string(ev.Stage), 1)
			}
			s.expire(ctx, pipe, series)
		}
		if id := strings.TrimSpace(string(ev.Key)); s.trackKeys && id != "" {
			k := s.key("key", id)
			pipe.HIncrBy(ctx, k, outcome, 1)
			s.expire(ctx, pipe, k)
		}
		return nil
	})
	return err
}

func (s *RedisStatsStore) expire(ctx context.Context, pipe redis.Pipeliner, key string) {
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
}
