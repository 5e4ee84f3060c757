package infra

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"admission-gateway/middleware/admission/domain"

	"github.com/redis/go-redis/v9"
)

// RedisEventSink publica eventos de segurança num stream do Redis para o
// coletor de auditoria consumir, mais contadores por tipo.
type RedisEventSink struct {
	rdb    *redis.Client
	prefix string
	maxLen int64
}

type RedisEventOption func(*RedisEventSink)

func WithEventPrefix(prefix string) RedisEventOption {
	return func(s *RedisEventSink) { s.prefix = strings.Trim(prefix, ":") }
}

// WithEventMaxLen limita o tamanho do stream (aproximado, MAXLEN ~).
func WithEventMaxLen(n int64) RedisEventOption {
	return func(s *RedisEventSink) { s.maxLen = n }
}

func NewRedisEventSink(rdb *redis.Client, opts ...RedisEventOption) *RedisEventSink {
	s := &RedisEventSink{
		rdb:    rdb,
		prefix: "admission:events",
		maxLen: 10000,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisEventSink) Emit(ctx context.Context, ev domain.SecurityEvent) error {
	if s == nil || s.rdb == nil {
		return nil
	}
	at := ev.Timestamp
	if at.IsZero() {
		at = time.Now()
	}

	details := ""
	if len(ev.Details) > 0 {
		b, err := json.Marshal(ev.Details)
		if err != nil {
			return err
		}
		details = string(b)
	}

	pipe := s.rdb.Pipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: s.prefix,
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]any{
			"type":        string(ev.Type),
			"severity":    string(ev.Severity),
			"ip":          ev.IP,
			"user_id":     ev.UserID,
			"method":      ev.Method,
			"path":        ev.Path,
			"incident_id": ev.IncidentID,
			"details":     details,
			"timestamp":   at.UTC().Format(time.RFC3339Nano),
		},
	})
	pipe.HIncrBy(ctx, s.prefix+":count", string(ev.Type), 1)
	_, err := pipe.Exec(ctx)
	return err
}
