package infra

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"admission-gateway/middleware/admission/domain"

	"github.com/redis/go-redis/v9"
)

// RedisBlockStore espelha a blacklist no Redis para as outras instâncias.
// Entradas temporárias recebem TTL até expiresAt; permanentes não expiram.
type RedisBlockStore struct {
	rdb    *redis.Client
	prefix string
	now    func() time.Time
}

func NewRedisBlockStore(rdb *redis.Client, prefix string) *RedisBlockStore {
	prefix = strings.Trim(prefix, ":")
	if prefix == "" {
		prefix = "admission:block"
	}
	return &RedisBlockStore{rdb: rdb, prefix: prefix, now: time.Now}
}

func (s *RedisBlockStore) key(ip string) string { return s.prefix + ":" + ip }

func (s *RedisBlockStore) Put(ctx context.Context, entry domain.BlacklistEntry) error {
	var ttl time.Duration
	if entry.Kind == domain.KindTemporary && entry.ExpiresAt != nil {
		ttl = entry.ExpiresAt.Sub(s.now())
		if ttl <= 0 {
			return nil
		}
	}
	b, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, s.key(entry.IP), b, ttl).Err(); err != nil {
		return fmt.Errorf("%w: put block: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *RedisBlockStore) Get(ctx context.Context, ip string) (domain.BlacklistEntry, bool, error) {
	b, err := s.rdb.Get(ctx, s.key(ip)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.BlacklistEntry{}, false, nil
	}
	if err != nil {
		return domain.BlacklistEntry{}, false, fmt.Errorf("%w: get block: %v", domain.ErrStoreUnavailable, err)
	}
	var entry domain.BlacklistEntry
	if err := json.Unmarshal(b, &entry); err != nil {
		return domain.BlacklistEntry{}, false, fmt.Errorf("decode block entry: %w", err)
	}
	return entry, true, nil
}

func (s *RedisBlockStore) Delete(ctx context.Context, ip string) error {
	if err := s.rdb.Del(ctx, s.key(ip)).Err(); err != nil {
		return fmt.Errorf("%w: delete block: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}
