package quota

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const (
	defaultRedisPrefix = "leadscout:quota:"
	maxTxRetries       = 10
)

// RedisStore keeps one hash per provider ({period, count}) plus a set of
// known providers. Updates use WATCH/MULTI so concurrent processes never
// lose increments.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore creates a RedisStore. An empty prefix uses the default.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(provider string) string {
	return s.prefix + provider
}

func (s *RedisStore) indexKey() string {
	return s.prefix + "providers"
}

// Update implements Store.
func (s *RedisStore) Update(ctx context.Context, provider string, fn func(Usage) (Usage, error)) error {
	key := s.key(provider)
	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			fields, err := tx.HGetAll(ctx, key).Result()
			if err != nil {
				return eris.Wrap(err, "quota: redis read")
			}
			next, err := fn(parseUsage(provider, fields))
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.HSet(ctx, key, "period", next.Period, "count", next.Count)
				pipe.SAdd(ctx, s.indexKey(), provider)
				return nil
			})
			return err
		}, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return eris.Errorf("quota: redis update %s: too much contention", provider)
}

// List implements Store.
func (s *RedisStore) List(ctx context.Context) (map[string]Usage, error) {
	providers, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, eris.Wrap(err, "quota: redis list providers")
	}
	out := make(map[string]Usage, len(providers))
	for _, p := range providers {
		fields, err := s.client.HGetAll(ctx, s.key(p)).Result()
		if err != nil {
			return nil, eris.Wrapf(err, "quota: redis read %s", p)
		}
		if len(fields) == 0 {
			continue
		}
		out[p] = parseUsage(p, fields)
	}
	return out, nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, provider string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key(provider))
		pipe.SRem(ctx, s.indexKey(), provider)
		return nil
	})
	return eris.Wrap(err, "quota: redis delete")
}

// parseUsage treats malformed fields as zero usage.
func parseUsage(provider string, fields map[string]string) Usage {
	u := Usage{Period: strings.TrimSpace(fields["period"])}
	if raw, ok := fields["count"]; ok {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			zap.L().Warn("quota: corrupt redis counter, starting from zero",
				zap.String("provider", provider), zap.String("count", raw))
			return Usage{Period: u.Period}
		}
		u.Count = n
	}
	return u
}
