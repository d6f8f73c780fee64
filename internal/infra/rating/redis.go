package rating

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	domainrating "github.com/osa030/focuslamp/internal/domain/rating"
)

// RedisConfig configures a RedisSource.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Key      string
}

// RedisSource reads the latest rating from a redis string key that the
// detector overwrites.
type RedisSource struct {
	client *redis.Client
	key    string

	invalidWarn rate.Sometimes
}

// NewRedisSource creates a redis-backed source. The connection is made lazily.
func NewRedisSource(cfg RedisConfig) *RedisSource {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &RedisSource{
		client:      client,
		key:         cfg.Key,
		invalidWarn: rate.Sometimes{First: 1, Interval: time.Minute},
	}
}

// Latest implements rating.Source.
func (s *RedisSource) Latest(ctx context.Context) (int, bool, error) {
	raw, err := s.client.Get(ctx, s.key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.Mark(errors.Wrapf(err, "redis get %s", s.key), domainrating.ErrSourceUnavailable)
	}

	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		s.invalidWarn.Do(func() {
			zlog.Warn().Msgf("rating: non-integer rating in redis: key=%s value=%q", s.key, raw)
		})
		return 0, false, nil
	}
	return value, true, nil
}

// Close closes the redis client.
func (s *RedisSource) Close() error {
	return s.client.Close()
}
