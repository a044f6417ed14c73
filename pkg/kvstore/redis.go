package kvstore

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrRedisConnString indicates the Redis connection URL could not be parsed.
	ErrRedisConnString = errors.New("kvstore: failed to parse redis connection string")

	// ErrRedisNotReady indicates Redis did not become reachable within the
	// configured retry window.
	ErrRedisNotReady = errors.New("kvstore: redis did not become ready in time")
)

// RedisConfig holds connection settings for a Redis-backed store.
type RedisConfig struct {
	ConnectionURL  string        `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`
	RetryAttempts  int           `env:"REDIS_RETRY_ATTEMPTS" envDefault:"3"`
	RetryInterval  time.Duration `env:"REDIS_RETRY_INTERVAL" envDefault:"5s"`
	ConnectTimeout time.Duration `env:"REDIS_CONNECT_TIMEOUT" envDefault:"30s"`
}

// ConnectRedis establishes a Redis connection with retry, returning a ready
// client or an error once the retry budget is exhausted.
func ConnectRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	opt, err := redis.ParseURL(cfg.ConnectionURL)
	if err != nil {
		return nil, errors.Join(ErrRedisConnString, err)
	}

	for range cfg.RetryAttempts {
		client := redis.NewClient(opt)
		if err := client.Ping(ctx).Err(); err == nil {
			return client, nil
		}
		_ = client.Close()

		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrRedisNotReady, ctx.Err())
		case <-time.After(cfg.RetryInterval):
		}
	}

	return nil, ErrRedisNotReady
}

// RedisStore implements Store on top of a Redis client. It suits deployments
// where the companion app's local state is mirrored to a device-sync service;
// Redis acknowledges writes before returning, satisfying the durable-set
// contract at the configured persistence level.
type RedisStore struct {
	db redis.UniversalClient
}

// NewRedisStore wraps an established Redis client.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{db: client}
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, ErrInvalidKey
	}

	val, err := s.db.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrKeyNotFound
	}
	return val, err
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return ErrInvalidKey
	}

	if err := s.db.Set(ctx, key, value, 0).Err(); err != nil {
		return errors.Join(ErrWriteFailed, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	return s.db.Del(ctx, key).Err()
}

// Close terminates the underlying Redis connection.
func (s *RedisStore) Close() error {
	return s.db.Close()
}
