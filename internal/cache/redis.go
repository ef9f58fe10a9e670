package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache is the Redis-backed Cache implementation. It is the only
// implementation this package ships, but handlers depend on the Cache
// interface so tests can swap in a fake without a running server.
type RedisCache struct {
	client   *redis.Client
	logger   *slog.Logger
	isClosed bool
}

// NewRedisCache dials Redis per cfg (or DefaultConfig if nil) and verifies
// the connection with a bounded Ping before returning.
func NewRedisCache(cfg *Config, logger *slog.Logger) (*RedisCache, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	client := redis.NewClient(&redis.Options{
		Addr:            cfg.Addr,
		Password:        cfg.Password,
		DB:              cfg.DB,
		PoolSize:        cfg.PoolSize,
		MinIdleConns:    cfg.MinIdleConns,
		DialTimeout:     cfg.DialTimeout,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		MaxRetries:      cfg.MaxRetries,
		MinRetryBackoff: cfg.MinRetryBackoff,
		MaxRetryBackoff: cfg.MaxRetryBackoff,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Error("failed to connect to override cache", "error", err, "addr", cfg.Addr)
		return nil, NewError("failed to connect to Redis", "CONNECTION_ERROR").WithCause(err)
	}
	logger.Info("connected to override cache", "addr", cfg.Addr, "db", cfg.DB)

	return &RedisCache{client: client, logger: logger}, nil
}

// NewRedisCacheFromURL builds a RedisCache from a redis:// connection
// string, for deployments that configure Redis by URL rather than by
// discrete fields.
func NewRedisCacheFromURL(url string, logger *slog.Logger) (*RedisCache, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, NewError("failed to parse Redis URL", "PARSE_URL_ERROR").WithCause(err)
	}
	cfg := DefaultConfig()
	cfg.Addr = opt.Addr
	cfg.Password = opt.Password
	cfg.DB = opt.DB
	return NewRedisCache(cfg, logger)
}

func (rc *RedisCache) Get(ctx context.Context, key string, dest interface{}) error {
	if rc.isClosed {
		return ErrConnectionFailed
	}
	val, err := rc.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return ErrNotFound
		}
		return NewError("failed to get value from cache", "GET_ERROR").WithCause(err)
	}
	if err := json.Unmarshal([]byte(val), dest); err != nil {
		return NewError("failed to unmarshal cache value", "UNMARSHAL_ERROR").WithCause(err)
	}
	return nil
}

func (rc *RedisCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if rc.isClosed {
		return ErrConnectionFailed
	}
	data, err := json.Marshal(value)
	if err != nil {
		return NewError("failed to marshal cache value", "MARSHAL_ERROR").WithCause(err)
	}
	if err := rc.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return NewError("failed to set value in cache", "SET_ERROR").WithCause(err)
	}
	return nil
}

func (rc *RedisCache) Delete(ctx context.Context, key string) error {
	if rc.isClosed {
		return ErrConnectionFailed
	}
	result, err := rc.client.Del(ctx, key).Result()
	if err != nil {
		return NewError("failed to delete value from cache", "DELETE_ERROR").WithCause(err)
	}
	if result == 0 {
		return ErrNotFound
	}
	return nil
}

func (rc *RedisCache) Exists(ctx context.Context, key string) (bool, error) {
	if rc.isClosed {
		return false, ErrConnectionFailed
	}
	result, err := rc.client.Exists(ctx, key).Result()
	if err != nil {
		return false, NewError("failed to check key existence", "EXISTS_ERROR").WithCause(err)
	}
	return result > 0, nil
}

func (rc *RedisCache) SAdd(ctx context.Context, key string, members ...interface{}) error {
	if rc.isClosed {
		return ErrConnectionFailed
	}
	if err := rc.client.SAdd(ctx, key, members...).Err(); err != nil {
		return NewError("failed to add to set", "SADD_ERROR").WithCause(err)
	}
	return nil
}

func (rc *RedisCache) SMembers(ctx context.Context, key string) ([]string, error) {
	if rc.isClosed {
		return nil, ErrConnectionFailed
	}
	members, err := rc.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, NewError("failed to read set members", "SMEMBERS_ERROR").WithCause(err)
	}
	return members, nil
}

func (rc *RedisCache) SRem(ctx context.Context, key string, members ...interface{}) error {
	if rc.isClosed {
		return ErrConnectionFailed
	}
	if err := rc.client.SRem(ctx, key, members...).Err(); err != nil {
		return NewError("failed to remove from set", "SREM_ERROR").WithCause(err)
	}
	return nil
}

func (rc *RedisCache) HealthCheck(ctx context.Context) error {
	if rc.isClosed {
		return ErrConnectionFailed
	}
	if err := rc.client.Ping(ctx).Err(); err != nil {
		return NewError("cache health check failed", "HEALTH_CHECK_ERROR").WithCause(err)
	}
	return nil
}

func (rc *RedisCache) Ping(ctx context.Context) error {
	if rc.isClosed {
		return ErrConnectionFailed
	}
	return rc.client.Ping(ctx).Err()
}

func (rc *RedisCache) Close() error {
	if rc.isClosed {
		return nil
	}
	rc.isClosed = true
	if err := rc.client.Close(); err != nil {
		return NewError("failed to close Redis connection", "CLOSE_ERROR").WithCause(err)
	}
	return nil
}
