/*
Package lock provides a Redis-backed fuel.TankLocker for multi-instance deployments.

PURPOSE:
  fuel.NewLocalLocker serializes writers inside one process. When several
  server instances share one database, RedisLocker serializes them per tank
  across processes. The store's conditional projection write still backs it:
  a lock that expires mid-commit cannot produce a lost update, only a retry.

KEYS:
  fuelstock:tank:<tank_id>, TTL from LOCK_TTL_SECONDS (default 10s).

FAILURE MODES:
  - Lock busy past the caller's deadline: fuel.ErrConcurrentModification
    (the ledger retries it)
  - Redis unreachable: the error is returned, the write does not happen
*/
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/warp/fuelstock/fuel"
)

const (
	DefaultTTL     = 10 * time.Second
	DefaultBackoff = 25 * time.Millisecond
	keyPrefix      = "fuelstock:tank:"
)

// RedisLocker implements fuel.TankLocker with bsm/redislock.
type RedisLocker struct {
	client  *redislock.Client
	ttl     time.Duration
	backoff time.Duration
	logger  *zap.Logger
}

var _ fuel.TankLocker = (*RedisLocker)(nil)

// Config holds the Redis connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// Connect dials Redis and returns a locker plus the client (caller closes it).
func Connect(ctx context.Context, cfg Config, logger *zap.Logger) (*RedisLocker, *redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: 100,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("connect redis %s: %w", cfg.Addr, err)
	}
	return NewRedisLocker(rdb, cfg.TTL, logger), rdb, nil
}

func NewRedisLocker(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisLocker{
		client:  redislock.New(rdb),
		ttl:     ttl,
		backoff: DefaultBackoff,
		logger:  logger,
	}
}

// Lock blocks until the tank's lock is obtained, ctx ends, or the TTL passes.
func (l *RedisLocker) Lock(ctx context.Context, tankID string) (func(), error) {
	key := keyPrefix + tankID
	lk, err := l.client.Obtain(ctx, key, l.ttl, &redislock.Options{
		RetryStrategy: redislock.LinearBackoff(l.backoff),
	})
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, fmt.Errorf("%w: tank %s is locked by another writer", fuel.ErrConcurrentModification, tankID)
	}
	if err != nil {
		return nil, fmt.Errorf("obtain lock %s: %w", key, err)
	}

	return func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		switch err := lk.Release(rctx); {
		case errors.Is(err, redislock.ErrLockNotHeld):
			l.logger.Warn("tank lock expired before release", zap.String("key", key), zap.Duration("ttl", l.ttl))
		case err != nil:
			l.logger.Warn("release tank lock failed", zap.String("key", key), zap.Error(err))
		}
	}, nil
}
