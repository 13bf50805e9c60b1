// Package runlock keeps batch jobs from overlapping across processes.
package runlock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	DefaultKey = "mideita:lock:reconcile-assets"
	DefaultTTL = 10 * time.Minute
)

var (
	ErrLockHeld       = errors.New("run lock held by another process")
	ErrLockLost       = errors.New("run lock expired or taken over")
	errMissingClient  = errors.New("redis client required")
	errMissingLockKey = errors.New("lock key required")
)

// releaseScript deletes the key only while it still carries the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// refreshScript extends the TTL only while the key still carries the caller's token.
var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Config describes one named lock.
type Config struct {
	Client redis.Cmdable
	Key    string
	TTL    time.Duration
	Logger *zap.Logger
}

// RedisLock is a single-holder lock stored as one Redis key with a TTL.
type RedisLock struct {
	client redis.Cmdable
	key    string
	ttl    time.Duration
	logger *zap.Logger
	newID  func() string
}

// Lease is a held lock. Release it when the guarded work ends.
type Lease struct {
	lock  *RedisLock
	token string
}

func NewRedisLock(cfg Config) (*RedisLock, error) {
	if cfg.Client == nil {
		return nil, errMissingClient
	}
	key := strings.TrimSpace(cfg.Key)
	if key == "" {
		return nil, errMissingLockKey
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisLock{
		client: cfg.Client,
		key:    key,
		ttl:    ttl,
		logger: logger,
		newID:  uuid.NewString,
	}, nil
}

// Acquire takes the lock or returns ErrLockHeld without waiting.
func (l *RedisLock) Acquire(ctx context.Context) (*Lease, error) {
	token := l.newID()
	acquired, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		l.logger.Error("run lock acquire failed", zap.String("key", l.key), zap.Error(err))
		return nil, fmt.Errorf("runlock acquire: %w", err)
	}
	if !acquired {
		l.logger.Info("run lock busy", zap.String("key", l.key))
		return nil, ErrLockHeld
	}
	l.logger.Debug("run lock acquired", zap.String("key", l.key), zap.Duration("ttl", l.ttl))
	return &Lease{lock: l, token: token}, nil
}

// Refresh extends the lease by the lock TTL. It fails with ErrLockLost when the key expired
// or another holder took it.
func (l *Lease) Refresh(ctx context.Context) error {
	result, err := refreshScript.Run(ctx, l.lock.client, []string{l.lock.key}, l.token, l.lock.ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("runlock refresh: %w", err)
	}
	if result == 0 {
		return ErrLockLost
	}
	return nil
}

// Release drops the lock if this lease still owns it.
func (l *Lease) Release(ctx context.Context) error {
	result, err := releaseScript.Run(ctx, l.lock.client, []string{l.lock.key}, l.token).Int64()
	if err != nil {
		l.lock.logger.Error("run lock release failed", zap.String("key", l.lock.key), zap.Error(err))
		return fmt.Errorf("runlock release: %w", err)
	}
	if result == 0 {
		l.lock.logger.Warn("run lock already lost at release", zap.String("key", l.lock.key))
		return ErrLockLost
	}
	return nil
}

// Key returns the Redis key guarding the job.
func (l *RedisLock) Key() string {
	return l.key
}
