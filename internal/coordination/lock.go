// Package coordination holds Redis-backed primitives shared by replicas.
package coordination

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultLockTTL    = 30 * time.Second
	DefaultRetryDelay = 50 * time.Millisecond
	// DefaultMaxRetries bounds Lock to roughly five seconds of waiting.
	DefaultMaxRetries = 100

	keyPrefix = "sniper:lock:"
)

var (
	ErrLockNotAcquired = errors.New("lock not acquired")
	ErrLockNotHeld     = errors.New("lock not held")
)

var (
	releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`)

	extendScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0`)
)

type LockConfig struct {
	TTL        time.Duration
	RetryDelay time.Duration
	MaxRetries int
}

func (c *LockConfig) setDefaults() {
	if c.TTL <= 0 {
		c.TTL = DefaultLockTTL
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
}

// DistributedLock is a single-holder lease on name. Each instance carries
// its own token, so only the holder can release or extend it.
type DistributedLock struct {
	client *redis.Client
	key    string
	token  string
	cfg    LockConfig
}

func NewDistributedLock(client *redis.Client, name string, cfg LockConfig) *DistributedLock {
	cfg.setDefaults()
	return &DistributedLock{
		client: client,
		key:    keyPrefix + name,
		token:  uuid.NewString(),
		cfg:    cfg,
	}
}

// Lock retries TryLock until it succeeds, ctx ends or retries run out.
func (l *DistributedLock) Lock(ctx context.Context) error {
	for attempt := range l.cfg.MaxRetries {
		acquired, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if acquired {
			return nil
		}
		if attempt == l.cfg.MaxRetries-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.cfg.RetryDelay):
		}
	}
	return fmt.Errorf("%w: %s", ErrLockNotAcquired, l.key)
}

func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	ok, err := l.client.SetNX(ctx, l.key, l.token, l.cfg.TTL).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", l.key, err)
	}
	return ok, nil
}

func (l *DistributedLock) Unlock(ctx context.Context) error {
	n, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Int()
	if err != nil {
		return fmt.Errorf("release lock %s: %w", l.key, err)
	}
	if n == 0 {
		return ErrLockNotHeld
	}
	return nil
}

func (l *DistributedLock) Extend(ctx context.Context, ttl time.Duration) error {
	n, err := extendScript.Run(ctx, l.client, []string{l.key}, l.token, ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("extend lock %s: %w", l.key, err)
	}
	if n == 0 {
		return ErrLockNotHeld
	}
	return nil
}

func (l *DistributedLock) IsHeld(ctx context.Context) (bool, error) {
	val, err := l.client.Get(ctx, l.key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check lock %s: %w", l.key, err)
	}
	return val == l.token, nil
}

func (l *DistributedLock) Key() string {
	return l.key
}
