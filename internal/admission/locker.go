package admission

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jonesrussell/north-cloud/sniper/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/sniper/internal/coordination"
)

// Locker serializes admission per account. The returned func releases.
type Locker interface {
	Lock(ctx context.Context, accountID string) (func(), error)
}

// LocalLocker is an in-process locker: one single-slot semaphore per
// account.
type LocalLocker struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: make(map[string]chan struct{})}
}

func (l *LocalLocker) Lock(ctx context.Context, accountID string) (func(), error) {
	l.mu.Lock()
	slot, ok := l.slots[accountID]
	if !ok {
		slot = make(chan struct{}, 1)
		l.slots[accountID] = slot
	}
	l.mu.Unlock()

	select {
	case slot <- struct{}{}:
		return func() { <-slot }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// RedisLocker spans replicas with a DistributedLock per account.
type RedisLocker struct {
	client *redis.Client
	cfg    coordination.LockConfig
	log    logger.Logger
}

// evaluationLockTTL outlives any single evaluation.
const evaluationLockTTL = 10 * time.Second

func NewRedisLocker(client *redis.Client, log logger.Logger) *RedisLocker {
	return &RedisLocker{
		client: client,
		cfg:    coordination.LockConfig{TTL: evaluationLockTTL},
		log:    log,
	}
}

func (l *RedisLocker) Lock(ctx context.Context, accountID string) (func(), error) {
	lock := coordination.NewDistributedLock(l.client, "admission:"+accountID, l.cfg)
	if err := lock.Lock(ctx); err != nil {
		return nil, fmt.Errorf("lock account %s: %w", accountID, err)
	}
	return func() {
		if err := lock.Unlock(context.WithoutCancel(ctx)); err != nil {
			l.log.Warn("Failed to release admission lock", logger.AccountID(accountID), logger.Error(err))
		}
	}, nil
}
