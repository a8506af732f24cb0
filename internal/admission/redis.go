package admission

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisPrefix = "sniper:"
	// inFlightTTL lets a crashed replica's reservations drain on their own.
	inFlightTTL = 15 * time.Minute
)

var releaseScript = redis.NewScript(`
local v = redis.call("DECR", KEYS[1])
if v < 0 then
	redis.call("SET", KEYS[1], 0)
	v = 0
end
return v`)

// RedisStore keeps counters in Redis so replicas share them. Window
// counters expire with EXPIREAT; touch counters never expire.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func redisCounterKey(k CounterKey) string {
	return fmt.Sprintf("%sctr:%s:%s:%s:%s:%d",
		redisPrefix, k.AccountID, k.SourceKey, k.Window, k.Bucket, k.Start.Unix())
}

func redisTouchKey(accountID, target string) string {
	return redisPrefix + "touch:" + accountID + ":" + target
}

func slotKey(accountID string) string {
	return redisPrefix + "slot:" + accountID
}

func inFlightKey(accountID string) string {
	return redisPrefix + "inflight:" + accountID
}

func cooldownKey(accountID string) string {
	return redisPrefix + "cooldown:" + accountID
}

func (s *RedisStore) Counts(ctx context.Context, keys []CounterKey) ([]int64, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = redisCounterKey(k)
	}
	vals, err := s.client.MGet(ctx, names...).Result()
	if err != nil {
		return nil, fmt.Errorf("read counters: %w", err)
	}
	out := make([]int64, len(keys))
	for i, v := range vals {
		out[i] = parseInt(v)
	}
	return out, nil
}

func (s *RedisStore) Touches(ctx context.Context, accountID, targetRef string) (int64, error) {
	n, err := s.client.Get(ctx, redisTouchKey(accountID, targetRef)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read touches: %w", err)
	}
	return n, nil
}

func (s *RedisStore) State(ctx context.Context, accountID string) (AccountState, error) {
	vals, err := s.client.MGet(ctx, slotKey(accountID), cooldownKey(accountID), inFlightKey(accountID)).Result()
	if err != nil {
		return AccountState{}, fmt.Errorf("read account state: %w", err)
	}
	st := AccountState{InFlight: parseInt(vals[2])}
	if ms := parseInt(vals[0]); ms > 0 {
		st.NextSlotAt = time.UnixMilli(ms)
	}
	if ms := parseInt(vals[1]); ms > 0 {
		st.CooldownUntil = time.UnixMilli(ms)
	}
	return st, nil
}

// Reserve applies the whole reservation in one MULTI/EXEC.
func (s *RedisStore) Reserve(ctx context.Context, r Reservation) error {
	pipe := s.client.TxPipeline()
	for _, k := range r.Keys {
		key := redisCounterKey(k)
		pipe.Incr(ctx, key)
		pipe.ExpireAt(ctx, key, k.Expiry())
	}
	if r.TouchTarget != "" {
		pipe.Incr(ctx, redisTouchKey(r.AccountID, r.TouchTarget))
	}
	pipe.Set(ctx, slotKey(r.AccountID), r.NextSlotAt.UnixMilli(), 0)
	pipe.Incr(ctx, inFlightKey(r.AccountID))
	pipe.Expire(ctx, inFlightKey(r.AccountID), inFlightTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("reserve: %w", err)
	}
	return nil
}

func (s *RedisStore) Release(ctx context.Context, accountID string) error {
	if err := releaseScript.Run(ctx, s.client, []string{inFlightKey(accountID)}).Err(); err != nil {
		return fmt.Errorf("release: %w", err)
	}
	return nil
}

func (s *RedisStore) Increment(ctx context.Context, key CounterKey) error {
	name := redisCounterKey(key)
	pipe := s.client.TxPipeline()
	pipe.Incr(ctx, name)
	pipe.ExpireAt(ctx, name, key.Expiry())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("increment %s: %w", name, err)
	}
	return nil
}

func (s *RedisStore) SetCooldown(ctx context.Context, accountID string, until time.Time) error {
	key := cooldownKey(accountID)
	current, err := s.client.Get(ctx, key).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("read cooldown: %w", err)
	}
	if current >= until.UnixMilli() {
		return nil
	}
	if err = s.client.Set(ctx, key, until.UnixMilli(), 0).Err(); err != nil {
		return fmt.Errorf("set cooldown: %w", err)
	}
	if err = s.client.ExpireAt(ctx, key, until).Err(); err != nil {
		return fmt.Errorf("expire cooldown: %w", err)
	}
	return nil
}

func parseInt(v any) int64 {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
