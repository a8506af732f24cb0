package admission

import (
	"context"
	"strconv"
	"sync"
	"time"
)

type memEntry struct {
	value  int64
	expiry time.Time
}

// MemoryStore is a single-process CounterStore. Windows that expired before
// a reservation's Now are pruned by it.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[string]memEntry
	touches  map[string]int64
	state    map[string]AccountState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		counters: make(map[string]memEntry),
		touches:  make(map[string]int64),
		state:    make(map[string]AccountState),
	}
}

func memKey(k CounterKey) string {
	return k.AccountID + "|" + k.SourceKey + "|" + string(k.Window) + "|" + string(k.Bucket) + "|" +
		strconv.FormatInt(k.Start.Unix(), 10)
}

func touchKey(accountID, target string) string {
	return accountID + "|" + target
}

func (s *MemoryStore) Counts(_ context.Context, keys []CounterKey) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int64, len(keys))
	for i, k := range keys {
		out[i] = s.counters[memKey(k)].value
	}
	return out, nil
}

func (s *MemoryStore) Touches(_ context.Context, accountID, targetRef string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.touches[touchKey(accountID, targetRef)], nil
}

func (s *MemoryStore) State(_ context.Context, accountID string) (AccountState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state[accountID], nil
}

func (s *MemoryStore) Reserve(_ context.Context, r Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.prune(r.Now)
	for _, k := range r.Keys {
		key := memKey(k)
		e := s.counters[key]
		e.value++
		e.expiry = k.Expiry()
		s.counters[key] = e
	}
	if r.TouchTarget != "" {
		s.touches[touchKey(r.AccountID, r.TouchTarget)]++
	}
	st := s.state[r.AccountID]
	st.NextSlotAt = r.NextSlotAt
	st.InFlight++
	s.state[r.AccountID] = st
	return nil
}

func (s *MemoryStore) Release(_ context.Context, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state[accountID]
	if st.InFlight > 0 {
		st.InFlight--
	}
	s.state[accountID] = st
	return nil
}

func (s *MemoryStore) Increment(_ context.Context, key CounterKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := memKey(key)
	e := s.counters[k]
	e.value++
	e.expiry = key.Expiry()
	s.counters[k] = e
	return nil
}

func (s *MemoryStore) SetCooldown(_ context.Context, accountID string, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state[accountID]
	if until.After(st.CooldownUntil) {
		st.CooldownUntil = until
	}
	s.state[accountID] = st
	return nil
}

func (s *MemoryStore) prune(now time.Time) {
	if now.IsZero() {
		return
	}
	for k, e := range s.counters {
		if now.After(e.expiry) {
			delete(s.counters, k)
		}
	}
}
