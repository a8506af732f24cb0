package admission

import (
	"context"
	"fmt"
	"time"

	"github.com/jonesrussell/north-cloud/sniper/internal/domain"
)

type TypeUsage struct {
	Count        int64 `json:"count"`
	Cap          int   `json:"cap"`
	EffectiveCap int   `json:"effectiveCap"`
}

// Usage is a read-only snapshot of an account's consumption.
type Usage struct {
	AccountID     string               `json:"accountId"`
	SourceKey     string               `json:"sourceKey"`
	Day           int64                `json:"day"`
	Hour          int64                `json:"hour"`
	Minute        int64                `json:"minute"`
	DayLimit      int                  `json:"dayLimit"`
	HourLimit     int                  `json:"hourLimit"`
	MinuteLimit   int                  `json:"minuteLimit"`
	Types         map[Bucket]TypeUsage `json:"types"`
	NextSlotAt    *time.Time           `json:"nextSlotAt,omitempty"`
	CooldownUntil *time.Time           `json:"cooldownUntil,omitempty"`
	Failures      int64                `json:"failures"`
	FailureLimit  int                  `json:"failureLimit"`
	InFlight      int64                `json:"inFlight"`
	Concurrency   int                  `json:"concurrency"`
	DayResetsAt   time.Time            `json:"dayResetsAt"`
	ActiveNow     bool                 `json:"activeNow"`
}

func (c *Controller) Usage(ctx context.Context, accountID, sourceKey string) (Usage, error) {
	if sourceKey == "" {
		sourceKey = domain.DefaultSourceKey
	}
	p, err := c.policies.Get(ctx, accountID)
	if err != nil {
		return Usage{}, fmt.Errorf("load policy: %w", err)
	}
	loc, err := p.Location()
	if err != nil {
		return Usage{}, fmt.Errorf("load policy timezone: %w", err)
	}
	limits := p.Limits(sourceKey)
	now := c.now()
	local := now.In(loc)

	key := func(w Window, b Bucket) CounterKey {
		return CounterKey{AccountID: accountID, SourceKey: sourceKey, Window: w, Bucket: b, Start: windowStart(w, local)}
	}
	keys := []CounterKey{key(WindowDay, BucketAll), key(WindowHour, BucketAll), key(WindowMinute, BucketAll)}
	for _, b := range typeBuckets {
		keys = append(keys, key(WindowDay, b))
	}
	keys = append(keys, failureKey(accountID, local))

	counts, err := c.store.Counts(ctx, keys)
	if err != nil {
		return Usage{}, err
	}
	state, err := c.store.State(ctx, accountID)
	if err != nil {
		return Usage{}, err
	}

	u := Usage{
		AccountID:    accountID,
		SourceKey:    sourceKey,
		Day:          counts[0],
		Hour:         counts[1],
		Minute:       counts[2],
		DayLimit:     p.Guardrails.MaxActionsPerDay,
		HourLimit:    p.Guardrails.MaxActionsPerHour,
		MinuteLimit:  limits.ActionsPerMinute,
		Failures:     counts[len(counts)-1],
		FailureLimit: p.Guardrails.MaxFailuresPerDay,
		Types:        make(map[Bucket]TypeUsage, len(typeBuckets)),
		InFlight:     state.InFlight,
		Concurrency:  limits.Concurrency,
		DayResetsAt:  windowEnd(WindowDay, keys[0].Start),
		ActiveNow:    Contains(&p.WorkingHours, loc, now),
	}
	for i, b := range typeBuckets {
		limit := capForBucket(limits, b)
		u.Types[b] = TypeUsage{Count: counts[3+i], Cap: limit, EffectiveCap: EffectiveCap(limit, p.Warmup)}
	}
	if now.Before(state.NextSlotAt) {
		t := state.NextSlotAt
		u.NextSlotAt = &t
	}
	if now.Before(state.CooldownUntil) {
		t := state.CooldownUntil
		u.CooldownUntil = &t
	}
	return u, nil
}
