// Package admission decides whether an action may run now. Every decision
// is made inside the account's critical section, and an allow atomically
// reserves the counters the action consumes.
package admission

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jonesrussell/north-cloud/sniper/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/sniper/internal/domain"
	"github.com/jonesrussell/north-cloud/sniper/internal/metrics"
)

const (
	DefaultConcurrencyRecheck = 5 * time.Second
	// safetyConnectFloor is the minimum spacing after a connect in safety mode.
	safetyConnectFloor = 60 * time.Second
)

type PolicySource interface {
	Get(ctx context.Context, accountID string) (*domain.Policy, error)
}

// SessionChecker returns the session admission judges, or
// domain.ErrNotFound when the account has none.
type SessionChecker interface {
	Health(ctx context.Context, accountID string, kind domain.SessionProvider) (*domain.Session, error)
}

type Recorder interface {
	Append(ctx context.Context, rec domain.AuditRecord) (domain.AuditRecord, error)
}

type Request struct {
	AccountID  string            `json:"accountId"`
	ActionType domain.ActionType `json:"actionType"`
	SourceKey  string            `json:"sourceKey,omitempty"`
	TargetRef  string            `json:"targetRef,omitempty"`
	DryRun     bool              `json:"dryRun"`
	JobID      string            `json:"-"`
	ItemID     string            `json:"-"`
}

type Controller struct {
	policies           PolicySource
	sessions           SessionChecker
	store              CounterStore
	locker             Locker
	recorder           Recorder
	metrics            *metrics.Metrics
	tracer             trace.Tracer
	log                logger.Logger
	now                func() time.Time
	jitter             func() float64
	concurrencyRecheck time.Duration
}

type Option func(*Controller)

func WithLocker(l Locker) Option {
	return func(c *Controller) { c.locker = l }
}

func WithRecorder(r Recorder) Option {
	return func(c *Controller) { c.recorder = r }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithJitter replaces the [0,1) source used for pacing delays.
func WithJitter(f func() float64) Option {
	return func(c *Controller) { c.jitter = f }
}

func WithConcurrencyRecheck(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.concurrencyRecheck = d
		}
	}
}

func NewController(policies PolicySource, sessions SessionChecker, store CounterStore, log logger.Logger, opts ...Option) *Controller {
	c := &Controller{
		policies:           policies,
		sessions:           sessions,
		store:              store,
		locker:             NewLocalLocker(),
		tracer:             metrics.Tracer(),
		log:                log,
		now:                time.Now,
		jitter:             rand.Float64,
		concurrencyRecheck: DefaultConcurrencyRecheck,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Evaluate returns the decision for req. Only a non-dry-run allow mutates
// counters.
func (c *Controller) Evaluate(ctx context.Context, req Request) (domain.Decision, error) {
	if err := validateRequest(req); err != nil {
		return domain.Decision{}, err
	}
	if req.SourceKey == "" {
		req.SourceKey = domain.DefaultSourceKey
	}

	ctx, span := c.tracer.Start(ctx, "admission.evaluate", trace.WithAttributes(
		attribute.String("account.id", req.AccountID),
		attribute.String("action.type", string(req.ActionType)),
		attribute.Bool("dry_run", req.DryRun),
	))
	defer span.End()

	start := time.Now()
	unlock, err := c.locker.Lock(ctx, req.AccountID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return domain.Decision{}, fmt.Errorf("acquire account lock: %w", err)
	}
	d, err := c.evaluate(ctx, req)
	unlock()
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return domain.Decision{}, err
	}

	span.SetAttributes(attribute.String("decision", string(d.Kind)), attribute.String("reason", d.Reason))
	c.metrics.ObserveDecision(string(d.Kind), d.Reason, string(req.ActionType), time.Since(start))
	c.record(ctx, req, d)
	return d, nil
}

func validateRequest(req Request) error {
	v := &domain.ValidationError{}
	if req.AccountID == "" {
		v.Add("accountId", "is required")
	}
	if !req.ActionType.Valid() {
		v.Add("actionType", "unknown action type")
	}
	return v.Err()
}

func (c *Controller) evaluate(ctx context.Context, req Request) (domain.Decision, error) {
	now := c.now()

	p, err := c.policies.Get(ctx, req.AccountID)
	if err != nil {
		return domain.Decision{}, fmt.Errorf("load policy: %w", err)
	}
	loc, err := p.Location()
	if err != nil {
		return domain.Decision{}, fmt.Errorf("load policy timezone: %w", err)
	}
	limits := p.Limits(req.SourceKey)
	local := now.In(loc)

	if !Contains(&p.WorkingHours, loc, now) {
		return domain.Delay(NextWindowStart(&p.WorkingHours, loc, now), domain.ReasonOutsideHours), nil
	}

	s, err := c.sessions.Health(ctx, req.AccountID, p.Sender.Provider)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return domain.Decision{}, fmt.Errorf("check session: %w", err)
	}
	if s == nil || s.Status != domain.SessionConnected {
		return domain.Deny(domain.ReasonSessionUnavailable), nil
	}

	state, err := c.store.State(ctx, req.AccountID)
	if err != nil {
		return domain.Decision{}, err
	}
	if now.Before(state.CooldownUntil) {
		return domain.Delay(state.CooldownUntil, domain.ReasonCooldown), nil
	}

	keys := c.keys(req, local)
	counts, err := c.store.Counts(ctx, keys)
	if err != nil {
		return domain.Decision{}, err
	}
	dayTotal, hourTotal, minuteTotal, dayType := counts[0], counts[1], counts[2], counts[3]

	g := p.Guardrails
	switch {
	case dayTotal >= int64(g.MaxActionsPerDay):
		return domain.Delay(windowEnd(WindowDay, keys[0].Start), domain.ReasonDailyLimit), nil
	case hourTotal >= int64(g.MaxActionsPerHour):
		return domain.Delay(windowEnd(WindowHour, keys[1].Start), domain.ReasonHourlyLimit), nil
	case limits.ActionsPerMinute > 0 && minuteTotal >= int64(limits.ActionsPerMinute):
		return domain.Delay(windowEnd(WindowMinute, keys[2].Start), domain.ReasonMinuteLimit), nil
	}

	if g.MaxFailuresPerDay > 0 {
		fk := failureKey(req.AccountID, local)
		failures, fErr := c.store.Counts(ctx, []CounterKey{fk})
		if fErr != nil {
			return domain.Decision{}, fErr
		}
		if failures[0] >= int64(g.MaxFailuresPerDay) {
			return domain.Delay(windowEnd(WindowDay, fk.Start), domain.ReasonFailureLimit), nil
		}
	}

	if req.TargetRef != "" && domain.MatchesDomain(req.TargetRef, g.DoNotContactDomains) {
		return domain.Deny(domain.ReasonDoNotContact), nil
	}
	if req.ActionType.IsTouch() && g.MaxTouchesPerPerson > 0 && req.TargetRef != "" {
		touches, tErr := c.store.Touches(ctx, req.AccountID, req.TargetRef)
		if tErr != nil {
			return domain.Decision{}, tErr
		}
		if touches >= int64(g.MaxTouchesPerPerson) {
			return domain.Deny(domain.ReasonContactLimit), nil
		}
	}

	typeCap := limits.CapFor(req.ActionType)
	if typeCap <= 0 {
		return domain.Deny(domain.ReasonTypeDisabled), nil
	}
	nextDay := windowEnd(WindowDay, keys[3].Start)
	if dayType >= int64(typeCap) {
		return domain.Delay(nextDay, domain.ReasonTypeLimit), nil
	}
	if effective := EffectiveCap(typeCap, p.Warmup); dayType >= int64(effective) {
		return domain.Delay(nextDay, domain.ReasonWarmupLimit), nil
	}

	if now.Before(state.NextSlotAt) {
		return domain.Delay(state.NextSlotAt, domain.ReasonPacing), nil
	}

	if state.InFlight >= int64(max(limits.Concurrency, 1)) {
		return domain.Delay(now.Add(c.concurrencyRecheck), domain.ReasonConcurrency), nil
	}

	next := now.Add(c.spacing(req.ActionType, g))
	if req.DryRun {
		return domain.Allow(next), nil
	}

	r := Reservation{AccountID: req.AccountID, Keys: keys, NextSlotAt: next, Now: now}
	if req.ActionType.IsTouch() && req.TargetRef != "" {
		r.TouchTarget = req.TargetRef
	}
	if err = c.store.Reserve(ctx, r); err != nil {
		return domain.Decision{}, err
	}
	return domain.Allow(next), nil
}

// keys returns, in order: day, hour and minute totals, then the day and
// hour counters for the action's bucket.
func (c *Controller) keys(req Request, local time.Time) []CounterKey {
	bucket := BucketFor(req.ActionType)
	key := func(w Window, b Bucket) CounterKey {
		return CounterKey{
			AccountID: req.AccountID,
			SourceKey: req.SourceKey,
			Window:    w,
			Bucket:    b,
			Start:     windowStart(w, local),
		}
	}
	return []CounterKey{
		key(WindowDay, BucketAll),
		key(WindowHour, BucketAll),
		key(WindowMinute, BucketAll),
		key(WindowDay, bucket),
		key(WindowHour, bucket),
	}
}

// spacing draws the delay before the next action: min + rand*(max-min).
func (c *Controller) spacing(action domain.ActionType, g domain.Guardrails) time.Duration {
	minDelay := time.Duration(g.MinDelaySeconds) * time.Second
	maxDelay := time.Duration(g.MaxDelaySeconds) * time.Second
	if g.SafetyModeEnabled && action == domain.ActionConnect {
		minDelay = max(minDelay, safetyConnectFloor)
		maxDelay = max(maxDelay, minDelay)
	}
	if maxDelay <= minDelay {
		return minDelay
	}
	return minDelay + time.Duration(c.jitter()*float64(maxDelay-minDelay))
}

// Release frees the in-flight slot taken by an allowed action.
func (c *Controller) Release(ctx context.Context, accountID string) error {
	if err := c.store.Release(ctx, accountID); err != nil {
		return fmt.Errorf("release %s: %w", accountID, err)
	}
	return nil
}

// RecordFailure counts a failed action against the account's daily failure
// limit.
func (c *Controller) RecordFailure(ctx context.Context, accountID string) error {
	p, err := c.policies.Get(ctx, accountID)
	if err != nil {
		return fmt.Errorf("load policy: %w", err)
	}
	loc, err := p.Location()
	if err != nil {
		return fmt.Errorf("load policy timezone: %w", err)
	}
	if err = c.store.Increment(ctx, failureKey(accountID, c.now().In(loc))); err != nil {
		return fmt.Errorf("record failure %s: %w", accountID, err)
	}
	return nil
}

// StartCooldown blocks the account's actions until until.
func (c *Controller) StartCooldown(ctx context.Context, accountID string, until time.Time) error {
	if err := c.store.SetCooldown(ctx, accountID, until); err != nil {
		return fmt.Errorf("start cooldown %s: %w", accountID, err)
	}
	c.log.Warn("Account cooldown started", logger.AccountID(accountID), logger.Time("until", until))
	return nil
}

// TriggerCooldown starts the cooldown configured in the account's policy
// and returns its end. A policy cooldown of zero does nothing.
func (c *Controller) TriggerCooldown(ctx context.Context, accountID string) (time.Time, error) {
	p, err := c.policies.Get(ctx, accountID)
	if err != nil {
		return time.Time{}, fmt.Errorf("load policy: %w", err)
	}
	if p.Guardrails.CooldownMinutes <= 0 {
		return time.Time{}, nil
	}
	until := c.now().Add(time.Duration(p.Guardrails.CooldownMinutes) * time.Minute)
	return until, c.StartCooldown(ctx, accountID, until)
}

func (c *Controller) record(ctx context.Context, req Request, d domain.Decision) {
	c.log.Debug("Admission decision",
		logger.AccountID(req.AccountID),
		logger.Action(string(req.ActionType)),
		logger.Decision(string(d.Kind)),
		logger.Reason(d.Reason),
		logger.Bool("dry_run", req.DryRun),
	)
	if c.recorder == nil {
		return
	}
	reason := d.Reason
	if req.DryRun && reason == "" {
		reason = "dry_run"
	}
	_, err := c.recorder.Append(ctx, domain.AuditRecord{
		AccountID:  req.AccountID,
		ActionType: req.ActionType,
		Kind:       domain.AuditDecision,
		Outcome:    string(d.Kind),
		Reason:     reason,
		JobID:      req.JobID,
		ItemID:     req.ItemID,
	})
	if err != nil {
		c.log.Error("Failed to audit decision", logger.AccountID(req.AccountID), logger.Error(err))
	}
}
