package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jonesrussell/north-cloud/sniper/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/sniper/infrastructure/retry"
	"github.com/jonesrussell/north-cloud/sniper/internal/admission"
	"github.com/jonesrussell/north-cloud/sniper/internal/domain"
	"github.com/jonesrussell/north-cloud/sniper/internal/metrics"
	"github.com/jonesrussell/north-cloud/sniper/internal/provider"
	"github.com/jonesrussell/north-cloud/sniper/internal/queue"
)

// processAccount makes one pass over an account's due items.
func (e *Executor) processAccount(ctx context.Context, accountID string) {
	log := e.log.With(logger.AccountID(accountID))

	p, err := e.policies.Get(ctx, accountID)
	if err != nil {
		log.Error("Failed to load policy", logger.Error(err))
		return
	}
	kind := p.Sender.Provider

	s, err := e.sessions.Health(ctx, accountID, kind)
	switch {
	case err != nil && !errors.Is(err, domain.ErrNotFound):
		log.Error("Failed to check session", logger.Error(err))
		return
	case err == nil && s.Status == domain.SessionTesting:
		e.throttleDue(ctx, accountID, e.now().Add(e.cfg.SessionRecheck), domain.ReasonSessionUnavailable)
		return
	case err != nil || s.Status != domain.SessionConnected:
		e.pauseForSession(ctx, accountID)
		return
	}

	items, err := e.queue.DueItems(ctx, accountID, e.now(), e.cfg.BatchSize)
	if err != nil {
		log.Error("Failed to list due items", logger.Error(err))
		return
	}
	for _, item := range items {
		if ctx.Err() != nil {
			return
		}
		if stop := e.processItem(ctx, kind, item); stop {
			return
		}
	}
}

// processItem evaluates one item and acts on the decision. It reports true
// when the rest of the account's batch should wait.
func (e *Executor) processItem(ctx context.Context, kind domain.SessionProvider, item *domain.JobItem) bool {
	log := e.log.With(logger.ItemID(item.ID), logger.JobID(item.JobID))

	proceed, err := e.jobOpen(ctx, item)
	if err != nil {
		log.Error("Failed to check job", logger.Error(err))
		return false
	}
	if !proceed {
		return false
	}

	d, err := e.admission.Evaluate(ctx, admission.Request{
		AccountID:  item.AccountID,
		ActionType: item.ActionType,
		SourceKey:  sourceKeyOf(item.Payload),
		TargetRef:  item.TargetRef,
		JobID:      item.JobID,
		ItemID:     item.ID,
	})
	if err != nil {
		log.Error("Admission failed", logger.Error(err))
		return true
	}

	switch d.Kind {
	case domain.DecisionDelay:
		e.throttle(ctx, item, d.At, d.Reason)
		return false
	case domain.DecisionDeny:
		if d.Reason == domain.ReasonSessionUnavailable {
			e.pauseForSession(ctx, item.AccountID)
			return true
		}
		e.finish(ctx, item, domain.ItemSkipped, queue.Update{Reason: d.Reason})
		return false
	}

	return e.admit(ctx, kind, item)
}

// jobOpen re-reads the item's job. Items of finished jobs are skipped and
// items of paused jobs are left alone.
func (e *Executor) jobOpen(ctx context.Context, item *domain.JobItem) (bool, error) {
	job, err := e.queue.GetJob(ctx, item.JobID)
	if err != nil {
		return false, err
	}
	switch {
	case job.Status.Terminal():
		e.finish(ctx, item, domain.ItemSkipped, queue.Update{Reason: domain.ReasonCancelled})
		return false, nil
	case job.Status == domain.JobPaused:
		return false, nil
	}
	return true, nil
}

// admit moves an allowed item to executing and hands it to a provider call.
func (e *Executor) admit(ctx context.Context, kind domain.SessionProvider, item *domain.JobItem) bool {
	log := e.log.With(logger.ItemID(item.ID), logger.JobID(item.JobID))

	allowed, err := e.transition(ctx, item, domain.ItemAllowed, queue.Update{})
	if err != nil {
		log.Warn("Allowed item changed underneath", logger.Error(err))
		e.release(item.AccountID)
		return false
	}
	if _, err = e.queue.StartJob(ctx, item.JobID); err != nil && !errors.Is(err, domain.ErrInvalidTransition) {
		log.Warn("Failed to start job", logger.Error(err))
	}

	job, err := e.queue.GetJob(ctx, item.JobID)
	if err != nil || job.Status != domain.JobRunning {
		// Cancelled or paused between evaluate and invoke.
		to, reason := domain.ItemPending, ""
		if err == nil && job.Status.Terminal() {
			to, reason = domain.ItemSkipped, domain.ReasonCancelled
		}
		e.finish(ctx, allowed, to, queue.Update{Reason: reason})
		e.release(item.AccountID)
		return false
	}

	executing, err := e.transition(ctx, allowed, domain.ItemExecuting, queue.Update{IncrementAttempts: true})
	if err != nil {
		log.Warn("Failed to mark item executing", logger.Error(err))
		e.release(item.AccountID)
		return false
	}

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		e.requeue(context.WithoutCancel(ctx), executing, e.now(), "shutdown")
		e.release(item.AccountID)
		return true
	}

	e.inflight.Add(1)
	go func() {
		defer e.inflight.Done()
		defer func() { <-e.sem }()
		e.invoke(ctx, kind, executing)
	}()
	return false
}

func (e *Executor) invoke(ctx context.Context, kind domain.SessionProvider, item *domain.JobItem) {
	e.metrics.AddInFlight(1)
	defer e.metrics.AddInFlight(-1)

	// Bookkeeping after the call must survive shutdown.
	bg := context.WithoutCancel(ctx)
	defer e.release(item.AccountID)

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.ProviderTimeout)
	defer cancel()
	callCtx, span := metrics.Tracer().Start(callCtx, "provider.perform", trace.WithAttributes(
		attribute.String("account.id", item.AccountID),
		attribute.String("action.type", string(item.ActionType)),
		attribute.String("item.id", item.ID),
	))
	defer span.End()

	start := time.Now()
	result, err := e.perform(callCtx, kind, item)
	outcome := outcomeOf(result, err)
	e.metrics.ObserveProviderCall(string(item.ActionType), outcome, time.Since(start))
	span.SetAttributes(attribute.String("outcome", outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	e.handleOutcome(bg, kind, item, result, err)
}

func (e *Executor) perform(ctx context.Context, kind domain.SessionProvider, item *domain.JobItem) (provider.Result, error) {
	h, err := e.sessions.Handle(ctx, item.AccountID, kind)
	if err != nil {
		return provider.Result{}, fmt.Errorf("session handle: %w", err)
	}
	return e.provider.Perform(ctx, h, item.ActionType, item.TargetRef, item.Payload)
}

func (e *Executor) handleOutcome(ctx context.Context, kind domain.SessionProvider, item *domain.JobItem, res provider.Result, err error) {
	log := e.log.With(logger.ItemID(item.ID), logger.JobID(item.JobID), logger.AccountID(item.AccountID))

	switch {
	case err != nil:
		log.Warn("Provider call failed", logger.Error(err))
		e.retryOrFail(ctx, item, err.Error())
	case res.OK:
		e.finish(ctx, item, domain.ItemSucceeded, queue.Update{ResultPayload: res.Payload})
	case res.ErrorKind == provider.KindTransient:
		e.retryOrFail(ctx, item, res.Message)
	case res.ErrorKind == provider.KindCaptcha, res.ErrorKind == provider.KindBlocked:
		log.Warn("Account challenged by platform", logger.String("kind", string(res.ErrorKind)))
		e.finish(ctx, item, domain.ItemFailed, queue.Update{Reason: string(res.ErrorKind), ErrorMessage: messageOr(res)})
		e.quarantine(ctx, kind, item.AccountID, res.ErrorKind)
	default:
		e.finish(ctx, item, domain.ItemFailed, queue.Update{Reason: string(provider.KindPermanent), ErrorMessage: messageOr(res)})
	}
}

// retryOrFail returns the item to pending with backoff until MaxAttempts
// tries have been spent. Attempts was already counted when it started
// executing.
func (e *Executor) retryOrFail(ctx context.Context, item *domain.JobItem, msg string) {
	if item.Attempts < e.cfg.MaxAttempts {
		retryAt := e.now().Add(retry.Backoff(retryBackoff, item.Attempts))
		e.requeueWith(ctx, item, queue.Update{
			Reason:         string(provider.KindTransient),
			ErrorMessage:   msg,
			NextEligibleAt: retryAt,
		})
		return
	}
	e.finish(ctx, item, domain.ItemFailed, queue.Update{Reason: "max_attempts", ErrorMessage: msg})
}

// quarantine stops the account after a captcha or block: open jobs pause,
// the session needs re-authentication and a block also starts the cooldown.
func (e *Executor) quarantine(ctx context.Context, kind domain.SessionProvider, accountID string, errKind provider.ErrorKind) {
	log := e.log.With(logger.AccountID(accountID))

	reason := domain.PauseSessionUnavailable
	if errKind == provider.KindBlocked {
		reason = domain.PauseCooldown
		if until, err := e.admission.TriggerCooldown(ctx, accountID); err != nil {
			log.Error("Failed to start cooldown", logger.Error(err))
		} else {
			log.Warn("Cooldown started", logger.Time("until", until))
		}
	}
	if _, err := e.queue.PauseAccount(ctx, accountID, reason); err != nil {
		log.Error("Failed to pause account", logger.Error(err))
	}
	if err := e.sessions.InvalidateAccount(ctx, accountID, kind, string(errKind)); err != nil {
		log.Error("Failed to invalidate session", logger.Error(err))
	}
}

// pauseForSession pauses the account until a session connects and fails
// jobs that have waited too long without ever starting.
func (e *Executor) pauseForSession(ctx context.Context, accountID string) {
	paused, err := e.queue.PauseAccount(ctx, accountID, domain.PauseSessionUnavailable)
	if err != nil {
		e.log.Error("Failed to pause account", logger.AccountID(accountID), logger.Error(err))
		return
	}
	for _, job := range paused {
		e.failIfStale(ctx, job)
	}
}

// reconcilePausedJobs revisits jobs the system paused. An account that has
// a connected session again is resumed; otherwise jobs that never started
// fail once they have waited too long.
func (e *Executor) reconcilePausedJobs(ctx context.Context) {
	connected := make(map[string]bool)
	for offset := 0; ; offset += queue.MaxPageSize {
		jobs, total, err := e.queue.ListJobs(ctx, queue.JobFilter{
			Status: domain.JobPaused,
			Limit:  queue.MaxPageSize,
			Offset: offset,
		})
		if err != nil {
			if ctx.Err() == nil {
				e.log.Error("Failed to list paused jobs", logger.Error(err))
			}
			return
		}
		for _, job := range jobs {
			if job.PausedReason == domain.PauseUser {
				continue
			}
			ok, seen := connected[job.AccountID]
			if !seen {
				ok = e.sessionRestored(ctx, job.AccountID)
				connected[job.AccountID] = ok
			}
			if !ok {
				e.failIfStale(ctx, job)
			}
		}
		if offset+len(jobs) >= total || len(jobs) == 0 {
			return
		}
	}
}

// sessionRestored resumes the account's system-paused jobs when it has a
// connected session and reports whether it did.
func (e *Executor) sessionRestored(ctx context.Context, accountID string) bool {
	log := e.log.With(logger.AccountID(accountID))

	p, err := e.policies.Get(ctx, accountID)
	if err != nil {
		log.Error("Failed to load policy", logger.Error(err))
		return false
	}
	ok, err := e.hasConnectedSession(ctx, accountID, p.Sender.Provider)
	if err != nil {
		log.Error("Failed to check session", logger.Error(err))
		return false
	}
	if !ok {
		return false
	}
	if _, err = e.queue.ResumeAccount(ctx, accountID); err != nil {
		log.Error("Failed to resume account", logger.Error(err))
		return false
	}
	return true
}

func (e *Executor) failIfStale(ctx context.Context, job *domain.Job) {
	if job.Status != domain.JobPaused || job.PausedReason != domain.PauseSessionUnavailable || job.StartedAt != nil {
		return
	}
	if e.now().Sub(job.CreatedAt) < e.cfg.SessionWaitTimeout {
		return
	}
	if _, err := e.queue.FailJob(ctx, job.ID, domain.ReasonSessionUnavailable); err != nil {
		e.log.Error("Failed to fail stale job", logger.JobID(job.ID), logger.Error(err))
		return
	}
	e.log.Warn("Job failed waiting for a session",
		logger.JobID(job.ID),
		logger.AccountID(job.AccountID),
		logger.Duration("waited", e.now().Sub(job.CreatedAt)),
	)
}

// throttleDue delays every due item of the account without evaluating it.
func (e *Executor) throttleDue(ctx context.Context, accountID string, at time.Time, reason string) {
	items, err := e.queue.DueItems(ctx, accountID, e.now(), e.cfg.BatchSize)
	if err != nil {
		e.log.Error("Failed to list due items", logger.AccountID(accountID), logger.Error(err))
		return
	}
	for _, item := range items {
		e.throttle(ctx, item, at, reason)
	}
}

func (e *Executor) throttle(ctx context.Context, item *domain.JobItem, at time.Time, reason string) {
	if _, err := e.queue.Throttle(ctx, item.ID, at, reason); err != nil {
		e.log.Warn("Failed to throttle item", logger.ItemID(item.ID), logger.Error(err))
		return
	}
	e.metrics.ObserveTransition(string(domain.ItemThrottled))
	e.metrics.ObserveTransition(string(domain.ItemPending))
}

func (e *Executor) transition(ctx context.Context, item *domain.JobItem, to domain.ItemStatus, u queue.Update) (*domain.JobItem, error) {
	next, err := e.queue.Transition(ctx, item.ID, to, u)
	if err != nil {
		return nil, err
	}
	e.metrics.ObserveTransition(string(to))
	return next, nil
}

// finish moves the item and refreshes its job, which completes once every
// item is terminal.
func (e *Executor) finish(ctx context.Context, item *domain.JobItem, to domain.ItemStatus, u queue.Update) {
	if _, err := e.transition(ctx, item, to, u); err != nil {
		e.log.Warn("Failed to update item",
			logger.ItemID(item.ID),
			logger.String("to", string(to)),
			logger.Error(err),
		)
		return
	}
	if !to.Terminal() {
		return
	}
	if to == domain.ItemFailed {
		if err := e.admission.RecordFailure(ctx, item.AccountID); err != nil {
			e.log.Error("Failed to record failure", logger.AccountID(item.AccountID), logger.Error(err))
		}
	}
	if _, err := e.queue.RefreshJob(ctx, item.JobID); err != nil {
		e.log.Warn("Failed to refresh job", logger.JobID(item.JobID), logger.Error(err))
	}
}

func (e *Executor) requeue(ctx context.Context, item *domain.JobItem, at time.Time, reason string) {
	e.requeueWith(ctx, item, queue.Update{Reason: reason, NextEligibleAt: at})
}

func (e *Executor) requeueWith(ctx context.Context, item *domain.JobItem, u queue.Update) {
	e.finish(ctx, item, domain.ItemPending, u)
}

func (e *Executor) release(accountID string) {
	if err := e.admission.Release(context.Background(), accountID); err != nil {
		e.log.Warn("Failed to release in-flight slot", logger.AccountID(accountID), logger.Error(err))
	}
}

func outcomeOf(res provider.Result, err error) string {
	switch {
	case err != nil:
		return "error"
	case res.OK:
		return "ok"
	case res.ErrorKind == provider.KindNone:
		return string(provider.KindPermanent)
	default:
		return string(res.ErrorKind)
	}
}

func messageOr(res provider.Result) string {
	if res.Message != "" {
		return res.Message
	}
	return string(res.ErrorKind)
}

// sourceKeyOf reads an optional "sourceKey" from the item payload.
func sourceKeyOf(payload domain.RawJSON) string {
	if len(payload) == 0 {
		return ""
	}
	var v struct {
		SourceKey string `json:"sourceKey"`
	}
	if err := json.Unmarshal(payload, &v); err != nil {
		return ""
	}
	return v.SourceKey
}
