package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/jonesrussell/north-cloud/sniper/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/sniper/internal/domain"
)

// Update carries the fields written alongside an item transition. Zero
// values leave the stored field unchanged.
type Update struct {
	// Reason is audited and, for skipped items, stored as the skip reason.
	Reason            string
	ErrorMessage      string
	ResultPayload     domain.RawJSON
	NextEligibleAt    time.Time
	IncrementAttempts bool
}

// Transition moves an item to status to after validating the edge.
func (q *Queue) Transition(ctx context.Context, itemID string, to domain.ItemStatus, u Update) (*domain.JobItem, error) {
	item, err := q.store.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	return q.transition(ctx, item, to, u)
}

func (q *Queue) transition(ctx context.Context, item *domain.JobItem, to domain.ItemStatus, u Update) (*domain.JobItem, error) {
	from := item.Status
	if err := domain.ValidateItemTransition(from, to); err != nil {
		return nil, err
	}

	next := *item
	next.Status = to
	next.UpdatedAt = q.now().UTC()
	if u.ErrorMessage != "" {
		next.ErrorMessage = u.ErrorMessage
	}
	if u.ResultPayload != nil {
		next.ResultPayload = u.ResultPayload
	}
	if !u.NextEligibleAt.IsZero() {
		next.NextEligibleAt = u.NextEligibleAt.UTC()
	}
	if u.IncrementAttempts {
		next.Attempts++
	}
	if to == domain.ItemSkipped {
		next.SkipReason = u.Reason
	}

	if err := q.store.UpdateItem(ctx, &next, from); err != nil {
		return nil, fmt.Errorf("update item %s: %w", item.ID, err)
	}

	q.audit(ctx, &next, from, u.Reason)
	return &next, nil
}

// Throttle records a delay: the item passes through throttled and returns to
// pending with nextEligibleAt = retryAt.
func (q *Queue) Throttle(ctx context.Context, itemID string, retryAt time.Time, reason string) (*domain.JobItem, error) {
	item, err := q.Transition(ctx, itemID, domain.ItemThrottled, Update{Reason: reason})
	if err != nil {
		return nil, err
	}
	return q.transition(ctx, item, domain.ItemPending, Update{Reason: reason, NextEligibleAt: retryAt})
}

func (q *Queue) audit(ctx context.Context, item *domain.JobItem, from domain.ItemStatus, reason string) {
	q.log.Debug("Item transition",
		logger.ItemID(item.ID),
		logger.JobID(item.JobID),
		logger.String("from", string(from)),
		logger.String("to", string(item.Status)),
		logger.Reason(reason),
	)
	if q.recorder == nil {
		return
	}
	_, err := q.recorder.Append(ctx, domain.AuditRecord{
		AccountID:  item.AccountID,
		ActionType: item.ActionType,
		Kind:       domain.AuditTransition,
		Outcome:    string(from) + "->" + string(item.Status),
		Reason:     reason,
		JobID:      item.JobID,
		ItemID:     item.ID,
	})
	if err != nil {
		q.log.Error("Failed to audit item transition", logger.ItemID(item.ID), logger.Error(err))
	}
}

func (q *Queue) notify(ctx context.Context, job *domain.Job) {
	if q.observer == nil {
		return
	}
	summary, err := q.Summary(ctx, job.ID)
	if err != nil {
		q.log.Warn("Failed to summarize job", logger.JobID(job.ID), logger.Error(err))
	}
	q.observer.JobChanged(ctx, job, summary)
}
