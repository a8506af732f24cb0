package queue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jonesrussell/north-cloud/sniper/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/sniper/internal/domain"
)

type EnqueueRequest struct {
	AccountID    string         `json:"accountId"`
	JobType      domain.JobType `json:"jobType"`
	Items        []ItemSpec     `json:"items"`
	ScheduledFor *time.Time     `json:"scheduledFor,omitempty"`
}

// ItemSpec describes one target. ActionType may be omitted for non-mixed
// jobs and then defaults from the job type.
type ItemSpec struct {
	TargetRef  string            `json:"targetRef"`
	ActionType domain.ActionType `json:"actionType,omitempty"`
	Payload    domain.RawJSON    `json:"payload,omitempty"`
}

// Enqueue validates req and persists a queued job with pending items.
// Duplicate (targetRef, actionType) pairs keep their first occurrence.
func (q *Queue) Enqueue(ctx context.Context, req EnqueueRequest) (*domain.Job, error) {
	items, err := normalize(req)
	if err != nil {
		return nil, err
	}

	now := q.now().UTC()
	eligible := now
	if req.ScheduledFor != nil && req.ScheduledFor.After(now) {
		eligible = req.ScheduledFor.UTC()
	}

	job := &domain.Job{
		ID:        newID(),
		AccountID: req.AccountID,
		JobType:   req.JobType,
		Status:    domain.JobQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}

	rows := make([]*domain.JobItem, 0, len(items))
	for _, it := range items {
		rows = append(rows, &domain.JobItem{
			ID:             newID(),
			JobID:          job.ID,
			AccountID:      job.AccountID,
			TargetRef:      it.TargetRef,
			ActionType:     it.ActionType,
			Status:         domain.ItemPending,
			Payload:        it.Payload,
			NextEligibleAt: eligible,
			CreatedAt:      now,
			UpdatedAt:      now,
		})
	}

	if err = q.store.CreateJob(ctx, job, rows); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	q.log.Info("Job enqueued",
		logger.AccountID(job.AccountID),
		logger.JobID(job.ID),
		logger.String("job_type", string(job.JobType)),
		logger.Int("items", len(rows)),
		logger.Int("duplicates_dropped", len(req.Items)-len(rows)),
	)
	q.notify(ctx, job)
	return job, nil
}

func normalize(req EnqueueRequest) ([]ItemSpec, error) {
	v := &domain.ValidationError{}
	if strings.TrimSpace(req.AccountID) == "" {
		v.Add("accountId", "is required")
	}
	if !req.JobType.Valid() {
		v.Add("jobType", "must be one of extract, connect, message, mixed")
	}
	switch {
	case len(req.Items) == 0:
		v.Add("items", "at least one item is required")
	case len(req.Items) > MaxItemsPerJob:
		v.Add("items", fmt.Sprintf("at most %d items per job", MaxItemsPerJob))
	}
	if err := v.Err(); err != nil {
		return nil, err
	}

	type key struct {
		target string
		action domain.ActionType
	}
	seen := make(map[key]struct{}, len(req.Items))
	out := make([]ItemSpec, 0, len(req.Items))

	for i, it := range req.Items {
		field := fmt.Sprintf("items[%d]", i)
		it.TargetRef = strings.TrimSpace(it.TargetRef)
		if it.TargetRef == "" {
			v.Add(field+".targetRef", "is required")
		}
		if it.ActionType == "" {
			it.ActionType = req.JobType.DefaultAction()
		}
		switch {
		case !it.ActionType.Valid():
			v.Add(field+".actionType", "unknown action type")
		case !req.JobType.Allows(it.ActionType):
			v.Add(field+".actionType", fmt.Sprintf("not allowed in a %s job", req.JobType))
		}

		k := key{it.TargetRef, it.ActionType}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, it)
	}

	if err := v.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
