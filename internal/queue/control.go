package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonesrussell/north-cloud/sniper/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/sniper/internal/domain"
)

func (q *Queue) setJobStatus(ctx context.Context, job *domain.Job, to domain.JobStatus, mutate func(*domain.Job)) (*domain.Job, error) {
	from := job.Status
	if err := domain.ValidateJobTransition(from, to); err != nil {
		return nil, err
	}

	now := q.now().UTC()
	next := *job
	next.Status = to
	next.UpdatedAt = now
	if to == domain.JobRunning && next.StartedAt == nil {
		next.StartedAt = &now
	}
	if to.Terminal() {
		next.FinishedAt = &now
	}
	if to != domain.JobPaused {
		next.PausedReason = domain.PauseNone
	}
	if mutate != nil {
		mutate(&next)
	}

	if err := q.store.UpdateJob(ctx, &next, from); err != nil {
		return nil, fmt.Errorf("update job %s: %w", job.ID, err)
	}

	q.log.Info("Job status changed",
		logger.JobID(next.ID),
		logger.AccountID(next.AccountID),
		logger.String("from", string(from)),
		logger.String("to", string(to)),
	)
	q.notify(ctx, &next)
	return &next, nil
}

// StartJob marks a queued job running. Running jobs are returned unchanged.
func (q *Queue) StartJob(ctx context.Context, jobID string) (*domain.Job, error) {
	job, err := q.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status == domain.JobRunning {
		return job, nil
	}
	return q.setJobStatus(ctx, job, domain.JobRunning, nil)
}

// PauseJob pauses a job. Pausing an already paused job only upgrades the
// reason to user, so a manual pause is never lifted automatically.
func (q *Queue) PauseJob(ctx context.Context, jobID string, reason domain.PauseReason) (*domain.Job, error) {
	job, err := q.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return q.pause(ctx, job, reason)
}

func (q *Queue) pause(ctx context.Context, job *domain.Job, reason domain.PauseReason) (*domain.Job, error) {
	if job.Status == domain.JobPaused {
		if reason != domain.PauseUser || job.PausedReason == domain.PauseUser {
			return job, nil
		}
		next := *job
		next.PausedReason = domain.PauseUser
		next.UpdatedAt = q.now().UTC()
		if err := q.store.UpdateJob(ctx, &next, job.Status); err != nil {
			return nil, fmt.Errorf("update job %s: %w", job.ID, err)
		}
		return &next, nil
	}
	return q.setJobStatus(ctx, job, domain.JobPaused, func(j *domain.Job) { j.PausedReason = reason })
}

// ResumeJob returns a paused job to running, or queued if it never started.
func (q *Queue) ResumeJob(ctx context.Context, jobID string) (*domain.Job, error) {
	job, err := q.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return q.resume(ctx, job)
}

func (q *Queue) resume(ctx context.Context, job *domain.Job) (*domain.Job, error) {
	if job.Status != domain.JobPaused {
		return nil, fmt.Errorf("%w: job %s is %s", domain.ErrInvalidTransition, job.ID, job.Status)
	}
	to := domain.JobRunning
	if job.StartedAt == nil {
		to = domain.JobQueued
	}
	resumed, err := q.setJobStatus(ctx, job, to, nil)
	if err != nil {
		return nil, err
	}
	return q.RefreshJob(ctx, resumed.ID)
}

// CancelJob skips every item that has not started executing and marks the
// job cancelled. Executing items finish normally.
func (q *Queue) CancelJob(ctx context.Context, jobID string) (*domain.Job, error) {
	job, err := q.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err = domain.ValidateJobTransition(job.Status, domain.JobCancelled); err != nil {
		return nil, err
	}
	if err = q.skipOpenItems(ctx, job.ID, domain.ReasonCancelled); err != nil {
		return nil, err
	}
	return q.setJobStatus(ctx, job, domain.JobCancelled, nil)
}

// FailJob skips the job's open items with reason and marks it failed.
func (q *Queue) FailJob(ctx context.Context, jobID, reason string) (*domain.Job, error) {
	job, err := q.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err = domain.ValidateJobTransition(job.Status, domain.JobFailed); err != nil {
		return nil, err
	}
	if err = q.skipOpenItems(ctx, job.ID, reason); err != nil {
		return nil, err
	}
	return q.setJobStatus(ctx, job, domain.JobFailed, func(j *domain.Job) { j.ErrorMessage = reason })
}

// CancelItem skips one item. Executing and terminal items cannot be
// cancelled.
func (q *Queue) CancelItem(ctx context.Context, itemID string) (*domain.JobItem, error) {
	item, err := q.store.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	skipped, err := q.skip(ctx, item, domain.ReasonCancelled)
	if err != nil {
		return nil, err
	}
	if _, err = q.RefreshJob(ctx, item.JobID); err != nil {
		return nil, err
	}
	return skipped, nil
}

func (q *Queue) skip(ctx context.Context, item *domain.JobItem, reason string) (*domain.JobItem, error) {
	if item.Status == domain.ItemThrottled {
		pending, err := q.transition(ctx, item, domain.ItemPending, Update{Reason: reason})
		if err != nil {
			return nil, err
		}
		item = pending
	}
	return q.transition(ctx, item, domain.ItemSkipped, Update{Reason: reason})
}

func (q *Queue) skipOpenItems(ctx context.Context, jobID, reason string) error {
	items, _, err := q.store.ListItems(ctx, ItemFilter{JobID: jobID})
	if err != nil {
		return fmt.Errorf("list items for job %s: %w", jobID, err)
	}
	for _, item := range items {
		if item.Status.Terminal() || item.Status == domain.ItemExecuting {
			continue
		}
		if _, err = q.skip(ctx, item, reason); err != nil {
			if errors.Is(err, domain.ErrConflict) || errors.Is(err, domain.ErrInvalidTransition) {
				// The executor moved it first; it will finish on its own.
				continue
			}
			return err
		}
	}
	return nil
}

// PauseAccount pauses every open job of the account with reason and returns
// the jobs it changed.
func (q *Queue) PauseAccount(ctx context.Context, accountID string, reason domain.PauseReason) ([]*domain.Job, error) {
	jobs, err := q.store.AccountJobs(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("account jobs %s: %w", accountID, err)
	}

	var paused []*domain.Job
	for _, job := range jobs {
		if job.Status == domain.JobPaused {
			continue
		}
		p, pErr := q.pause(ctx, job, reason)
		if pErr != nil {
			if errors.Is(pErr, domain.ErrConflict) {
				continue
			}
			return paused, pErr
		}
		paused = append(paused, p)
	}

	if len(paused) > 0 {
		q.log.Info("Account paused",
			logger.AccountID(accountID),
			logger.String("reason", string(reason)),
			logger.Int("jobs", len(paused)),
		)
	}
	return paused, nil
}

// ResumeAccount resumes jobs paused by the system. User pauses stay.
func (q *Queue) ResumeAccount(ctx context.Context, accountID string) ([]*domain.Job, error) {
	jobs, err := q.store.AccountJobs(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("account jobs %s: %w", accountID, err)
	}

	var resumed []*domain.Job
	for _, job := range jobs {
		if job.Status != domain.JobPaused || job.PausedReason == domain.PauseUser {
			continue
		}
		r, rErr := q.resume(ctx, job)
		if rErr != nil {
			if errors.Is(rErr, domain.ErrConflict) {
				continue
			}
			return resumed, rErr
		}
		resumed = append(resumed, r)
	}

	if len(resumed) > 0 {
		q.log.Info("Account resumed", logger.AccountID(accountID), logger.Int("jobs", len(resumed)))
	}
	return resumed, nil
}

// RefreshJob completes an active job whose items are all terminal.
func (q *Queue) RefreshJob(ctx context.Context, jobID string) (*domain.Job, error) {
	job, err := q.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !job.Status.Active() {
		return job, nil
	}

	summary, err := q.Summary(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if summary.Total == 0 || summary.Terminal() < summary.Total {
		return job, nil
	}

	done, err := q.setJobStatus(ctx, job, domain.JobCompleted, nil)
	if errors.Is(err, domain.ErrConflict) {
		return q.store.GetJob(ctx, jobID)
	}
	return done, err
}
