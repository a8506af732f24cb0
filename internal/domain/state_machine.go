package domain

import "fmt"

var itemTransitions = map[ItemStatus][]ItemStatus{
	ItemPending:   {ItemAllowed, ItemThrottled, ItemSkipped},
	ItemThrottled: {ItemPending},
	ItemAllowed:   {ItemExecuting, ItemSkipped, ItemPending},
	ItemExecuting: {ItemSucceeded, ItemFailed, ItemPending},
	ItemSucceeded: {},
	ItemFailed:    {},
	ItemSkipped:   {},
}

var jobTransitions = map[JobStatus][]JobStatus{
	JobQueued:    {JobRunning, JobPaused, JobCompleted, JobFailed, JobCancelled},
	JobRunning:   {JobPaused, JobCompleted, JobFailed, JobCancelled},
	JobPaused:    {JobQueued, JobRunning, JobFailed, JobCancelled},
	JobCompleted: {},
	JobFailed:    {},
	JobCancelled: {},
}

// ValidateItemTransition returns ErrInvalidTransition (wrapped) when from
// may not move to to.
func ValidateItemTransition(from, to ItemStatus) error {
	allowed, ok := itemTransitions[from]
	if !ok {
		return fmt.Errorf("%w: unknown item status %s", ErrInvalidTransition, from)
	}
	for _, s := range allowed {
		if s == to {
			return nil
		}
	}
	return fmt.Errorf("%w: item %s -> %s", ErrInvalidTransition, from, to)
}

func ValidateJobTransition(from, to JobStatus) error {
	allowed, ok := jobTransitions[from]
	if !ok {
		return fmt.Errorf("%w: unknown job status %s", ErrInvalidTransition, from)
	}
	for _, s := range allowed {
		if s == to {
			return nil
		}
	}
	return fmt.Errorf("%w: job %s -> %s", ErrInvalidTransition, from, to)
}

func (s ItemStatus) Valid() bool {
	_, ok := itemTransitions[s]
	return ok
}

func (s ItemStatus) Terminal() bool {
	return s == ItemSucceeded || s == ItemFailed || s == ItemSkipped
}

func (s JobStatus) Valid() bool {
	_, ok := jobTransitions[s]
	return ok
}

func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// Active reports whether the executor may pick items from the job.
func (s JobStatus) Active() bool {
	return s == JobQueued || s == JobRunning
}
