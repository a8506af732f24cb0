// Package queue owns jobs and their items: enqueue, due-item selection,
// validated status transitions and job control.
package queue

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jonesrussell/north-cloud/sniper/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/sniper/internal/domain"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 500
	MaxItemsPerJob  = 5000
)

// Store persists jobs and items. UpdateJob and UpdateItem are
// compare-and-set on the previous status and return domain.ErrConflict when
// another writer moved the row first. List calls with Limit <= 0 return
// every match.
type Store interface {
	CreateJob(ctx context.Context, job *domain.Job, items []*domain.JobItem) error
	GetJob(ctx context.Context, id string) (*domain.Job, error)
	UpdateJob(ctx context.Context, job *domain.Job, from domain.JobStatus) error
	ListJobs(ctx context.Context, f JobFilter) ([]*domain.Job, int, error)
	// AccountJobs returns the account's non-terminal jobs.
	AccountJobs(ctx context.Context, accountID string) ([]*domain.Job, error)

	GetItem(ctx context.Context, id string) (*domain.JobItem, error)
	UpdateItem(ctx context.Context, item *domain.JobItem, from domain.ItemStatus) error
	ListItems(ctx context.Context, f ItemFilter) ([]*domain.JobItem, int, error)
	CountItems(ctx context.Context, jobID string) (map[domain.ItemStatus]int, error)

	// DueAccounts lists, in ascending order, accounts that have a pending
	// item eligible at now in a queued or running job.
	DueAccounts(ctx context.Context, now time.Time) ([]string, error)
	// DueItems returns eligible pending items oldest first by seq.
	DueItems(ctx context.Context, accountID string, now time.Time, limit int) ([]*domain.JobItem, error)
}

type JobFilter struct {
	AccountID string
	JobType   domain.JobType
	Status    domain.JobStatus
	Limit     int
	Offset    int
}

type ItemFilter struct {
	JobID  string
	Status domain.ItemStatus
	Limit  int
	Offset int
}

// Recorder receives an audit record for every item transition.
type Recorder interface {
	Append(ctx context.Context, rec domain.AuditRecord) (domain.AuditRecord, error)
}

// Observer is told about job status changes.
type Observer interface {
	JobChanged(ctx context.Context, job *domain.Job, summary domain.JobSummary)
}

type Queue struct {
	store    Store
	recorder Recorder
	observer Observer
	log      logger.Logger
	now      func() time.Time

	rrMu     sync.Mutex
	rrCursor string
}

type Option func(*Queue)

func WithRecorder(r Recorder) Option {
	return func(q *Queue) { q.recorder = r }
}

func WithObserver(o Observer) Option {
	return func(q *Queue) { q.observer = o }
}

func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

func New(store Store, log logger.Logger, opts ...Option) *Queue {
	q := &Queue{store: store, log: log, now: time.Now}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *Queue) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	return q.store.GetJob(ctx, id)
}

func (q *Queue) GetItem(ctx context.Context, id string) (*domain.JobItem, error) {
	return q.store.GetItem(ctx, id)
}

func (q *Queue) ListJobs(ctx context.Context, f JobFilter) ([]*domain.Job, int, error) {
	f.Limit = clampLimit(f.Limit)
	if f.Offset < 0 {
		f.Offset = 0
	}
	return q.store.ListJobs(ctx, f)
}

func (q *Queue) ListItems(ctx context.Context, f ItemFilter) ([]*domain.JobItem, int, error) {
	if _, err := q.store.GetJob(ctx, f.JobID); err != nil {
		return nil, 0, err
	}
	f.Limit = clampLimit(f.Limit)
	if f.Offset < 0 {
		f.Offset = 0
	}
	return q.store.ListItems(ctx, f)
}

// AccountJobs returns the account's non-terminal jobs.
func (q *Queue) AccountJobs(ctx context.Context, accountID string) ([]*domain.Job, error) {
	return q.store.AccountJobs(ctx, accountID)
}

// Summary counts the job's items per status.
func (q *Queue) Summary(ctx context.Context, jobID string) (domain.JobSummary, error) {
	counts, err := q.store.CountItems(ctx, jobID)
	if err != nil {
		return domain.JobSummary{}, fmt.Errorf("count items for job %s: %w", jobID, err)
	}
	s := domain.JobSummary{Counts: counts}
	for _, n := range counts {
		s.Total += n
	}
	return s, nil
}

// DueAccounts returns up to limit accounts with eligible work, rotating the
// starting point after each call so every account gets a turn.
func (q *Queue) DueAccounts(ctx context.Context, now time.Time, limit int) ([]string, error) {
	accounts, err := q.store.DueAccounts(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("due accounts: %w", err)
	}
	if len(accounts) == 0 {
		return nil, nil
	}

	q.rrMu.Lock()
	defer q.rrMu.Unlock()

	start, _ := slices.BinarySearch(accounts, q.rrCursor)
	if start < len(accounts) && accounts[start] == q.rrCursor {
		start++
	}
	rotated := append(slices.Clone(accounts[start:]), accounts[:start]...)
	if limit > 0 && len(rotated) > limit {
		rotated = rotated[:limit]
	}
	q.rrCursor = rotated[len(rotated)-1]
	return rotated, nil
}

func (q *Queue) DueItems(ctx context.Context, accountID string, now time.Time, limit int) ([]*domain.JobItem, error) {
	return q.store.DueItems(ctx, accountID, now, limit)
}

func clampLimit(n int) int {
	if n <= 0 {
		return DefaultPageSize
	}
	if n > MaxPageSize {
		return MaxPageSize
	}
	return n
}

func newID() string {
	return uuid.NewString()
}
