package memstore

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/jonesrussell/north-cloud/sniper/internal/domain"
	"github.com/jonesrussell/north-cloud/sniper/internal/queue"
)

type JobStore struct {
	mu      sync.RWMutex
	jobs    map[string]*domain.Job
	items   map[string]*domain.JobItem
	byJob   map[string][]string
	seq     int64
	ordered []string
}

func NewJobStore() *JobStore {
	return &JobStore{
		jobs:  make(map[string]*domain.Job),
		items: make(map[string]*domain.JobItem),
		byJob: make(map[string][]string),
	}
}

func copyJob(j *domain.Job) *domain.Job {
	c := *j
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		c.FinishedAt = &t
	}
	return &c
}

func copyItem(i *domain.JobItem) *domain.JobItem {
	c := *i
	c.Payload = slices.Clone(i.Payload)
	c.ResultPayload = slices.Clone(i.ResultPayload)
	return &c
}

// CreateJob stores the job and assigns each item the next seq.
func (s *JobStore) CreateJob(_ context.Context, job *domain.Job, items []*domain.JobItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return domain.ErrConflict
	}
	s.jobs[job.ID] = copyJob(job)
	s.ordered = append(s.ordered, job.ID)
	for _, it := range items {
		s.seq++
		it.Seq = s.seq
		s.items[it.ID] = copyItem(it)
		s.byJob[job.ID] = append(s.byJob[job.ID], it.ID)
	}
	return nil
}

func (s *JobStore) GetJob(_ context.Context, id string) (*domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return copyJob(j), nil
}

func (s *JobStore) UpdateJob(_ context.Context, job *domain.Job, from domain.JobStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.jobs[job.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if cur.Status != from {
		return domain.ErrConflict
	}
	s.jobs[job.ID] = copyJob(job)
	return nil
}

// ListJobs returns newest first.
func (s *JobStore) ListJobs(_ context.Context, f queue.JobFilter) ([]*domain.Job, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]*domain.Job, 0)
	for i := len(s.ordered) - 1; i >= 0; i-- {
		j := s.jobs[s.ordered[i]]
		if f.AccountID != "" && j.AccountID != f.AccountID {
			continue
		}
		if f.JobType != "" && j.JobType != f.JobType {
			continue
		}
		if f.Status != "" && j.Status != f.Status {
			continue
		}
		matched = append(matched, copyJob(j))
	}
	return page(matched, f.Limit, f.Offset), len(matched), nil
}

func (s *JobStore) AccountJobs(_ context.Context, accountID string) ([]*domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Job, 0)
	for _, id := range s.ordered {
		j := s.jobs[id]
		if j.AccountID == accountID && !j.Status.Terminal() {
			out = append(out, copyJob(j))
		}
	}
	return out, nil
}

func (s *JobStore) GetItem(_ context.Context, id string) (*domain.JobItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	it, ok := s.items[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return copyItem(it), nil
}

func (s *JobStore) UpdateItem(_ context.Context, item *domain.JobItem, from domain.ItemStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.items[item.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if cur.Status != from {
		return domain.ErrConflict
	}
	s.items[item.ID] = copyItem(item)
	return nil
}

// ListItems returns the job's items in seq order.
func (s *JobStore) ListItems(_ context.Context, f queue.ItemFilter) ([]*domain.JobItem, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matched := make([]*domain.JobItem, 0)
	for _, id := range s.byJob[f.JobID] {
		it := s.items[id]
		if f.Status != "" && it.Status != f.Status {
			continue
		}
		matched = append(matched, copyItem(it))
	}
	return page(matched, f.Limit, f.Offset), len(matched), nil
}

func (s *JobStore) CountItems(_ context.Context, jobID string) (map[domain.ItemStatus]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[domain.ItemStatus]int)
	for _, id := range s.byJob[jobID] {
		counts[s.items[id].Status]++
	}
	return counts, nil
}

func (s *JobStore) DueAccounts(_ context.Context, now time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, it := range s.items {
		if s.due(it, now) {
			seen[it.AccountID] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for a := range seen {
		out = append(out, a)
	}
	sort.Strings(out)
	return out, nil
}

func (s *JobStore) DueItems(_ context.Context, accountID string, now time.Time, limit int) ([]*domain.JobItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.JobItem, 0)
	for _, it := range s.items {
		if it.AccountID == accountID && s.due(it, now) {
			out = append(out, copyItem(it))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *JobStore) due(it *domain.JobItem, now time.Time) bool {
	if it.Status != domain.ItemPending || it.NextEligibleAt.After(now) {
		return false
	}
	j, ok := s.jobs[it.JobID]
	return ok && j.Status.Active()
}

func page[T any](all []T, limit, offset int) []T {
	if offset >= len(all) {
		return []T{}
	}
	all = all[offset:]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all
}
