package queue_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/sniper/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/sniper/internal/domain"
	"github.com/jonesrussell/north-cloud/sniper/internal/memstore"
	"github.com/jonesrussell/north-cloud/sniper/internal/queue"
)

var baseTime = time.Date(2026, 10, 20, 15, 0, 0, 0, time.UTC)

type recorder struct {
	mu      sync.Mutex
	records []domain.AuditRecord
}

func (r *recorder) Append(_ context.Context, rec domain.AuditRecord) (domain.AuditRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return rec, nil
}

func (r *recorder) outcomes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.records))
	for i, rec := range r.records {
		out[i] = rec.Outcome
	}
	return out
}

type observer struct {
	mu       sync.Mutex
	statuses []domain.JobStatus
}

func (o *observer) JobChanged(_ context.Context, job *domain.Job, _ domain.JobSummary) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.statuses = append(o.statuses, job.Status)
}

type fixture struct {
	q   *queue.Queue
	rec *recorder
	obs *observer
	now time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{rec: &recorder{}, obs: &observer{}, now: baseTime}
	f.q = queue.New(memstore.NewJobStore(), logger.NewNop(),
		queue.WithRecorder(f.rec),
		queue.WithObserver(f.obs),
		queue.WithClock(func() time.Time { return f.now }),
	)
	return f
}

func (f *fixture) enqueue(t *testing.T, account string, targets ...string) (*domain.Job, []*domain.JobItem) {
	t.Helper()
	specs := make([]queue.ItemSpec, len(targets))
	for i, target := range targets {
		specs[i] = queue.ItemSpec{TargetRef: target}
	}
	job, err := f.q.Enqueue(context.Background(), queue.EnqueueRequest{
		AccountID: account,
		JobType:   domain.JobTypeConnect,
		Items:     specs,
	})
	require.NoError(t, err)
	items, _, err := f.q.ListItems(context.Background(), queue.ItemFilter{JobID: job.ID})
	require.NoError(t, err)
	return job, items
}

func TestEnqueue(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	job, items := f.enqueue(t, "a1", "p1", "p2", "p1", " p3 ")
	assert.Equal(t, domain.JobQueued, job.Status)
	require.Len(t, items, 3, "duplicate targets collapse")
	assert.Equal(t, "p3", items[2].TargetRef)
	for i, it := range items {
		assert.Equal(t, domain.ItemPending, it.Status)
		assert.Equal(t, domain.ActionConnect, it.ActionType)
		assert.Equal(t, baseTime, it.NextEligibleAt)
		if i > 0 {
			assert.Greater(t, it.Seq, items[i-1].Seq)
		}
	}
	assert.Equal(t, []domain.JobStatus{domain.JobQueued}, f.obs.statuses)
}

func TestEnqueue_ScheduledFor(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	later := baseTime.Add(2 * time.Hour)

	job, err := f.q.Enqueue(context.Background(), queue.EnqueueRequest{
		AccountID:    "a1",
		JobType:      domain.JobTypeMessage,
		Items:        []queue.ItemSpec{{TargetRef: "p1", Payload: domain.RawJSON(`{"text":"hi"}`)}},
		ScheduledFor: &later,
	})
	require.NoError(t, err)

	due, err := f.q.DueItems(context.Background(), "a1", baseTime, 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	due, err = f.q.DueItems(context.Background(), "a1", later, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, job.ID, due[0].JobID)
	assert.JSONEq(t, `{"text":"hi"}`, string(due[0].Payload))
}

func TestEnqueue_Validation(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	tests := []struct {
		name  string
		req   queue.EnqueueRequest
		field string
	}{
		{"no account", queue.EnqueueRequest{JobType: domain.JobTypeConnect, Items: []queue.ItemSpec{{TargetRef: "p"}}}, "accountId"},
		{"bad type", queue.EnqueueRequest{AccountID: "a1", JobType: "spam", Items: []queue.ItemSpec{{TargetRef: "p"}}}, "jobType"},
		{"no items", queue.EnqueueRequest{AccountID: "a1", JobType: domain.JobTypeConnect}, "items"},
		{"blank target", queue.EnqueueRequest{AccountID: "a1", JobType: domain.JobTypeConnect, Items: []queue.ItemSpec{{TargetRef: " "}}}, "items[0].targetRef"},
		{"action outside job type", queue.EnqueueRequest{
			AccountID: "a1", JobType: domain.JobTypeConnect,
			Items: []queue.ItemSpec{{TargetRef: "p", ActionType: domain.ActionMessage}},
		}, "items[0].actionType"},
		{"mixed needs actions", queue.EnqueueRequest{AccountID: "a1", JobType: domain.JobTypeMixed, Items: []queue.ItemSpec{{TargetRef: "p"}}}, "items[0].actionType"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := f.q.Enqueue(context.Background(), tt.req)
			var verr *domain.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, verr.Fields, tt.field)
		})
	}
}

func TestTransition_AuditsAndValidates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	_, items := f.enqueue(t, "a1", "p1")
	id := items[0].ID

	_, err := f.q.Transition(ctx, id, domain.ItemSucceeded, queue.Update{})
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = f.q.Transition(ctx, id, domain.ItemAllowed, queue.Update{})
	require.NoError(t, err)
	item, err := f.q.Transition(ctx, id, domain.ItemExecuting, queue.Update{IncrementAttempts: true})
	require.NoError(t, err)
	assert.Equal(t, 1, item.Attempts)

	item, err = f.q.Transition(ctx, id, domain.ItemSucceeded, queue.Update{ResultPayload: domain.RawJSON(`{"ok":true}`)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(item.ResultPayload))

	assert.Equal(t, []string{"pending->allowed", "allowed->executing", "executing->succeeded"}, f.rec.outcomes())
	assert.Equal(t, domain.AuditTransition, f.rec.records[0].Kind)
	assert.Equal(t, id, f.rec.records[0].ItemID)
}

func TestTransition_ConflictOnStaleStatus(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := memstore.NewJobStore()
	q := queue.New(store, logger.NewNop())

	job, err := q.Enqueue(ctx, queue.EnqueueRequest{AccountID: "a1", JobType: domain.JobTypeConnect, Items: []queue.ItemSpec{{TargetRef: "p1"}}})
	require.NoError(t, err)
	items, _, err := q.ListItems(ctx, queue.ItemFilter{JobID: job.ID})
	require.NoError(t, err)
	stale := *items[0]

	_, err = q.Transition(ctx, stale.ID, domain.ItemAllowed, queue.Update{})
	require.NoError(t, err)

	stale.Status = domain.ItemSkipped
	require.ErrorIs(t, store.UpdateItem(ctx, &stale, domain.ItemPending), domain.ErrConflict)
}

func TestThrottle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	_, items := f.enqueue(t, "a1", "p1")
	retry := baseTime.Add(10 * time.Minute)

	item, err := f.q.Throttle(ctx, items[0].ID, retry, domain.ReasonPacing)
	require.NoError(t, err)
	assert.Equal(t, domain.ItemPending, item.Status)
	assert.Equal(t, retry, item.NextEligibleAt)
	assert.Equal(t, []string{"pending->throttled", "throttled->pending"}, f.rec.outcomes())
	assert.Equal(t, domain.ReasonPacing, f.rec.records[1].Reason)

	due, err := f.q.DueItems(ctx, "a1", baseTime, 10)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestDueAccounts_RoundRobin(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	for _, a := range []string{"c", "a", "b"} {
		f.enqueue(t, a, "p1")
	}

	first, err := f.q.DueAccounts(ctx, baseTime, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, first)

	second, err := f.q.DueAccounts(ctx, baseTime, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a"}, second)

	all, err := f.q.DueAccounts(ctx, baseTime, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c", "a"}, all)
}

func TestDueItems_SkipsPausedJobs(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	job, _ := f.enqueue(t, "a1", "p1", "p2")

	_, err := f.q.PauseJob(ctx, job.ID, domain.PauseUser)
	require.NoError(t, err)

	due, err := f.q.DueItems(ctx, "a1", baseTime, 10)
	require.NoError(t, err)
	assert.Empty(t, due)
	accounts, err := f.q.DueAccounts(ctx, baseTime, 0)
	require.NoError(t, err)
	assert.Empty(t, accounts)
}

func TestJobLifecycle_Completes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	job, items := f.enqueue(t, "a1", "p1", "p2")

	started, err := f.q.StartJob(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, started.StartedAt)

	for _, it := range items {
		_, err = f.q.Transition(ctx, it.ID, domain.ItemAllowed, queue.Update{})
		require.NoError(t, err)
		_, err = f.q.Transition(ctx, it.ID, domain.ItemExecuting, queue.Update{})
		require.NoError(t, err)
	}
	_, err = f.q.Transition(ctx, items[0].ID, domain.ItemSucceeded, queue.Update{})
	require.NoError(t, err)
	_, err = f.q.Transition(ctx, items[1].ID, domain.ItemFailed, queue.Update{ErrorMessage: "profile gone"})
	require.NoError(t, err)

	done, err := f.q.RefreshJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobCompleted, done.Status)
	require.NotNil(t, done.FinishedAt)

	summary, err := f.q.Summary(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 1, summary.Counts[domain.ItemFailed])
}

func TestCancelJob(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	job, items := f.enqueue(t, "a1", "p1", "p2", "p3")

	_, err := f.q.Transition(ctx, items[0].ID, domain.ItemAllowed, queue.Update{})
	require.NoError(t, err)
	_, err = f.q.Transition(ctx, items[0].ID, domain.ItemExecuting, queue.Update{})
	require.NoError(t, err)
	_, err = f.q.Throttle(ctx, items[1].ID, baseTime.Add(time.Hour), domain.ReasonPacing)
	require.NoError(t, err)

	cancelled, err := f.q.CancelJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobCancelled, cancelled.Status)

	got, _, err := f.q.ListItems(ctx, queue.ItemFilter{JobID: job.ID})
	require.NoError(t, err)
	assert.Equal(t, domain.ItemExecuting, got[0].Status, "executing items finish normally")
	assert.Equal(t, domain.ItemSkipped, got[1].Status)
	assert.Equal(t, domain.ReasonCancelled, got[1].SkipReason)
	assert.Equal(t, domain.ItemSkipped, got[2].Status)

	_, err = f.q.CancelJob(ctx, job.ID)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
	_, err = f.q.ResumeJob(ctx, job.ID)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestCancelItem_CompletesJob(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	job, items := f.enqueue(t, "a1", "p1")

	item, err := f.q.CancelItem(ctx, items[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ItemSkipped, item.Status)

	got, err := f.q.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobCompleted, got.Status)

	_, err = f.q.CancelItem(ctx, items[0].ID)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestFailJob(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	job, _ := f.enqueue(t, "a1", "p1")

	failed, err := f.q.FailJob(ctx, job.ID, "session_wait_timeout")
	require.NoError(t, err)
	assert.Equal(t, domain.JobFailed, failed.Status)
	assert.Equal(t, "session_wait_timeout", failed.ErrorMessage)

	items, _, err := f.q.ListItems(ctx, queue.ItemFilter{JobID: job.ID, Status: domain.ItemSkipped})
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestPauseAndResumeAccount(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	j1, _ := f.enqueue(t, "a1", "p1")
	j2, _ := f.enqueue(t, "a1", "p2")
	other, _ := f.enqueue(t, "a2", "p3")

	_, err := f.q.StartJob(ctx, j1.ID)
	require.NoError(t, err)
	_, err = f.q.PauseJob(ctx, j2.ID, domain.PauseUser)
	require.NoError(t, err)

	paused, err := f.q.PauseAccount(ctx, "a1", domain.PauseSessionUnavailable)
	require.NoError(t, err)
	require.Len(t, paused, 1)
	assert.Equal(t, j1.ID, paused[0].ID)
	assert.Equal(t, domain.PauseSessionUnavailable, paused[0].PausedReason)

	resumed, err := f.q.ResumeAccount(ctx, "a1")
	require.NoError(t, err)
	require.Len(t, resumed, 1)
	assert.Equal(t, domain.JobRunning, resumed[0].Status, "a started job resumes running")

	stillPaused, err := f.q.GetJob(ctx, j2.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobPaused, stillPaused.Status, "user pauses stay")

	untouched, err := f.q.GetJob(ctx, other.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobQueued, untouched.Status)
}

func TestPauseJob_UpgradesReasonToUser(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	job, _ := f.enqueue(t, "a1", "p1")

	_, err := f.q.PauseJob(ctx, job.ID, domain.PauseCooldown)
	require.NoError(t, err)
	p, err := f.q.PauseJob(ctx, job.ID, domain.PauseUser)
	require.NoError(t, err)
	assert.Equal(t, domain.PauseUser, p.PausedReason)

	resumed, err := f.q.ResumeAccount(ctx, "a1")
	require.NoError(t, err)
	assert.Empty(t, resumed)

	r, err := f.q.ResumeJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobQueued, r.Status, "never started, so back to queued")
	assert.Equal(t, domain.PauseNone, r.PausedReason)
}

func TestListJobs(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	first, _ := f.enqueue(t, "a1", "p1")
	second, _ := f.enqueue(t, "a1", "p2")
	f.enqueue(t, "a2", "p3")

	jobs, total, err := f.q.ListJobs(ctx, queue.JobFilter{AccountID: "a1"})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, []string{second.ID, first.ID}, []string{jobs[0].ID, jobs[1].ID})

	jobs, total, err = f.q.ListJobs(ctx, queue.JobFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, jobs, 1)
	assert.Equal(t, second.ID, jobs[0].ID)

	_, _, err = f.q.ListItems(ctx, queue.ItemFilter{JobID: "missing"})
	require.ErrorIs(t, err, domain.ErrNotFound)
}
