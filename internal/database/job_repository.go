package database

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jonesrussell/north-cloud/sniper/internal/domain"
	"github.com/jonesrussell/north-cloud/sniper/internal/queue"
)

const jobColumns = `id, account_id, job_type, status, paused_reason, error_message,
	created_at, updated_at, started_at, finished_at`

const itemColumns = `id, job_id, account_id, seq, target_ref, action_type, status, payload,
	result_payload, error_message, skip_reason, attempts, next_eligible_at, created_at, updated_at`

// JobRepository implements queue.Store. Status updates are conditional on
// the previous status so concurrent writers cannot both win.
type JobRepository struct {
	db *sqlx.DB
}

func NewJobRepository(db *sqlx.DB) *JobRepository {
	return &JobRepository{db: db}
}

var _ queue.Store = (*JobRepository)(nil)

// limitArg turns a non-positive limit into LIMIT NULL, which Postgres reads
// as no limit.
func limitArg(n int) any {
	if n <= 0 {
		return nil
	}
	return n
}

func (r *JobRepository) CreateJob(ctx context.Context, job *domain.Job, items []*domain.JobItem) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	jobQuery := `INSERT INTO jobs (` + jobColumns + `)
		VALUES (:id, :account_id, :job_type, :status, :paused_reason, :error_message,
			:created_at, :updated_at, :started_at, :finished_at)`
	if _, err = tx.NamedExecContext(ctx, jobQuery, job); err != nil {
		return fmt.Errorf("insert job: %w", err)
	}

	itemQuery := `
		INSERT INTO job_items (id, job_id, account_id, target_ref, action_type, status, payload,
			next_eligible_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING seq
	`
	stmt, err := tx.PreparexContext(ctx, itemQuery)
	if err != nil {
		return fmt.Errorf("prepare item insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, it := range items {
		err = stmt.QueryRowxContext(ctx,
			it.ID, it.JobID, it.AccountID, it.TargetRef, it.ActionType, it.Status, it.Payload,
			it.NextEligibleAt, it.CreatedAt, it.UpdatedAt,
		).Scan(&it.Seq)
		if err != nil {
			return fmt.Errorf("insert item %s: %w", it.ID, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit job: %w", err)
	}
	return nil
}

func (r *JobRepository) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	var job domain.Job
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`
	if err := r.db.GetContext(ctx, &job, query, id); err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, notFound(err))
	}
	return &job, nil
}

func (r *JobRepository) UpdateJob(ctx context.Context, job *domain.Job, from domain.JobStatus) error {
	query := `
		UPDATE jobs
		SET status = $3, paused_reason = $4, error_message = $5, updated_at = $6,
			started_at = $7, finished_at = $8
		WHERE id = $1 AND status = $2
	`
	result, err := r.db.ExecContext(ctx, query,
		job.ID, from, job.Status, job.PausedReason, job.ErrorMessage, job.UpdatedAt,
		job.StartedAt, job.FinishedAt,
	)
	if err = execRequireRows(result, err, domain.ErrConflict); err != nil {
		return r.conflictOrMissing(ctx, "jobs", job.ID, err)
	}
	return nil
}

// conflictOrMissing distinguishes a lost race from an unknown row after a
// conditional update touched nothing.
func (r *JobRepository) conflictOrMissing(ctx context.Context, table, id string, err error) error {
	if !errors.Is(err, domain.ErrConflict) {
		return err
	}
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM ` + table + ` WHERE id = $1)`
	if qErr := r.db.GetContext(ctx, &exists, query, id); qErr != nil {
		return fmt.Errorf("check %s %s: %w", table, id, qErr)
	}
	if !exists {
		return domain.ErrNotFound
	}
	return domain.ErrConflict
}

func (r *JobRepository) ListJobs(ctx context.Context, f queue.JobFilter) ([]*domain.Job, int, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, strings.Replace(clause, "?", "$"+strconv.Itoa(len(args)), 1))
	}
	if f.AccountID != "" {
		add("account_id = ?", f.AccountID)
	}
	if f.JobType != "" {
		add("job_type = ?", f.JobType)
	}
	if f.Status != "" {
		add("status = ?", f.Status)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM jobs`+clause, args...); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	n := len(args)
	query := `SELECT ` + jobColumns + ` FROM jobs` + clause +
		` ORDER BY created_at DESC, id LIMIT $` + strconv.Itoa(n+1) + ` OFFSET $` + strconv.Itoa(n+2)
	jobs := make([]*domain.Job, 0)
	if err := r.db.SelectContext(ctx, &jobs, query, append(args, limitArg(f.Limit), f.Offset)...); err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, total, nil
}

func (r *JobRepository) AccountJobs(ctx context.Context, accountID string) ([]*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs
		WHERE account_id = $1 AND status IN ('queued', 'running', 'paused')
		ORDER BY created_at`
	jobs := make([]*domain.Job, 0)
	if err := r.db.SelectContext(ctx, &jobs, query, accountID); err != nil {
		return nil, fmt.Errorf("list account jobs: %w", err)
	}
	return jobs, nil
}

func (r *JobRepository) GetItem(ctx context.Context, id string) (*domain.JobItem, error) {
	var item domain.JobItem
	query := `SELECT ` + itemColumns + ` FROM job_items WHERE id = $1`
	if err := r.db.GetContext(ctx, &item, query, id); err != nil {
		return nil, fmt.Errorf("get item %s: %w", id, notFound(err))
	}
	return &item, nil
}

func (r *JobRepository) UpdateItem(ctx context.Context, item *domain.JobItem, from domain.ItemStatus) error {
	query := `
		UPDATE job_items
		SET status = $3, result_payload = $4, error_message = $5, skip_reason = $6,
			attempts = $7, next_eligible_at = $8, updated_at = $9
		WHERE id = $1 AND status = $2
	`
	result, err := r.db.ExecContext(ctx, query,
		item.ID, from, item.Status, item.ResultPayload, item.ErrorMessage, item.SkipReason,
		item.Attempts, item.NextEligibleAt, item.UpdatedAt,
	)
	if err = execRequireRows(result, err, domain.ErrConflict); err != nil {
		return r.conflictOrMissing(ctx, "job_items", item.ID, err)
	}
	return nil
}

func (r *JobRepository) ListItems(ctx context.Context, f queue.ItemFilter) ([]*domain.JobItem, int, error) {
	var total int
	countQuery := `SELECT COUNT(*) FROM job_items WHERE job_id = $1 AND ($2 = '' OR status = $2)`
	if err := r.db.GetContext(ctx, &total, countQuery, f.JobID, f.Status); err != nil {
		return nil, 0, fmt.Errorf("count items: %w", err)
	}

	query := `SELECT ` + itemColumns + ` FROM job_items
		WHERE job_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY seq LIMIT $3 OFFSET $4`
	items := make([]*domain.JobItem, 0)
	if err := r.db.SelectContext(ctx, &items, query, f.JobID, f.Status, limitArg(f.Limit), f.Offset); err != nil {
		return nil, 0, fmt.Errorf("list items: %w", err)
	}
	return items, total, nil
}

func (r *JobRepository) CountItems(ctx context.Context, jobID string) (map[domain.ItemStatus]int, error) {
	rows, err := r.db.QueryxContext(ctx, `SELECT status, COUNT(*) FROM job_items WHERE job_id = $1 GROUP BY status`, jobID)
	if err != nil {
		return nil, fmt.Errorf("count items: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.ItemStatus]int)
	for rows.Next() {
		var (
			status domain.ItemStatus
			n      int
		)
		if err = rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan item count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (r *JobRepository) DueAccounts(ctx context.Context, now time.Time) ([]string, error) {
	query := `
		SELECT DISTINCT i.account_id
		FROM job_items i
		JOIN jobs j ON j.id = i.job_id
		WHERE i.status = 'pending' AND i.next_eligible_at <= $1 AND j.status IN ('queued', 'running')
		ORDER BY i.account_id
	`
	accounts := make([]string, 0)
	if err := r.db.SelectContext(ctx, &accounts, query, now); err != nil {
		return nil, fmt.Errorf("due accounts: %w", err)
	}
	return accounts, nil
}

func (r *JobRepository) DueItems(ctx context.Context, accountID string, now time.Time, limit int) ([]*domain.JobItem, error) {
	query := `
		SELECT ` + prefixed("i.", itemColumns) + `
		FROM job_items i
		JOIN jobs j ON j.id = i.job_id
		WHERE i.account_id = $1 AND i.status = 'pending' AND i.next_eligible_at <= $2
			AND j.status IN ('queued', 'running')
		ORDER BY i.seq
		LIMIT $3
	`
	items := make([]*domain.JobItem, 0)
	if err := r.db.SelectContext(ctx, &items, query, accountID, now, limitArg(limit)); err != nil {
		return nil, fmt.Errorf("due items for %s: %w", accountID, err)
	}
	return items, nil
}

func prefixed(prefix, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = prefix + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
