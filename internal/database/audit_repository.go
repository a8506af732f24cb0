package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jonesrussell/north-cloud/sniper/internal/audit"
	"github.com/jonesrussell/north-cloud/sniper/internal/domain"
)

// AuditRepository is insert-only; seq comes from the BIGSERIAL column.
type AuditRepository struct {
	db *sqlx.DB
}

func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) Append(ctx context.Context, rec *domain.AuditRecord) error {
	query := `
		INSERT INTO audit_log (ts, account_id, action_type, kind, outcome, reason, job_id, item_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING seq
	`
	err := r.db.QueryRowxContext(ctx, query,
		rec.Timestamp, rec.AccountID, rec.ActionType, rec.Kind,
		rec.Outcome, rec.Reason, rec.JobID, rec.ItemID,
	).Scan(&rec.Seq)
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}

func (r *AuditRepository) List(ctx context.Context, c audit.Cursor) ([]domain.AuditRecord, error) {
	query := `
		SELECT seq, ts, account_id, action_type, kind, outcome, reason, job_id, item_id
		FROM audit_log
		WHERE seq > $1 AND ($2 = '' OR account_id = $2)
		ORDER BY seq
		LIMIT $3
	`
	records := make([]domain.AuditRecord, 0)
	if err := r.db.SelectContext(ctx, &records, query, c.After, c.AccountID, c.Limit); err != nil {
		return nil, fmt.Errorf("list audit records: %w", err)
	}
	return records, nil
}
