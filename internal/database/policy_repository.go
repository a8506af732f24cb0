package database

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jonesrussell/north-cloud/sniper/internal/domain"
)

// PolicyRepository stores each policy as one JSONB document guarded by its
// version.
type PolicyRepository struct {
	db *sqlx.DB
}

func NewPolicyRepository(db *sqlx.DB) *PolicyRepository {
	return &PolicyRepository{db: db}
}

func (r *PolicyRepository) Get(ctx context.Context, accountID string) (*domain.Policy, error) {
	var doc []byte
	query := `SELECT document FROM policies WHERE account_id = $1`
	if err := r.db.GetContext(ctx, &doc, query, accountID); err != nil {
		return nil, fmt.Errorf("get policy %s: %w", accountID, notFound(err))
	}

	var p domain.Policy
	if err := json.Unmarshal(doc, &p); err != nil {
		return nil, fmt.Errorf("decode policy %s: %w", accountID, err)
	}
	return &p, nil
}

// Save inserts the first version or updates when the stored version still
// equals expectedVersion. Losing either race is domain.ErrConflict.
func (r *PolicyRepository) Save(ctx context.Context, p *domain.Policy, expectedVersion int64) error {
	doc, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode policy: %w", err)
	}

	if expectedVersion == 0 {
		query := `
			INSERT INTO policies (account_id, version, document, updated_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (account_id) DO NOTHING
		`
		result, execErr := r.db.ExecContext(ctx, query, p.AccountID, p.Version, doc, p.UpdatedAt)
		return execRequireRows(result, execErr, domain.ErrConflict)
	}

	query := `
		UPDATE policies
		SET version = $2, document = $3, updated_at = $4
		WHERE account_id = $1 AND version = $5
	`
	result, err := r.db.ExecContext(ctx, query, p.AccountID, p.Version, doc, p.UpdatedAt, expectedVersion)
	return execRequireRows(result, err, domain.ErrConflict)
}
