package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jonesrussell/north-cloud/sniper/internal/domain"
)

const sessionColumns = `id, account_id, provider, status, provider_ref, sealed_credential,
	status_reason, initial_cookie_age_days, last_auth_at, last_tested_at, created_at, updated_at`

type SessionRepository struct {
	db *sqlx.DB
}

func NewSessionRepository(db *sqlx.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) Create(ctx context.Context, s *domain.Session) error {
	query := `INSERT INTO sessions (` + sessionColumns + `)
		VALUES (:id, :account_id, :provider, :status, :provider_ref, :sealed_credential,
			:status_reason, :initial_cookie_age_days, :last_auth_at, :last_tested_at, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, s); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (r *SessionRepository) Get(ctx context.Context, id string) (*domain.Session, error) {
	var s domain.Session
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`
	if err := r.db.GetContext(ctx, &s, query, id); err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, notFound(err))
	}
	return &s, nil
}

func (r *SessionRepository) Update(ctx context.Context, s *domain.Session) error {
	query := `
		UPDATE sessions
		SET status = :status, provider_ref = :provider_ref, sealed_credential = :sealed_credential,
			status_reason = :status_reason, initial_cookie_age_days = :initial_cookie_age_days,
			last_auth_at = :last_auth_at, last_tested_at = :last_tested_at, updated_at = :updated_at
		WHERE id = :id
	`
	result, err := r.db.NamedExecContext(ctx, query, s)
	return execRequireRows(result, err, domain.ErrNotFound)
}

func (r *SessionRepository) ListByAccount(ctx context.Context, accountID string) ([]*domain.Session, error) {
	sessions := make([]*domain.Session, 0)
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE account_id = $1 ORDER BY created_at`
	if err := r.db.SelectContext(ctx, &sessions, query, accountID); err != nil {
		return nil, fmt.Errorf("list sessions for %s: %w", accountID, err)
	}
	return sessions, nil
}

func (r *SessionRepository) ListUnexpired(ctx context.Context) ([]*domain.Session, error) {
	sessions := make([]*domain.Session, 0)
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE status <> $1 ORDER BY created_at`
	if err := r.db.SelectContext(ctx, &sessions, query, domain.SessionExpired); err != nil {
		return nil, fmt.Errorf("list unexpired sessions: %w", err)
	}
	return sessions, nil
}
