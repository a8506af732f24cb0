package database_test

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/sniper/internal/database"
	"github.com/jonesrussell/north-cloud/sniper/internal/domain"
)

var sessionColumns = []string{
	"id", "account_id", "provider", "status", "provider_ref", "sealed_credential",
	"status_reason", "initial_cookie_age_days", "last_auth_at", "last_tested_at", "created_at", "updated_at",
}

func newSessionRepo(t *testing.T) (*database.SessionRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock := newMockDB(t)
	return database.NewSessionRepository(db), mock
}

func TestSessionRepository_Create(t *testing.T) {
	repo, mock := newSessionRepo(t)
	now := time.Now()

	mock.ExpectExec("INSERT INTO sessions").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Create(context.Background(), &domain.Session{
		ID: "s1", AccountID: "acct-1", Provider: domain.ProviderCookieImport,
		Status: domain.SessionConnected, SealedCredential: []byte{1, 2, 3},
		LastAuthAt: now, CreatedAt: now, UpdatedAt: now,
	})
	require.NoError(t, err)
	expectationsMet(t, mock)
}

func TestSessionRepository_Get(t *testing.T) {
	repo, mock := newSessionRepo(t)
	now := time.Now()

	mock.ExpectQuery("SELECT .+ FROM sessions WHERE id").
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows(sessionColumns).AddRow(
			"s1", "acct-1", "cookie-import", "connected", "ref-1", []byte{9},
			"", 12, now, nil, now, now,
		))

	s, err := repo.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.ProviderCookieImport, s.Provider)
	assert.Equal(t, domain.SessionConnected, s.Status)
	assert.Equal(t, 12, s.InitialCookieAgeDays)
	assert.Nil(t, s.LastTestedAt)

	expectationsMet(t, mock)
}

func TestSessionRepository_Update_MissingRow(t *testing.T) {
	repo, mock := newSessionRepo(t)

	mock.ExpectExec("UPDATE sessions").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Update(context.Background(), &domain.Session{ID: "gone", Status: domain.SessionExpired})
	require.ErrorIs(t, err, domain.ErrNotFound)
	expectationsMet(t, mock)
}

func TestSessionRepository_ListUnexpired(t *testing.T) {
	repo, mock := newSessionRepo(t)
	now := time.Now()

	mock.ExpectQuery("SELECT .+ FROM sessions WHERE status <>").
		WithArgs("expired").
		WillReturnRows(sqlmock.NewRows(sessionColumns).
			AddRow("s1", "a1", "embedded-auth", "connected", "", []byte{1}, "", 0, now, nil, now, now).
			AddRow("s2", "a2", "cookie-import", "needs_reauth", "", []byte{2}, "captcha", 3, now, now, now, now))

	sessions, err := repo.ListUnexpired(context.Background())
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, domain.SessionNeedsReauth, sessions[1].Status)
	assert.NotNil(t, sessions[1].LastTestedAt)

	expectationsMet(t, mock)
}
