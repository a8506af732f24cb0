package session_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/sniper/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/sniper/internal/domain"
	"github.com/jonesrussell/north-cloud/sniper/internal/memstore"
	"github.com/jonesrussell/north-cloud/sniper/internal/provider"
	"github.com/jonesrussell/north-cloud/sniper/internal/session"
)

const cookieHeader = "JSESSIONID=abc; li_at=AQEDAT"

type env struct {
	m        *session.Manager
	repo     *memstore.SessionRepository
	provider *provider.Scripted
	now      time.Time

	mu      sync.Mutex
	changes []string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	sealer, err := session.NewEphemeralSealer()
	require.NoError(t, err)

	e := &env{
		repo:     memstore.NewSessionRepository(),
		provider: provider.NewScripted(),
		now:      time.Date(2026, 10, 20, 15, 0, 0, 0, time.UTC),
	}
	e.m = session.NewManager(e.repo, e.provider, sealer, logger.NewNop(),
		session.WithClock(func() time.Time { return e.now }),
	)
	e.m.OnStatusChange(func(_ context.Context, s domain.Session, from domain.SessionStatus) {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.changes = append(e.changes, string(from)+"->"+string(s.Status))
	})
	return e
}

func (e *env) transitions() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.changes...)
}

func TestConnect(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()

	s, err := e.m.Connect(ctx, "a1", []byte(cookieHeader), session.ConnectMetadata{CookieAgeDays: 3})
	require.NoError(t, err)
	assert.Equal(t, domain.SessionConnected, s.Status)
	assert.Equal(t, domain.ProviderCookieImport, s.Provider)
	assert.NotContains(t, string(s.SealedCredential), "li_at", "credential is sealed")
	assert.Equal(t, []string{"->connected"}, e.transitions())

	h, err := e.m.Handle(ctx, "a1", "")
	require.NoError(t, err)
	assert.Equal(t, cookieHeader, string(h.Credential))

	report, err := e.m.Status(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, 3, report.CookieAgeDays)
	assert.Equal(t, s.ID, report.SessionID)
}

func TestConnect_ReusesSessionForSameProvider(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()

	first, err := e.m.Connect(ctx, "a1", []byte(cookieHeader), session.ConnectMetadata{})
	require.NoError(t, err)
	_, err = e.m.Invalidate(ctx, first.ID, "captcha")
	require.NoError(t, err)

	e.now = e.now.Add(time.Hour)
	again, err := e.m.Connect(ctx, "a1", []byte(`[{"name":"li_at","value":"x"}]`), session.ConnectMetadata{})
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, domain.SessionConnected, again.Status)
	assert.Empty(t, again.StatusReason)
	assert.Equal(t, e.now, again.LastAuthAt)

	other, err := e.m.Connect(ctx, "a1", []byte(`{"token":"t"}`), session.ConnectMetadata{Provider: domain.ProviderEmbeddedAuth})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID)

	all, err := e.m.List(ctx, "a1")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestConnect_Validation(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()

	tests := []struct {
		name       string
		account    string
		credential string
		meta       session.ConnectMetadata
	}{
		{"no account", "", cookieHeader, session.ConnectMetadata{}},
		{"empty credential", "a1", "  ", session.ConnectMetadata{}},
		{"header without auth cookie", "a1", "JSESSIONID=abc", session.ConnectMetadata{}},
		{"empty cookie array", "a1", "[]", session.ConnectMetadata{}},
		{"nameless cookie", "a1", `[{"value":"x"}]`, session.ConnectMetadata{}},
		{"empty object", "a1", "{}", session.ConnectMetadata{}},
		{"unknown provider", "a1", cookieHeader, session.ConnectMetadata{Provider: "smoke-signal"}},
		{"negative age", "a1", cookieHeader, session.ConnectMetadata{CookieAgeDays: -1}},
		{"cookie older than the ceiling", "a1", cookieHeader, session.ConnectMetadata{CookieAgeDays: 31}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := e.m.Connect(ctx, tt.account, []byte(tt.credential), tt.meta)
			var verr *domain.ValidationError
			require.ErrorAs(t, err, &verr)
		})
	}
}

func TestConnect_Rejected(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.provider.RejectAuth(true)

	_, err := e.m.Connect(context.Background(), "a1", []byte(cookieHeader), session.ConnectMetadata{})
	require.ErrorIs(t, err, domain.ErrAuthenticationFailed)

	_, err = e.m.Status(context.Background(), "a1")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTest(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()
	s, err := e.m.Connect(ctx, "a1", []byte(cookieHeader), session.ConnectMetadata{})
	require.NoError(t, err)

	e.provider.SetProbe(provider.ProbeResult{OK: true}, errors.New("timeout"))
	res, err := e.m.Test(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, res.OK, "one provider error is retried")

	e.provider.SetProbe(provider.ProbeResult{OK: false, Reason: "checkpoint challenge"})
	res, err = e.m.Test(ctx, s.ID)
	require.NoError(t, err)
	assert.False(t, res.OK)

	got, err := e.m.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionNeedsReauth, got.Status)
	assert.Equal(t, "checkpoint challenge", got.StatusReason)
	require.NotNil(t, got.LastTestedAt)

	assert.Equal(t, []string{
		"->connected",
		"connected->testing", "testing->connected",
		"connected->testing", "testing->needs_reauth",
	}, e.transitions())

	_, err = e.m.Handle(ctx, "a1", "")
	require.ErrorIs(t, err, session.ErrNoConnectedSession)
}

func TestTest_UnknownSession(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	_, err := e.m.Test(context.Background(), "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestHealth_PrefersConnected(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()

	cookie, err := e.m.Connect(ctx, "a1", []byte(cookieHeader), session.ConnectMetadata{})
	require.NoError(t, err)
	e.now = e.now.Add(time.Minute)
	embedded, err := e.m.Connect(ctx, "a1", []byte(`{"token":"t"}`), session.ConnectMetadata{Provider: domain.ProviderEmbeddedAuth})
	require.NoError(t, err)

	best, err := e.m.Health(ctx, "a1", "")
	require.NoError(t, err)
	assert.Equal(t, embedded.ID, best.ID, "latest authentication wins among connected")

	require.NoError(t, e.m.InvalidateAccount(ctx, "a1", domain.ProviderEmbeddedAuth, "blocked"))
	best, err = e.m.Health(ctx, "a1", "")
	require.NoError(t, err)
	assert.Equal(t, cookie.ID, best.ID)

	pinned, err := e.m.Health(ctx, "a1", domain.ProviderEmbeddedAuth)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionNeedsReauth, pinned.Status)

	_, err = e.m.Health(ctx, "a2", "")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSweep(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()

	old, err := e.m.Connect(ctx, "a1", []byte(cookieHeader), session.ConnectMetadata{CookieAgeDays: 25})
	require.NoError(t, err)
	fresh, err := e.m.Connect(ctx, "a2", []byte(cookieHeader), session.ConnectMetadata{CookieAgeDays: 1})
	require.NoError(t, err)

	e.now = e.now.Add(6 * 24 * time.Hour)
	n, err := e.m.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := e.m.Get(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionExpired, got.Status)
	got, err = e.m.Get(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionConnected, got.Status)

	_, err = e.m.Invalidate(ctx, old.ID, "late")
	require.NoError(t, err)
	got, err = e.m.Get(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionExpired, got.Status, "expired stays expired")

	n, err = e.m.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestTest_ExpiredSessionStaysExpired(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()

	s, err := e.m.Connect(ctx, "a1", []byte(cookieHeader), session.ConnectMetadata{CookieAgeDays: 28})
	require.NoError(t, err)

	e.now = e.now.Add(5 * 24 * time.Hour)
	n, err := e.m.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	res, err := e.m.Test(ctx, s.ID)
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, "cookie too old", res.Reason)

	got, err := e.m.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionExpired, got.Status)
	assert.Equal(t, []string{"->connected", "connected->expired"}, e.transitions())
}

func TestTest_OverAgeSessionExpiresWithoutSweep(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()

	s, err := e.m.Connect(ctx, "a1", []byte(cookieHeader), session.ConnectMetadata{CookieAgeDays: 29})
	require.NoError(t, err)

	e.now = e.now.Add(3 * 24 * time.Hour)
	res, err := e.m.Test(ctx, s.ID)
	require.NoError(t, err)
	assert.False(t, res.OK)

	got, err := e.m.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionExpired, got.Status)
	assert.Nil(t, got.LastTestedAt, "provider never called")

	_, err = e.m.Handle(ctx, "a1", "")
	require.ErrorIs(t, err, session.ErrNoConnectedSession)
}

func TestSweeper_RejectsBadSchedule(t *testing.T) {
	t.Parallel()
	e := newEnv(t)

	_, err := session.NewSweeper(e.m, "not a schedule", logger.NewNop())
	require.Error(t, err)

	s, err := session.NewSweeper(e.m, "@every 1h", logger.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, s.Run(ctx))
}
