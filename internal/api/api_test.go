package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/sniper/infrastructure/jwt"
	"github.com/jonesrussell/north-cloud/sniper/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/sniper/internal/admission"
	"github.com/jonesrussell/north-cloud/sniper/internal/api"
	"github.com/jonesrussell/north-cloud/sniper/internal/audit"
	"github.com/jonesrussell/north-cloud/sniper/internal/domain"
	"github.com/jonesrussell/north-cloud/sniper/internal/memstore"
	"github.com/jonesrussell/north-cloud/sniper/internal/policy"
	"github.com/jonesrussell/north-cloud/sniper/internal/provider"
	"github.com/jonesrussell/north-cloud/sniper/internal/queue"
	"github.com/jonesrussell/north-cloud/sniper/internal/session"
)

const (
	secret = "test-secret"
	acct   = "acct-1"
	cookie = "JSESSIONID=x; li_at=token"
)

type testServer struct {
	router   *gin.Engine
	provider *provider.Scripted
	token    string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := logger.NewNop()

	loc, err := time.LoadLocation("America/Chicago")
	require.NoError(t, err)
	now := func() time.Time { return time.Date(2026, 10, 20, 10, 0, 0, 0, loc) }

	auditLog := audit.NewLog(memstore.NewAuditStore(), log, audit.WithClock(now))
	policies := policy.NewStore(memstore.NewPolicyRepository(), log, policy.WithClock(now))
	scripted := provider.NewScripted()
	sealer, err := session.NewEphemeralSealer()
	require.NoError(t, err)
	sessions := session.NewManager(memstore.NewSessionRepository(), scripted, sealer, log, session.WithClock(now))
	ctrl := admission.NewController(policies, sessions, admission.NewMemoryStore(), log,
		admission.WithClock(now),
		admission.WithRecorder(auditLog),
		admission.WithJitter(func() float64 { return 0 }),
	)
	q := queue.New(memstore.NewJobStore(), log, queue.WithClock(now), queue.WithRecorder(auditLog))

	h := api.NewHandler(api.Deps{
		Policies:  policies,
		Sessions:  sessions,
		Admission: ctrl,
		Queue:     q,
		Audit:     auditLog,
		Log:       log,
	})
	router := gin.New()
	h.Routes(secret)(router)

	token, err := jwt.Sign(secret, jwt.Claims{Sub: "user-1", Accounts: []string{acct}}, time.Hour)
	require.NoError(t, err)

	return &testServer{router: router, provider: scripted, token: token}
}

func (s *testServer) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	return s.doAs(t, s.token, method, path, body, headers...)
}

func (s *testServer) doAs(t *testing.T, token, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequestWithContext(context.Background(), method, "/api/v1"+path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

func TestPolicy_GetPutConflictReset(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/accounts/"+acct+"/policy", nil)
	require.Equal(t, http.StatusOK, w.Code)
	p := decode[domain.Policy](t, w)
	assert.Equal(t, int64(0), p.Version)
	assert.Equal(t, 150, p.Guardrails.MaxActionsPerDay)

	p.Guardrails.MaxActionsPerDay = 100
	w = s.do(t, http.MethodPut, "/accounts/"+acct+"/policy", p)
	require.Equal(t, http.StatusOK, w.Code)
	saved := decode[domain.Policy](t, w)
	assert.Equal(t, int64(1), saved.Version)
	assert.Equal(t, `"1"`, w.Header().Get("ETag"))

	// Same body still carries version 0.
	w = s.do(t, http.MethodPut, "/accounts/"+acct+"/policy", p)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, http.MethodPut, "/accounts/"+acct+"/policy", p, "If-Match", `"1"`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(2), decode[domain.Policy](t, w).Version)

	w = s.do(t, http.MethodPost, "/accounts/"+acct+"/policy/reset", nil)
	require.Equal(t, http.StatusOK, w.Code)
	reset := decode[domain.Policy](t, w)
	assert.Equal(t, int64(3), reset.Version)
	assert.Equal(t, 150, reset.Guardrails.MaxActionsPerDay)
}

func TestPolicy_ValidationFields(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	p := policy.Defaults(acct)
	p.Guardrails.MinDelaySeconds = 200
	p.Guardrails.MaxDelaySeconds = 100

	w := s.do(t, http.MethodPut, "/accounts/"+acct+"/policy", p)
	require.Equal(t, http.StatusBadRequest, w.Code)

	body := decode[struct {
		Error  string            `json:"error"`
		Fields map[string]string `json:"fields"`
	}](t, w)
	assert.Equal(t, "validation_failed", body.Error)
	assert.Contains(t, body.Fields, "guardrails.minDelaySeconds")
}

func TestAuth_TokenScoping(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	w := s.doAs(t, "", http.MethodGet, "/accounts/"+acct+"/policy", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodGet, "/accounts/acct-2/policy", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	admin, err := jwt.Sign(secret, jwt.Claims{Sub: "ops", Role: jwt.RoleAdmin}, time.Hour)
	require.NoError(t, err)
	w = s.doAs(t, admin, http.MethodGet, "/accounts/acct-2/policy", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/jobs", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodGet, "/jobs?accountId=acct-2", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.doAs(t, admin, http.MethodGet, "/jobs", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSessions_ConnectStatusInvalidate(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/accounts/"+acct+"/auth/status", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodPost, "/accounts/"+acct+"/sessions", gin.H{"credential": cookie, "cookieAgeDays": 2})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.NotContains(t, w.Body.String(), "li_at")
	sess := decode[domain.Session](t, w)
	assert.Equal(t, domain.SessionConnected, sess.Status)

	w = s.do(t, http.MethodGet, "/accounts/"+acct+"/auth/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	report := decode[session.StatusReport](t, w)
	assert.Equal(t, domain.SessionConnected, report.Status)
	assert.Equal(t, 2, report.CookieAgeDays)

	w = s.do(t, http.MethodPost, "/sessions/"+sess.ID+"/test", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[session.TestResult](t, w).OK)

	w = s.do(t, http.MethodPost, "/sessions/"+sess.ID+"/invalidate", gin.H{"reason": "rotated"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, domain.SessionNeedsReauth, decode[domain.Session](t, w).Status)

	w = s.do(t, http.MethodPost, "/sessions/missing/test", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSessions_RejectedCredential(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	s.provider.RejectAuth(true)

	w := s.do(t, http.MethodPost, "/accounts/"+acct+"/sessions", gin.H{"credential": cookie})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodPost, "/accounts/"+acct+"/sessions", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEvaluate_DryRunByDefault(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/accounts/"+acct+"/sessions", gin.H{"credential": cookie})
	require.Equal(t, http.StatusCreated, w.Code)

	for range 2 {
		w = s.do(t, http.MethodPost, "/accounts/"+acct+"/evaluate", gin.H{"actionType": "profile_view"})
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, domain.DecisionAllow, decode[domain.Decision](t, w).Kind)
	}

	w = s.do(t, http.MethodGet, "/accounts/"+acct+"/usage", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(0), decode[admission.Usage](t, w).Day)

	w = s.do(t, http.MethodPost, "/accounts/"+acct+"/evaluate", gin.H{"actionType": "wave"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEvaluate_NoSessionDenies(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/accounts/"+acct+"/evaluate", gin.H{"actionType": "connect"})
	require.Equal(t, http.StatusOK, w.Code)
	d := decode[domain.Decision](t, w)
	assert.Equal(t, domain.DecisionDeny, d.Kind)
	assert.Equal(t, domain.ReasonSessionUnavailable, d.Reason)
}

type jobBody struct {
	domain.Job
	Summary domain.JobSummary `json:"summary"`
}

func TestJobs_Lifecycle(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/jobs", gin.H{
		"accountId": acct,
		"jobType":   "connect",
		"items": []gin.H{
			{"targetRef": "https://www.linkedin.com/in/a"},
			{"targetRef": "https://www.linkedin.com/in/b"},
			{"targetRef": "https://www.linkedin.com/in/a"},
		},
	})
	require.Equal(t, http.StatusCreated, w.Code)
	job := decode[jobBody](t, w)
	assert.Equal(t, domain.JobQueued, job.Status)
	assert.Equal(t, 2, job.Summary.Total)

	w = s.do(t, http.MethodGet, "/jobs/"+job.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, decode[jobBody](t, w).Summary.Counts[domain.ItemPending])

	w = s.do(t, http.MethodGet, "/jobs/"+job.ID+"/items?limit=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	items := decode[struct {
		Items []domain.JobItem `json:"items"`
		Total int              `json:"total"`
	}](t, w)
	assert.Len(t, items.Items, 1)
	assert.Equal(t, 2, items.Total)

	w = s.do(t, http.MethodPost, "/items/"+items.Items[0].ID+"/cancel", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodPost, "/jobs/"+job.ID+"/pause", nil)
	require.Equal(t, http.StatusOK, w.Code)
	paused := decode[jobBody](t, w)
	assert.Equal(t, domain.JobPaused, paused.Status)
	assert.Equal(t, domain.PauseUser, paused.PausedReason)

	w = s.do(t, http.MethodPost, "/jobs/"+job.ID+"/cancel", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, domain.JobCancelled, decode[jobBody](t, w).Status)

	w = s.do(t, http.MethodPost, "/jobs/"+job.ID+"/resume", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, http.MethodGet, "/jobs?accountId="+acct+"&status=cancelled", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, decode[struct {
		Total int `json:"total"`
	}](t, w).Total)

	w = s.do(t, http.MethodGet, "/audit?accountId="+acct, nil)
	require.Equal(t, http.StatusOK, w.Code)
	page := decode[audit.Page](t, w)
	assert.NotEmpty(t, page.Records)
}

func TestJobs_Errors(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/jobs/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodPost, "/jobs", gin.H{"accountId": acct, "jobType": "connect"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/jobs", gin.H{
		"accountId": "acct-2",
		"jobType":   "connect",
		"items":     []gin.H{{"targetRef": "x"}},
	})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, http.MethodGet, "/jobs?accountId="+acct+"&limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestNoSecretDisablesAuth(t *testing.T) {
	t.Parallel()
	gin.SetMode(gin.TestMode)
	log := logger.NewNop()

	h := api.NewHandler(api.Deps{
		Policies: policy.NewStore(memstore.NewPolicyRepository(), log),
		Log:      log,
	})
	router := gin.New()
	h.Routes("")(router)

	req := httptest.NewRequestWithContext(context.Background(), http.MethodGet, "/api/v1/accounts/any/policy", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
