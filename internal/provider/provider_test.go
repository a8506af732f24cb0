package provider_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/sniper/infrastructure/circuitbreaker"
	"github.com/jonesrussell/north-cloud/sniper/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/sniper/internal/domain"
	"github.com/jonesrussell/north-cloud/sniper/internal/provider"
)

func newHTTPProvider(t *testing.T, h http.HandlerFunc) *provider.HTTPProvider {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return provider.NewHTTPProvider(provider.HTTPConfig{
		BaseURL: srv.URL,
		Token:   "secret",
		Timeout: 2 * time.Second,
		Breaker: circuitbreaker.Config{FailureThreshold: 2, Timeout: time.Minute},
	}, logger.NewNop())
}

func TestHTTPProvider_Authenticate(t *testing.T) {
	t.Parallel()

	p := newHTTPProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/authenticate", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "cookie-import", body["provider"])
		_, _ = w.Write([]byte(`{"ref":"drv-1"}`))
	})

	h, err := p.Authenticate(context.Background(), domain.ProviderCookieImport, []byte("li_at=x"))
	require.NoError(t, err)
	assert.Equal(t, "drv-1", h.Ref)
}

func TestHTTPProvider_AuthenticateRejected(t *testing.T) {
	t.Parallel()

	p := newHTTPProvider(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad cookie", http.StatusUnauthorized)
	})

	_, err := p.Authenticate(context.Background(), domain.ProviderCookieImport, []byte("li_at=x"))
	assert.ErrorIs(t, err, provider.ErrRejected)
}

func TestHTTPProvider_PerformStatusMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status int
		want   provider.ErrorKind
	}{
		{http.StatusTooManyRequests, provider.KindTransient},
		{http.StatusBadGateway, provider.KindTransient},
		{http.StatusUnauthorized, provider.KindCaptcha},
		{http.StatusForbidden, provider.KindCaptcha},
		{http.StatusUnprocessableEntity, provider.KindPermanent},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			t.Parallel()
			p := newHTTPProvider(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			})
			res, err := p.Perform(context.Background(), provider.Handle{Ref: "r"}, domain.ActionConnect, "t", nil)
			require.NoError(t, err)
			assert.False(t, res.OK)
			assert.Equal(t, tt.want, res.ErrorKind)
		})
	}
}

func TestHTTPProvider_PerformOK(t *testing.T) {
	t.Parallel()

	p := newHTTPProvider(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "message", body["action"])
		assert.Equal(t, "urn:li:1", body["target"])
		_, _ = w.Write([]byte(`{"ok":true,"payload":{"threadId":"abc"}}`))
	})

	res, err := p.Perform(context.Background(), provider.Handle{Ref: "r"}, domain.ActionMessage, "urn:li:1",
		domain.RawJSON(`{"text":"hi"}`))
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.JSONEq(t, `{"threadId":"abc"}`, string(res.Payload))
}

func TestHTTPProvider_BreakerOpensOnTransientFailures(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	p := newHTTPProvider(t, func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	for range 4 {
		res, err := p.Perform(context.Background(), provider.Handle{Ref: "r"}, domain.ActionConnect, "t", nil)
		require.NoError(t, err)
		assert.Equal(t, provider.KindTransient, res.ErrorKind)
	}
	assert.Equal(t, int32(2), hits.Load())
}

func TestHTTPProvider_ProbeUnauthorized(t *testing.T) {
	t.Parallel()

	p := newHTTPProvider(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	res, err := p.Probe(context.Background(), provider.Handle{Ref: "r"})
	require.NoError(t, err)
	assert.False(t, res.OK)
}

func TestIsTransient(t *testing.T) {
	t.Parallel()

	assert.True(t, provider.IsTransient(context.DeadlineExceeded))
	assert.True(t, provider.IsTransient(circuitbreaker.ErrCircuitOpen))
	assert.True(t, provider.IsTransient(provider.ErrTransient))
	assert.False(t, provider.IsTransient(errors.New("boom")))
	assert.False(t, provider.IsTransient(nil))
}

func TestScripted(t *testing.T) {
	t.Parallel()

	s := provider.NewScripted()
	s.Script("t1", provider.Result{ErrorKind: provider.KindBlocked})

	ctx := context.Background()
	h, err := s.Authenticate(ctx, domain.ProviderEmbeddedAuth, nil)
	require.NoError(t, err)

	r1, _ := s.Perform(ctx, h, domain.ActionConnect, "t1", nil)
	r2, _ := s.Perform(ctx, h, domain.ActionConnect, "t1", nil)
	assert.Equal(t, provider.KindBlocked, r1.ErrorKind)
	assert.True(t, r2.OK)
	assert.Len(t, s.Calls(), 2)

	s.RejectAuth(true)
	_, err = s.Authenticate(ctx, domain.ProviderEmbeddedAuth, nil)
	assert.ErrorIs(t, err, provider.ErrRejected)
}
