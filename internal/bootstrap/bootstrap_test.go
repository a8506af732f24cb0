package bootstrap_test

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/sniper/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/sniper/internal/bootstrap"
	"github.com/jonesrussell/north-cloud/sniper/internal/config"
)

func loadConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	cfg, err := config.Load("")
	require.NoError(t, err)
	return cfg
}

func TestBuildServices_Memory(t *testing.T) {
	cfg := loadConfig(t)
	cfg.SSE.Enabled = true

	s, err := bootstrap.BuildServices(context.Background(), cfg, logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	assert.Nil(t, s.Redis)
	assert.Nil(t, s.Storage.Ping)
	assert.NotNil(t, s.Broker)

	server := bootstrap.SetupHTTPServer(cfg, s, "test", logger.NewNop())

	for _, path := range []string{"/health", "/metrics", "/api/v1/accounts/a1/policy"} {
		req := httptest.NewRequestWithContext(context.Background(), http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		server.Router().ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code, path)
	}
}

func TestBuildServices_RedisCounters(t *testing.T) {
	cfg := loadConfig(t)
	mr := miniredis.RunT(t)
	cfg.Redis.Enabled = true
	cfg.Redis.Address = mr.Addr()
	cfg.Admission.DistributedLock = true

	s, err := bootstrap.BuildServices(context.Background(), cfg, logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NotNil(t, s.Redis)

	server := bootstrap.SetupHTTPServer(cfg, s, "test", logger.NewNop())
	req := httptest.NewRequestWithContext(context.Background(), http.MethodGet, "/api/v1/accounts/a1/usage", nil)
	w := httptest.NewRecorder()
	server.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestBuildServices_UnreachableLockRedisFails(t *testing.T) {
	cfg := loadConfig(t)
	cfg.Redis.Enabled = true
	cfg.Redis.Address = "127.0.0.1:1"
	cfg.Admission.DistributedLock = true

	_, err := bootstrap.BuildServices(context.Background(), cfg, logger.NewNop())
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "redis"))
}

func TestServe_StopsOnCancel(t *testing.T) {
	cfg := loadConfig(t)
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = freePort(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, bootstrap.Serve(ctx, cfg, "test"))
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}
