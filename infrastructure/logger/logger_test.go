package logger_test

import (
	"context"
	"errors"
	"testing"

	"github.com/jonesrussell/north-cloud/sniper/infrastructure/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStderr(t *testing.T) logger.Logger {
	t.Helper()
	l, err := logger.New(logger.Config{Level: "warn", OutputPaths: []string{"stderr"}})
	require.NoError(t, err)
	return l
}

func TestConfig_SetDefaults(t *testing.T) {
	t.Parallel()

	var cfg logger.Config
	cfg.SetDefaults()

	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, "json", cfg.Format)
	assert.Equal(t, []string{"stdout"}, cfg.OutputPaths)
}

func TestNew_UnknownLevelStillBuilds(t *testing.T) {
	t.Parallel()

	l, err := logger.New(logger.Config{Level: "loud", OutputPaths: []string{"stderr"}})
	require.NoError(t, err)
	l.Info("ok", logger.AccountID("acct-1"), logger.Error(errors.New("boom")))
}

func TestContext_RoundTrip(t *testing.T) {
	t.Parallel()

	l := newStderr(t).With(logger.String("request_id", "abc"))
	ctx := logger.WithContext(context.Background(), l)

	assert.Same(t, l, logger.FromContext(ctx))
}

func TestContext_FallbackIsSingleton(t *testing.T) {
	t.Parallel()

	a := logger.FromContext(context.Background())
	b := logger.FromContext(context.Background())

	require.NotNil(t, a)
	assert.Same(t, a, b)
	a.Warn("fallback usable", logger.JobID("job-1"))
}

func TestNop_WithReturnsSelf(t *testing.T) {
	t.Parallel()

	n := logger.NewNop()
	assert.Same(t, n, n.With(logger.ItemID("i")))
	assert.NoError(t, n.Sync())
}
