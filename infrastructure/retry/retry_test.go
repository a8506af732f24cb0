package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonesrussell/north-cloud/sniper/infrastructure/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoff(t *testing.T) {
	t.Parallel()

	cfg := retry.Config{InitialDelay: 10 * time.Second, Multiplier: 3, MaxDelay: 10 * time.Minute}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 10 * time.Second},
		{1, 10 * time.Second},
		{2, 30 * time.Second},
		{3, 90 * time.Second},
		{6, 10 * time.Minute},
		{500, 10 * time.Minute},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, retry.Backoff(cfg, tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestRetry_SucceedsAfterTransient(t *testing.T) {
	t.Parallel()

	calls := 0
	err := retry.Retry(context.Background(), retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond}, func() error {
		calls++
		if calls < 2 {
			return errors.New("connection refused")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestRetry_StopsOnPermanent(t *testing.T) {
	t.Parallel()

	calls := 0
	perm := errors.New("bad request")
	err := retry.Retry(context.Background(), retry.Config{MaxAttempts: 5, InitialDelay: time.Millisecond}, func() error {
		calls++
		return perm
	})

	require.ErrorIs(t, err, perm)
	assert.Equal(t, 1, calls)
}

func TestRetry_Exhausted(t *testing.T) {
	t.Parallel()

	err := retry.Retry(context.Background(), retry.Config{MaxAttempts: 2, InitialDelay: time.Millisecond}, func() error {
		return errors.New("i/o timeout")
	})

	require.ErrorIs(t, err, retry.ErrMaxAttemptsExceeded)
}

func TestRetry_Cancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := retry.Retry(ctx, retry.DefaultConfig(), func() error { return nil })
	require.ErrorIs(t, err, retry.ErrContextCancelled)
}
