package sse_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/sniper/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/sniper/infrastructure/sse"
)

func startBroker(t *testing.T, opts ...sse.BrokerOption) sse.Broker {
	t.Helper()
	b := sse.NewBroker(logger.NewNop(), opts...)
	require.NoError(t, b.Start(context.Background()))
	t.Cleanup(func() { _ = b.Stop() })
	return b
}

func recv(t *testing.T, ch <-chan sse.Event) sse.Event {
	t.Helper()
	select {
	case e, ok := <-ch:
		require.True(t, ok, "channel closed")
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return sse.Event{}
	}
}

func TestBroker_AccountFilter(t *testing.T) {
	t.Parallel()
	b := startBroker(t)
	ctx := context.Background()

	mine, unsubMine := b.Subscribe(ctx, sse.WithAccountFilter("acct-1"))
	defer unsubMine()
	all, unsubAll := b.Subscribe(ctx)
	defer unsubAll()

	require.NoError(t, b.Publish(ctx, sse.Event{Type: sse.EventTypeItemStatus, AccountID: "acct-2", Data: "x"}))
	require.NoError(t, b.Publish(ctx, sse.Event{Type: sse.EventTypeItemStatus, AccountID: "acct-1", Data: "y"}))

	assert.Equal(t, "x", recv(t, all).Data)
	assert.Equal(t, "y", recv(t, all).Data)
	assert.Equal(t, "y", recv(t, mine).Data)
}

func TestBroker_MaxClients(t *testing.T) {
	t.Parallel()
	b := startBroker(t, sse.WithMaxClients(1))

	_, unsub := b.Subscribe(context.Background())
	defer unsub()

	rejected, _ := b.Subscribe(context.Background())
	_, ok := <-rejected
	assert.False(t, ok)
	assert.Equal(t, 1, b.ClientCount())
}

func TestBroker_SubscriptionEndsWithContext(t *testing.T) {
	t.Parallel()
	b := startBroker(t)

	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := b.Subscribe(ctx)
	cancel()

	assert.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return b.ClientCount() == 0 }, time.Second, 10*time.Millisecond)
}

func TestBroker_PublishWhenStopped(t *testing.T) {
	t.Parallel()
	b := sse.NewBroker(logger.NewNop())
	assert.ErrorIs(t, b.Publish(context.Background(), sse.Event{Type: "x"}), sse.ErrBrokerNotRunning)
}

func TestWriteEvent(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	require.NoError(t, sse.WriteEvent(&buf, sse.Event{Type: sse.EventTypeJobFinished, ID: "7", Data: map[string]int{"n": 1}}))
	assert.Equal(t, "event: job:finished\nid: 7\ndata: {\"n\":1}\n\n", buf.String())
}
