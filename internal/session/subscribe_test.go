package session_test

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/fleetctl/internal/session"
	"github.com/nerrad567/fleetctl/internal/session/sessiontest"
)

func TestSubscribe_RecordsLastAndHistory(t *testing.T) {
	dialer := sessiontest.NewDialer()
	h := newHandle(t, dialer)
	ctx := context.Background()

	filter := "node/node-a/params/+"
	require.NoError(t, h.Subscribe(ctx, filter, 1, nil))

	tr := dialer.Transport("node-a")
	require.Equal(t, 1, tr.Deliver("node/node-a/params/local", []byte("one")))
	require.Equal(t, 1, tr.Deliver("node/node-a/params/remote", []byte("two")))

	last, ok := h.LastMessage(filter)
	require.True(t, ok)
	assert.Equal(t, "two", string(last))
	assert.Equal(t, [][]byte{[]byte("one"), []byte("two")}, h.History(filter))
	assert.Equal(t, []string{filter}, h.Subscriptions())
}

func TestSubscribe_HistoryIsBounded(t *testing.T) {
	dialer := sessiontest.NewDialer()
	cfg := sessiontest.WriteCredentials(t, t.TempDir(), "node-a")
	cfg.HistorySize = 3
	h, err := session.New(cfg, dialer, nil)
	require.NoError(t, err)

	require.NoError(t, h.Subscribe(context.Background(), "t", 0, nil))
	for i := 0; i < 5; i++ {
		dialer.Transport("node-a").Deliver("t", []byte(fmt.Sprint(i)))
	}

	assert.Equal(t, [][]byte{[]byte("2"), []byte("3"), []byte("4")}, h.History("t"))
}

func TestSubscribe_CallbackAndMessages(t *testing.T) {
	dialer := sessiontest.NewDialer()
	h := newHandle(t, dialer)
	ctx := context.Background()

	var mu sync.Mutex
	var seen []string
	require.NoError(t, h.Subscribe(ctx, "t/#", 1, func(msg session.Message) {
		mu.Lock()
		seen = append(seen, msg.Topic)
		mu.Unlock()
	}))

	ch, err := h.Messages("t/#")
	require.NoError(t, err)

	dialer.Transport("node-a").Deliver("t/x", []byte("p"))

	select {
	case msg := <-ch:
		assert.Equal(t, "t/x", msg.Topic)
		assert.Equal(t, "p", string(msg.Payload))
		assert.False(t, msg.Received.IsZero())
	case <-time.After(time.Second):
		t.Fatal("no message on channel")
	}

	mu.Lock()
	assert.Equal(t, []string{"t/x"}, seen)
	mu.Unlock()
}

func TestSubscribe_Rejected(t *testing.T) {
	dialer := sessiontest.NewDialer()
	dialer.Configure(func(_ string, tr *sessiontest.Transport) {
		tr.SubscribeErr = sessiontest.ErrInjected
	})
	h := newHandle(t, dialer)

	err := h.Subscribe(context.Background(), "t", 1, nil)
	require.ErrorIs(t, err, session.ErrSubscribeFailed)
	assert.Empty(t, h.Subscriptions())

	_, err = h.Messages("t")
	require.ErrorIs(t, err, session.ErrNotSubscribed)
}

func TestUnsubscribe_ClearsState(t *testing.T) {
	dialer := sessiontest.NewDialer()
	h := newHandle(t, dialer)
	ctx := context.Background()

	require.NoError(t, h.Subscribe(ctx, "t", 1, nil))
	ch, err := h.Messages("t")
	require.NoError(t, err)

	require.NoError(t, h.Unsubscribe(ctx, "t"))
	assert.Empty(t, h.Subscriptions())
	assert.Nil(t, h.History("t"))
	_, open := <-ch
	assert.False(t, open, "channel should be closed")

	// Late deliveries for a dropped filter are ignored.
	assert.Equal(t, 0, dialer.Transport("node-a").Deliver("t", []byte("late")))
}

func TestUnsubscribe_Errors(t *testing.T) {
	dialer := sessiontest.NewDialer()
	h := newHandle(t, dialer)
	ctx := context.Background()

	require.ErrorIs(t, h.Unsubscribe(ctx, "t"), session.ErrNotConnected)

	require.NoError(t, h.Subscribe(ctx, "t", 1, nil))
	dialer.Transport("node-a").UnsubscribeErr = sessiontest.ErrInjected
	require.ErrorIs(t, h.Unsubscribe(ctx, "t"), session.ErrUnsubscribeFailed)
	assert.Equal(t, []string{"t"}, h.Subscriptions(), "state kept on rejection")
}

func TestDisconnect_ClearsSubscriptions(t *testing.T) {
	dialer := sessiontest.NewDialer()
	h := newHandle(t, dialer)
	ctx := context.Background()

	require.NoError(t, h.Subscribe(ctx, "a", 1, nil))
	require.NoError(t, h.Subscribe(ctx, "b", 1, nil))
	dialer.Transport("node-a").CloseErr = sessiontest.ErrInjected

	err := h.Disconnect()
	require.ErrorIs(t, err, session.ErrDisconnectFailed)
	assert.Equal(t, session.StateDisconnected, h.State())
	assert.Empty(t, h.Subscriptions())
}

func TestSubscribe_CredentialsGoneBeforeAutoConnect(t *testing.T) {
	cfg := sessiontest.WriteCredentials(t, t.TempDir(), "node-a")
	h, err := session.New(cfg, sessiontest.NewDialer(), nil)
	require.NoError(t, err)
	require.NoError(t, os.Remove(cfg.RootPath))

	require.Error(t, h.Subscribe(context.Background(), "t", 1, nil))
	assert.Equal(t, session.StateFailed, h.State())
}
