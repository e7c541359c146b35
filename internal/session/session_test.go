package session_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/surge/internal/session"
	"github.com/wesleyorama2/surge/internal/transport"
)

func newTestSession(b *transport.MemoryBroker, id string, role session.Role, pool *session.Pool, onMsg session.MessageHandler) *session.Session {
	return session.New(id, role, b.NewClient(id), pool, session.Options{
		PollInterval: 5 * time.Millisecond,
		OnMessage:    onMsg,
	})
}

func TestRoleAndStateString(t *testing.T) {
	if session.RolePublisher.String() != "publisher" {
		t.Errorf("RolePublisher.String() = %q", session.RolePublisher.String())
	}
	if session.RoleSubscriber.String() != "subscriber" {
		t.Errorf("RoleSubscriber.String() = %q", session.RoleSubscriber.String())
	}

	states := map[session.State]string{
		session.StateDisconnected: "disconnected",
		session.StateConnecting:   "connecting",
		session.StateConnected:    "connected",
		session.StateFailed:       "failed",
		session.State(99):         "unknown",
	}
	for s, want := range states {
		if s.String() != want {
			t.Errorf("State(%d).String() = %q, want %q", s, s.String(), want)
		}
	}
}

func TestSession_ConnectRegistersInPool(t *testing.T) {
	b := transport.NewMemoryBroker()
	pool := session.NewPool()
	s := newTestSession(b, "publisher-00001", session.RolePublisher, pool, nil)

	err := s.Connect(context.Background(), "localhost", 1884, time.Second)
	require.NoError(t, err)

	assert.Equal(t, session.StateConnected, s.State())
	assert.True(t, s.IsConnected())
	assert.Equal(t, 1, pool.Len())
	assert.Same(t, s, pool.Get("publisher-00001"))
}

func TestSession_ConnectRefused(t *testing.T) {
	b := transport.NewMemoryBroker()
	b.RefuseConnections(5)
	pool := session.NewPool()
	s := newTestSession(b, "publisher-00001", session.RolePublisher, pool, nil)

	err := s.Connect(context.Background(), "localhost", 1884, time.Second)

	require.Error(t, err)
	assert.True(t, errors.Is(err, session.ErrConnectRefused))
	var ce *session.ConnectError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, 5, ce.Code)
	assert.Equal(t, session.StateFailed, s.State())
	assert.Equal(t, 0, pool.Len())
}

func TestSession_ConnectTimeout(t *testing.T) {
	b := transport.NewMemoryBroker()
	b.SetSilent(true)
	s := newTestSession(b, "publisher-00001", session.RolePublisher, session.NewPool(), nil)

	start := time.Now()
	err := s.Connect(context.Background(), "localhost", 1884, 50*time.Millisecond)

	assert.True(t, errors.Is(err, session.ErrConnectTimeout), "err = %v", err)
	assert.Less(t, time.Since(start), time.Second)
	assert.False(t, s.IsConnected())
}

func TestSession_ConnectAbortsOnShutdown(t *testing.T) {
	b := transport.NewMemoryBroker()
	b.SetSilent(true)
	s := newTestSession(b, "publisher-00001", session.RolePublisher, session.NewPool(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := s.Connect(ctx, "localhost", 1884, 10*time.Second)
	assert.True(t, errors.Is(err, session.ErrShutdown), "err = %v", err)
}

func TestSession_ConnectTwice(t *testing.T) {
	b := transport.NewMemoryBroker()
	s := newTestSession(b, "publisher-00001", session.RolePublisher, nil, nil)

	require.NoError(t, s.Connect(context.Background(), "localhost", 1884, time.Second))
	assert.Error(t, s.Connect(context.Background(), "localhost", 1884, time.Second))
}

func TestSession_PublishNotConnected(t *testing.T) {
	b := transport.NewMemoryBroker()
	s := newTestSession(b, "publisher-00001", session.RolePublisher, nil, nil)

	err := s.Publish("sensors/data/publisher-00001", []byte("x"), 2)
	assert.ErrorIs(t, err, session.ErrNotConnected)
	assert.Equal(t, int64(0), b.Published())
}

func TestSession_SubscribeDelivers(t *testing.T) {
	b := transport.NewMemoryBroker()

	var received atomic.Int32
	sub := newTestSession(b, "subscriber-01", session.RoleSubscriber, nil,
		func(topic string, payload []byte, receivedAt time.Time) {
			if receivedAt.IsZero() {
				t.Error("receivedAt not stamped")
			}
			received.Add(1)
		})
	require.NoError(t, sub.Connect(context.Background(), "localhost", 1884, time.Second))
	require.NoError(t, sub.Subscribe("sensors/data/#", 2))

	pub := newTestSession(b, "publisher-00001", session.RolePublisher, nil, nil)
	require.NoError(t, pub.Connect(context.Background(), "localhost", 1884, time.Second))

	for i := 0; i < 3; i++ {
		require.NoError(t, pub.Publish("sensors/data/publisher-00001", []byte("m"), 2))
	}
	assert.Equal(t, int32(3), received.Load())
}

func TestSession_HandlerPanicContained(t *testing.T) {
	b := transport.NewMemoryBroker()
	sub := newTestSession(b, "subscriber-01", session.RoleSubscriber, nil,
		func(string, []byte, time.Time) { panic("boom") })
	require.NoError(t, sub.Connect(context.Background(), "localhost", 1884, time.Second))
	require.NoError(t, sub.Subscribe("#", 0))

	assert.NotPanics(t, func() { b.Inject("a", []byte("x")) })
	assert.True(t, sub.IsConnected())
}

func TestSession_DisconnectIdempotent(t *testing.T) {
	b := transport.NewMemoryBroker()
	pool := session.NewPool()
	s := newTestSession(b, "publisher-00001", session.RolePublisher, pool, nil)
	require.NoError(t, s.Connect(context.Background(), "localhost", 1884, time.Second))

	s.Disconnect()
	s.Disconnect()

	assert.True(t, s.Closed())
	assert.False(t, s.IsConnected())
	assert.Equal(t, 0, pool.Len())
	assert.Equal(t, 0, b.Connected())

	err := s.Connect(context.Background(), "localhost", 1884, time.Second)
	assert.ErrorIs(t, err, session.ErrClosed)
}

func TestSession_ResubscribesAfterReconnect(t *testing.T) {
	b := transport.NewMemoryBroker()
	client := b.NewClient("subscriber-01")

	var received atomic.Int32
	s := session.New("subscriber-01", session.RoleSubscriber, client, nil, session.Options{
		PollInterval: 5 * time.Millisecond,
		OnMessage:    func(string, []byte, time.Time) { received.Add(1) },
	})
	require.NoError(t, s.Connect(context.Background(), "localhost", 1884, time.Second))
	require.NoError(t, s.Subscribe("sensors/#", 1))

	b.DropAll()
	assert.Equal(t, session.StateDisconnected, s.State())
	assert.False(t, s.IsConnected())

	client.Reconnect()
	assert.Equal(t, session.StateConnected, s.State())

	b.Inject("sensors/data/x", []byte("after"))
	assert.Equal(t, int32(1), received.Load())
}
