package transport

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/surge/internal/session"
)

// connectAndWait connects c and waits for OnConnect.
func connectAndWait(t *testing.T, c *Memory, h session.Handlers) int {
	t.Helper()

	codes := make(chan int, 1)
	onConnect := h.OnConnect
	h.OnConnect = func(code int) {
		if onConnect != nil {
			onConnect(code)
		}
		select {
		case codes <- code:
		default:
		}
	}
	c.SetHandlers(h)
	require.NoError(t, c.Connect("localhost", 1884, time.Minute))

	select {
	case code := <-codes:
		return code
	case <-time.After(time.Second):
		t.Fatal("no connect outcome")
		return -1
	}
}

func TestMemory_PublishSubscribe(t *testing.T) {
	b := NewMemoryBroker()

	var got [][]byte
	var mu sync.Mutex
	sub := b.NewClient("subscriber-01")
	code := connectAndWait(t, sub, session.Handlers{
		OnMessage: func(topic string, payload []byte) {
			mu.Lock()
			got = append(got, payload)
			mu.Unlock()
		},
	})
	require.Equal(t, 0, code)
	require.NoError(t, sub.Subscribe("sensors/data/#", 2))

	pub := b.NewClient("publisher-00001")
	require.Equal(t, 0, connectAndWait(t, pub, session.Handlers{}))

	require.NoError(t, pub.Publish("sensors/data/publisher-00001", []byte("one"), 2))
	require.NoError(t, pub.Publish("other/topic", []byte("two"), 2))

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, got, 1)
	assert.Equal(t, "one", string(got[0]))
	assert.Equal(t, int64(2), b.Published())
	assert.Equal(t, int64(1), b.Delivered())
}

func TestMemory_Refused(t *testing.T) {
	b := NewMemoryBroker()
	b.RefuseConnections(5)

	c := b.NewClient("publisher-00001")
	if code := connectAndWait(t, c, session.Handlers{}); code != 5 {
		t.Errorf("connect code = %d, want 5", code)
	}
	if c.IsConnected() {
		t.Error("refused client reports connected")
	}
	if err := c.Publish("t", nil, 0); err != ErrNotConnected {
		t.Errorf("Publish() error = %v, want ErrNotConnected", err)
	}
}

func TestMemory_Silent(t *testing.T) {
	b := NewMemoryBroker()
	b.SetSilent(true)

	var called atomic.Bool
	c := b.NewClient("publisher-00001")
	c.SetHandlers(session.Handlers{OnConnect: func(int) { called.Store(true) }})
	require.NoError(t, c.Connect("localhost", 1884, 0))

	time.Sleep(50 * time.Millisecond)
	if called.Load() {
		t.Error("silent broker answered a connect")
	}
}

func TestMemory_DisconnectIdempotent(t *testing.T) {
	b := NewMemoryBroker()

	var disconnects atomic.Int32
	c := b.NewClient("publisher-00001")
	connectAndWait(t, c, session.Handlers{
		OnDisconnect: func(code int) {
			if code != 0 {
				t.Errorf("disconnect code = %d, want 0", code)
			}
			disconnects.Add(1)
		},
	})
	require.Equal(t, 1, b.Connected())

	c.Disconnect()
	c.Disconnect()

	assert.Equal(t, int32(1), disconnects.Load())
	assert.Equal(t, 0, b.Connected())
}

func TestMemory_DropAndReconnect(t *testing.T) {
	b := NewMemoryBroker()

	codes := make(chan int, 4)
	var received atomic.Int32
	c := b.NewClient("subscriber-01")
	connectAndWait(t, c, session.Handlers{
		OnDisconnect: func(code int) { codes <- code },
		OnMessage:    func(string, []byte) { received.Add(1) },
	})
	require.NoError(t, c.Subscribe("#", 0))

	b.DropAll()
	assert.Equal(t, 1, <-codes)
	assert.False(t, c.IsConnected())
	assert.Equal(t, 0, b.Inject("x", []byte("lost")))

	c.Reconnect()
	assert.True(t, c.IsConnected())
	assert.Equal(t, 1, b.Inject("x", []byte("kept")))
	assert.Equal(t, int32(1), received.Load())
}

func TestMemory_DisconnectAbandonsPendingConnect(t *testing.T) {
	b := NewMemoryBroker()
	b.SetConnectDelay(30 * time.Millisecond)

	c := b.NewClient("publisher-00001")
	c.SetHandlers(session.Handlers{})
	require.NoError(t, c.Connect("localhost", 1884, 0))
	c.Disconnect()

	time.Sleep(80 * time.Millisecond)
	assert.False(t, c.IsConnected())
	assert.Equal(t, 0, b.Connected())
}
