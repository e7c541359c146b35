package transport

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/surge/internal/session"
)

func TestPahoFactory(t *testing.T) {
	f := PahoFactory(DefaultPahoOptions())

	tr, err := f("publisher-00001")
	require.NoError(t, err)
	assert.NotNil(t, tr)

	_, err = f("")
	assert.Error(t, err)
}

func TestPaho_BrokerURL(t *testing.T) {
	p := NewPaho("c", PahoOptions{})
	assert.Equal(t, "tcp://localhost:1884", p.BrokerURL("localhost", 1884))

	p = NewPaho("c", PahoOptions{Scheme: "ssl"})
	assert.Equal(t, "ssl://broker.example:8883", p.BrokerURL("broker.example", 8883))
}

func TestPaho_NotConnected(t *testing.T) {
	p := NewPaho("publisher-00001", DefaultPahoOptions())

	assert.False(t, p.IsConnected())
	assert.Error(t, p.Publish("t", []byte("x"), 0))
	assert.Error(t, p.Subscribe("t/#", 0))

	// safe without a client
	p.Disconnect()
	p.Disconnect()
}

func TestPaho_ConnectFailureReportsCode(t *testing.T) {
	opts := DefaultPahoOptions()
	opts.ConnectTimeout = time.Second
	opts.AutoReconnect = false
	p := NewPaho("publisher-00001", opts)

	codes := make(chan int, 1)
	p.SetHandlers(session.Handlers{OnConnect: func(code int) { codes <- code }})

	// nothing listens on port 1
	require.NoError(t, p.Connect("127.0.0.1", 1, time.Second))

	select {
	case code := <-codes:
		assert.NotEqual(t, 0, code)
	case <-time.After(5 * time.Second):
		t.Fatal("no connect outcome reported")
	}
	assert.False(t, p.IsConnected())
	p.Disconnect()
}

// slowBroker accepts one MQTT connection and answers its CONNECT after
// delay. The returned channel reports nil once the client closes the
// connection or sends DISCONNECT, or an error if it is still open after
// the CONNACK plus linger.
func slowBroker(t *testing.T, delay, linger time.Duration) (int, <-chan error) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	result := make(chan error, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			result <- err
			return
		}
		defer conn.Close()

		buf := make([]byte, 256)
		if _, err := conn.Read(buf); err != nil {
			result <- nil
			return
		}
		time.Sleep(delay)
		if _, err := conn.Write([]byte{0x20, 0x02, 0x00, 0x00}); err != nil {
			result <- nil
			return
		}

		conn.SetReadDeadline(time.Now().Add(linger))
		for {
			n, err := conn.Read(buf)
			if n > 0 && buf[0] == 0xE0 {
				result <- nil
				return
			}
			if err != nil {
				var ne net.Error
				if errors.As(err, &ne) && ne.Timeout() {
					result <- errors.New("connection still open after the client gave up")
				} else {
					result <- nil
				}
				return
			}
		}
	}()

	return ln.Addr().(*net.TCPAddr).Port, result
}

func TestPaho_DisconnectAbortsPendingConnect(t *testing.T) {
	port, closed := slowBroker(t, 400*time.Millisecond, 3*time.Second)

	opts := DefaultPahoOptions()
	opts.ConnectTimeout = 5 * time.Second
	p := NewPaho("publisher-00001", opts)

	require.NoError(t, p.Connect("127.0.0.1", port, time.Second))
	time.Sleep(100 * time.Millisecond)
	p.Disconnect()

	select {
	case err := <-closed:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("broker never observed the connection end")
	}
	assert.False(t, p.IsConnected())
}

func TestPaho_SessionTimeoutReleasesConnection(t *testing.T) {
	port, closed := slowBroker(t, 400*time.Millisecond, 3*time.Second)

	opts := DefaultPahoOptions()
	opts.ConnectTimeout = 5 * time.Second
	s := session.New("publisher-00001", session.RolePublisher, NewPaho("publisher-00001", opts), nil, session.Options{
		KeepAlive:    time.Second,
		PollInterval: 10 * time.Millisecond,
	})

	err := s.Connect(context.Background(), "127.0.0.1", port, 100*time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, session.ErrConnectTimeout)
	s.Disconnect()

	select {
	case err := <-closed:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("broker never observed the connection end")
	}
}
