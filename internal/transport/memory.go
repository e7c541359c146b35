package transport

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wesleyorama2/surge/internal/session"
)

// ErrNotConnected is returned by Memory clients that are not connected.
var ErrNotConnected = errors.New("memory transport: not connected")

// MemoryBroker is an in-process message router. Publishes are delivered
// synchronously to every connected client with a matching subscription.
//
// Behaviour can be altered at runtime to simulate refusals, silent brokers
// and connection loss.
type MemoryBroker struct {
	mu      sync.RWMutex
	clients map[string]*Memory

	refuseCode   atomic.Int32
	silent       atomic.Bool
	connectDelay atomic.Int64

	published atomic.Int64
	delivered atomic.Int64
}

// NewMemoryBroker creates a broker that accepts every connection.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{clients: make(map[string]*Memory)}
}

// Factory returns a session.Factory producing clients of this broker.
func (b *MemoryBroker) Factory() session.Factory {
	return func(clientID string) (session.Transport, error) {
		return b.NewClient(clientID), nil
	}
}

// NewClient creates a disconnected client.
func (b *MemoryBroker) NewClient(clientID string) *Memory {
	return &Memory{id: clientID, broker: b}
}

// RefuseConnections makes subsequent connects fail with code. 0 accepts again.
func (b *MemoryBroker) RefuseConnections(code int) {
	b.refuseCode.Store(int32(code))
}

// SetSilent makes the broker ignore connect attempts entirely.
func (b *MemoryBroker) SetSilent(silent bool) {
	b.silent.Store(silent)
}

// SetConnectDelay delays every connect acknowledgment.
func (b *MemoryBroker) SetConnectDelay(d time.Duration) {
	b.connectDelay.Store(int64(d))
}

// Inject delivers payload on topic as if a publisher had sent it and returns
// the number of deliveries.
func (b *MemoryBroker) Inject(topic string, payload []byte) int {
	return b.route(topic, payload)
}

// DropAll severs every connection as a network failure would.
func (b *MemoryBroker) DropAll() {
	for _, c := range b.snapshot() {
		c.drop()
	}
}

// Connected returns the number of connected clients.
func (b *MemoryBroker) Connected() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Published returns the number of messages accepted from publishers.
func (b *MemoryBroker) Published() int64 {
	return b.published.Load()
}

// Delivered returns the number of messages handed to subscribers.
func (b *MemoryBroker) Delivered() int64 {
	return b.delivered.Load()
}

func (b *MemoryBroker) register(c *Memory) {
	b.mu.Lock()
	b.clients[c.id] = c
	b.mu.Unlock()
}

func (b *MemoryBroker) unregister(c *Memory) {
	b.mu.Lock()
	if cur, ok := b.clients[c.id]; ok && cur == c {
		delete(b.clients, c.id)
	}
	b.mu.Unlock()
}

func (b *MemoryBroker) snapshot() []*Memory {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]*Memory, 0, len(b.clients))
	for _, c := range b.clients {
		out = append(out, c)
	}
	return out
}

func (b *MemoryBroker) route(topic string, payload []byte) int {
	n := 0
	for _, c := range b.snapshot() {
		if c.deliver(topic, payload) {
			n++
		}
	}
	b.delivered.Add(int64(n))
	return n
}

// Memory is a client of a MemoryBroker.
type Memory struct {
	id     string
	broker *MemoryBroker

	mu        sync.Mutex
	handlers  session.Handlers
	connected bool
	filters   []string
	attempt   uint64
}

func (m *Memory) SetHandlers(h session.Handlers) {
	m.mu.Lock()
	m.handlers = h
	m.mu.Unlock()
}

// Connect resolves asynchronously like a network client would.
func (m *Memory) Connect(address string, port int, keepAlive time.Duration) error {
	b := m.broker

	m.mu.Lock()
	m.attempt++
	attempt := m.attempt
	m.mu.Unlock()

	go func() {
		if d := time.Duration(b.connectDelay.Load()); d > 0 {
			time.Sleep(d)
		}
		if b.silent.Load() {
			return
		}
		if code := int(b.refuseCode.Load()); code != 0 {
			m.fireConnect(code)
			return
		}

		m.mu.Lock()
		if m.attempt != attempt {
			// abandoned by Disconnect
			m.mu.Unlock()
			return
		}
		m.connected = true
		m.mu.Unlock()
		b.register(m)
		m.fireConnect(0)
	}()
	return nil
}

// Reconnect restores a dropped connection and fires OnConnect.
func (m *Memory) Reconnect() {
	m.mu.Lock()
	m.connected = true
	m.mu.Unlock()
	m.broker.register(m)
	m.fireConnect(0)
}

func (m *Memory) Publish(topic string, payload []byte, qos byte) error {
	if !m.IsConnected() {
		return ErrNotConnected
	}
	m.broker.published.Add(1)
	m.broker.route(topic, payload)
	return nil
}

func (m *Memory) Subscribe(filter string, qos byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return ErrNotConnected
	}
	for _, f := range m.filters {
		if f == filter {
			return nil
		}
	}
	m.filters = append(m.filters, filter)
	return nil
}

func (m *Memory) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// Disconnect closes the connection. Subscriptions are forgotten.
func (m *Memory) Disconnect() {
	m.mu.Lock()
	wasConnected := m.connected
	m.connected = false
	m.filters = nil
	m.attempt++
	h := m.handlers
	m.mu.Unlock()

	if !wasConnected {
		return
	}
	m.broker.unregister(m)
	if h.OnDisconnect != nil {
		h.OnDisconnect(0)
	}
}

// drop severs the connection but keeps subscriptions, like a network failure
// on a persistent session.
func (m *Memory) drop() {
	m.mu.Lock()
	wasConnected := m.connected
	m.connected = false
	h := m.handlers
	m.mu.Unlock()

	if !wasConnected {
		return
	}
	m.broker.unregister(m)
	if h.OnDisconnect != nil {
		h.OnDisconnect(1)
	}
}

func (m *Memory) fireConnect(code int) {
	m.mu.Lock()
	h := m.handlers
	m.mu.Unlock()

	if h.OnConnect != nil {
		h.OnConnect(code)
	}
}

func (m *Memory) deliver(topic string, payload []byte) bool {
	m.mu.Lock()
	if !m.connected {
		m.mu.Unlock()
		return false
	}
	matched := false
	for _, f := range m.filters {
		if MatchTopic(f, topic) {
			matched = true
			break
		}
	}
	h := m.handlers
	m.mu.Unlock()

	if !matched || h.OnMessage == nil {
		return false
	}

	buf := make([]byte, len(payload))
	copy(buf, payload)
	h.OnMessage(topic, buf)
	return true
}
