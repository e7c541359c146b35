// Package session models simulated broker clients and the pool of live ones.
package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Role is what a session does once connected.
type Role int

const (
	// RolePublisher sessions emit messages.
	RolePublisher Role = iota
	// RoleSubscriber sessions receive messages.
	RoleSubscriber
)

func (r Role) String() string {
	switch r {
	case RolePublisher:
		return "publisher"
	case RoleSubscriber:
		return "subscriber"
	default:
		return "unknown"
	}
}

// State is the connection state of a Session.
type State int32

const (
	// StateDisconnected is the initial state and the state after a drop or Disconnect.
	StateDisconnected State = iota
	// StateConnecting means a connect attempt is in flight.
	StateConnecting
	// StateConnected means the transport reported an accepted connection.
	StateConnected
	// StateFailed means the last connect attempt did not succeed.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// DefaultPollInterval is how often Connect checks for an outcome.
const DefaultPollInterval = 100 * time.Millisecond

// MessageHandler receives messages for a subscriber session. receivedAt is
// taken as soon as the transport hands the message over.
type MessageHandler func(topic string, payload []byte, receivedAt time.Time)

// Options configures a Session.
type Options struct {
	// KeepAlive is passed to the transport on connect.
	KeepAlive time.Duration

	// PollInterval controls how often Connect checks the connection state.
	PollInterval time.Duration

	// OnMessage handles deliveries for subscriptions made by this session.
	OnMessage MessageHandler

	// Logger receives state transitions. Defaults to a no-op logger.
	Logger *zerolog.Logger
}

type subscription struct {
	filter string
	qos    byte
}

// Session is one simulated client.
//
// A session is driven by a single task goroutine, while its transport
// reports connection changes and deliveries from its own goroutines. State
// is therefore held atomically; subscriptions are guarded by a mutex.
type Session struct {
	// ID is unique within a run and doubles as the client identifier.
	ID string

	// Role is publisher or subscriber.
	Role Role

	transport    Transport
	pool         *Pool
	keepAlive    time.Duration
	pollInterval time.Duration
	onMessage    MessageHandler
	logger       zerolog.Logger

	state    atomic.Int32
	lastCode atomic.Int32
	closed   atomic.Bool

	subsMu sync.Mutex
	subs   []subscription

	closeOnce sync.Once
}

// New creates a session around transport t. The session registers itself
// with pool once connected; pool may be nil.
func New(id string, role Role, t Transport, pool *Pool, opts Options) *Session {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}

	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	s := &Session{
		ID:           id,
		Role:         role,
		transport:    t,
		pool:         pool,
		keepAlive:    opts.KeepAlive,
		pollInterval: opts.PollInterval,
		onMessage:    opts.OnMessage,
		logger: logger.With().
			Str("client_id", id).
			Str("role", role.String()).
			Logger(),
	}

	t.SetHandlers(Handlers{
		OnConnect:    s.handleConnect,
		OnDisconnect: s.handleDisconnect,
		OnMessage:    s.handleMessage,
	})

	return s
}

// State returns the current connection state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// IsConnected reports whether both the session and its transport consider
// the connection live.
func (s *Session) IsConnected() bool {
	return s.State() == StateConnected && s.transport.IsConnected()
}

// Connect starts a connection attempt and polls until it resolves.
//
// It returns nil once the transport reports an accepted connection, at which
// point the session is registered in the pool. Otherwise the transport is
// released, the session enters StateFailed and a *ConnectError is returned
// wrapping ErrConnectRefused, ErrConnectTimeout or ErrShutdown.
func (s *Session) Connect(ctx context.Context, address string, port int, timeout time.Duration) error {
	if s.closed.Load() {
		return &ConnectError{ClientID: s.ID, Err: ErrClosed}
	}
	if !s.state.CompareAndSwap(int32(StateDisconnected), int32(StateConnecting)) &&
		!s.state.CompareAndSwap(int32(StateFailed), int32(StateConnecting)) {
		return fmt.Errorf("%s: connect called in state %s", s.ID, s.State())
	}

	if err := ctx.Err(); err != nil {
		return s.failConnect(ErrShutdown)
	}

	s.logger.Debug().
		Str("address", address).
		Int("port", port).
		Msg("Connecting")

	if err := s.transport.Connect(address, port, s.keepAlive); err != nil {
		return s.failConnect(fmt.Errorf("%w: %v", ErrConnectRefused, err))
	}

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		switch s.State() {
		case StateConnected:
			if s.pool != nil {
				s.pool.Add(s)
			}
			return nil
		case StateFailed:
			return s.failConnect(ErrConnectRefused)
		}

		select {
		case <-ctx.Done():
			return s.failConnect(ErrShutdown)
		case <-deadline:
			return s.failConnect(ErrConnectTimeout)
		case <-ticker.C:
		}
	}
}

func (s *Session) failConnect(cause error) error {
	s.state.Store(int32(StateFailed))
	s.transport.Disconnect()

	err := &ConnectError{ClientID: s.ID, Code: int(s.lastCode.Load()), Err: cause}
	s.logger.Warn().Err(err).Msg("Connection attempt failed")
	return err
}

// Publish sends payload on topic.
//
// When the session is not connected the call is logged and ErrNotConnected
// is returned without reaching the transport.
func (s *Session) Publish(topic string, payload []byte, qos byte) error {
	if !s.IsConnected() {
		s.logger.Warn().
			Str("topic", topic).
			Msg("Publish skipped, not connected")
		return ErrNotConnected
	}
	if err := s.transport.Publish(topic, payload, qos); err != nil {
		return fmt.Errorf("%s: publish to %s: %w", s.ID, topic, err)
	}
	return nil
}

// Subscribe registers interest in filter. Deliveries go to the session's
// MessageHandler. The subscription is re-issued after a reconnect.
func (s *Session) Subscribe(filter string, qos byte) error {
	if !s.IsConnected() {
		return ErrNotConnected
	}
	if err := s.transport.Subscribe(filter, qos); err != nil {
		return fmt.Errorf("%s: subscribe to %s: %w", s.ID, filter, err)
	}

	s.subsMu.Lock()
	s.subs = append(s.subs, subscription{filter: filter, qos: qos})
	s.subsMu.Unlock()

	s.logger.Debug().
		Str("filter", filter).
		Uint8("qos", qos).
		Msg("Subscribed")
	return nil
}

// Disconnect releases the transport and removes the session from the pool.
// It is safe to call any number of times from any goroutine.
func (s *Session) Disconnect() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.state.Store(int32(StateDisconnected))
		s.transport.Disconnect()
		if s.pool != nil {
			s.pool.Remove(s)
		}
		s.logger.Debug().Msg("Disconnected")
	})
}

// Closed reports whether Disconnect has been called.
func (s *Session) Closed() bool {
	return s.closed.Load()
}

func (s *Session) handleConnect(code int) {
	s.lastCode.Store(int32(code))

	if code != 0 {
		if s.state.CompareAndSwap(int32(StateConnecting), int32(StateFailed)) {
			s.logger.Warn().Int("code", code).Msg("Connection refused")
		}
		return
	}
	if s.closed.Load() {
		return
	}

	if s.state.CompareAndSwap(int32(StateConnecting), int32(StateConnected)) {
		s.logger.Debug().Msg("Connected")
		return
	}
	if s.state.CompareAndSwap(int32(StateDisconnected), int32(StateConnected)) {
		s.logger.Info().Msg("Reconnected")
		s.resubscribe()
	}
}

func (s *Session) handleDisconnect(code int) {
	if !s.state.CompareAndSwap(int32(StateConnected), int32(StateDisconnected)) {
		return
	}
	if code != 0 {
		s.logger.Warn().Int("code", code).Msg("Unexpected disconnection")
		return
	}
	s.logger.Debug().Msg("Connection closed")
}

func (s *Session) handleMessage(topic string, payload []byte) {
	receivedAt := time.Now()
	if s.onMessage == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Interface("panic", r).
				Str("topic", topic).
				Msg("Message handler panicked")
		}
	}()
	s.onMessage(topic, payload, receivedAt)
}

func (s *Session) resubscribe() {
	s.subsMu.Lock()
	subs := make([]subscription, len(s.subs))
	copy(subs, s.subs)
	s.subsMu.Unlock()

	for _, sub := range subs {
		if err := s.transport.Subscribe(sub.filter, sub.qos); err != nil {
			s.logger.Warn().
				Err(err).
				Str("filter", sub.filter).
				Msg("Resubscribe failed")
		}
	}
}
