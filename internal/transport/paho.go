package transport

import (
	"crypto/tls"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/wesleyorama2/surge/internal/session"
)

// connectFailureCode is reported when a connect fails without a CONNACK
// return code, e.g. on a network error.
const connectFailureCode = 255

// ErrTransportClosed is returned by Connect when Disconnect won the race.
var ErrTransportClosed = errors.New("paho transport: closed")

// lostConnectionCode is reported to OnDisconnect when the link drops.
const lostConnectionCode = 1

// PahoOptions configures MQTT clients.
type PahoOptions struct {
	// Scheme is the broker URL scheme: tcp, ssl, ws or wss.
	Scheme string

	Username string
	Password string

	// ConnectTimeout bounds paho's own network dial and CONNACK wait.
	ConnectTimeout time.Duration

	// SubscribeTimeout bounds the wait for a SUBACK.
	SubscribeTimeout time.Duration

	// AutoReconnect lets paho re-establish dropped connections.
	AutoReconnect bool

	// InsecureSkipVerify disables certificate checks for ssl and wss.
	InsecureSkipVerify bool

	Logger zerolog.Logger
}

// DefaultPahoOptions returns options matching a plain local broker.
func DefaultPahoOptions() PahoOptions {
	return PahoOptions{
		Scheme:           "tcp",
		ConnectTimeout:   10 * time.Second,
		SubscribeTimeout: 10 * time.Second,
		AutoReconnect:    true,
		Logger:           zerolog.Nop(),
	}
}

// PahoFactory returns a session.Factory creating Paho transports.
func PahoFactory(opts PahoOptions) session.Factory {
	return func(clientID string) (session.Transport, error) {
		if clientID == "" {
			return nil, errors.New("paho transport: empty client id")
		}
		return NewPaho(clientID, opts), nil
	}
}

// Paho adapts an eclipse/paho.mqtt.golang client to session.Transport.
type Paho struct {
	clientID string
	opts     PahoOptions
	logger   zerolog.Logger

	mu       sync.Mutex
	client   pahomqtt.Client
	handlers session.Handlers

	reconnects atomic.Int64
}

// NewPaho creates an unconnected transport.
func NewPaho(clientID string, opts PahoOptions) *Paho {
	if opts.Scheme == "" {
		opts.Scheme = "tcp"
	}
	if opts.SubscribeTimeout <= 0 {
		opts.SubscribeTimeout = 10 * time.Second
	}
	return &Paho{
		clientID: clientID,
		opts:     opts,
		logger:   opts.Logger.With().Str("client_id", clientID).Logger(),
	}
}

func (p *Paho) SetHandlers(h session.Handlers) {
	p.mu.Lock()
	p.handlers = h
	p.mu.Unlock()
}

func (p *Paho) getHandlers() session.Handlers {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.handlers
}

// BrokerURL formats the broker address for paho.
func (p *Paho) BrokerURL(address string, port int) string {
	return fmt.Sprintf("%s://%s:%d", p.opts.Scheme, address, port)
}

// Connect starts the connection in the background. The CONNACK outcome is
// reported through OnConnect.
func (p *Paho) Connect(address string, port int, keepAlive time.Duration) error {
	opts := p.buildClientOptions(address, port, keepAlive)
	client := pahomqtt.NewClient(opts)

	p.mu.Lock()
	if p.client != nil && p.client.IsConnected() {
		p.mu.Unlock()
		return errors.New("paho transport: already connected")
	}
	p.client = client
	p.mu.Unlock()

	token := client.Connect()

	// Disconnect may have run before paho entered the connecting state, in
	// which case it had nothing to abort.
	if !p.owns(client) {
		client.Disconnect(0)
		return ErrTransportClosed
	}

	go func() {
		token.Wait()
		err := token.Error()
		if err == nil {
			// success is reported by the OnConnect handler
			return
		}
		if !p.owns(client) {
			return
		}

		code := connectFailureCode
		if ct, ok := token.(*pahomqtt.ConnectToken); ok && ct.ReturnCode() != 0 {
			code = int(ct.ReturnCode())
		}
		p.logger.Debug().Err(err).Int("code", code).Msg("MQTT connect failed")
		if h := p.getHandlers(); h.OnConnect != nil {
			h.OnConnect(code)
		}
	}()

	return nil
}

func (p *Paho) buildClientOptions(address string, port int, keepAlive time.Duration) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	opts.AddBroker(p.BrokerURL(address, port))
	opts.SetClientID(p.clientID)
	if keepAlive > 0 {
		opts.SetKeepAlive(keepAlive)
	}
	if p.opts.ConnectTimeout > 0 {
		opts.SetConnectTimeout(p.opts.ConnectTimeout)
	}

	opts.SetAutoReconnect(p.opts.AutoReconnect)
	opts.SetConnectRetry(false)
	opts.SetCleanSession(true)
	opts.SetOrderMatters(false)

	if p.opts.Username != "" {
		opts.SetUsername(p.opts.Username)
		opts.SetPassword(p.opts.Password)
	}
	if p.opts.Scheme == "ssl" || p.opts.Scheme == "wss" {
		opts.SetTLSConfig(&tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: p.opts.InsecureSkipVerify,
		})
	}

	opts.SetOnConnectHandler(p.onConnect)
	opts.SetConnectionLostHandler(p.onConnectionLost)
	opts.SetReconnectingHandler(p.onReconnecting)
	opts.SetDefaultPublishHandler(p.onMessage)

	return opts
}

// Publish hands the message to paho without waiting for the broker. An
// error is returned only if paho has already failed the token.
func (p *Paho) Publish(topic string, payload []byte, qos byte) error {
	client := p.currentClient()
	if client == nil {
		return errors.New("paho transport: not connected")
	}

	token := client.Publish(topic, qos, false, payload)
	select {
	case <-token.Done():
		return token.Error()
	default:
		return nil
	}
}

// Subscribe waits for the SUBACK. Messages go to OnMessage.
func (p *Paho) Subscribe(filter string, qos byte) error {
	client := p.currentClient()
	if client == nil {
		return errors.New("paho transport: not connected")
	}

	token := client.Subscribe(filter, qos, nil)
	if !token.WaitTimeout(p.opts.SubscribeTimeout) {
		return fmt.Errorf("subscribe to %s timed out after %v", filter, p.opts.SubscribeTimeout)
	}
	return token.Error()
}

func (p *Paho) IsConnected() bool {
	client := p.currentClient()
	return client != nil && client.IsConnectionOpen()
}

// Disconnect closes the connection, waiting up to 250ms for in-flight work.
func (p *Paho) Disconnect() {
	p.mu.Lock()
	client := p.client
	p.client = nil
	p.mu.Unlock()

	if client == nil {
		return
	}
	// paho aborts a connect still waiting for its CONNACK, so this must run
	// whether or not the connection is up yet.
	client.Disconnect(250)
}

func (p *Paho) owns(client pahomqtt.Client) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.client == client
}

// Reconnects returns how many automatic reconnect attempts paho has made.
func (p *Paho) Reconnects() int64 {
	return p.reconnects.Load()
}

func (p *Paho) currentClient() pahomqtt.Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.client
}

func (p *Paho) onConnect(c pahomqtt.Client) {
	if !p.owns(c) {
		return
	}
	if h := p.getHandlers(); h.OnConnect != nil {
		h.OnConnect(0)
	}
}

func (p *Paho) onConnectionLost(_ pahomqtt.Client, err error) {
	p.logger.Warn().Err(err).Msg("MQTT connection lost")
	if h := p.getHandlers(); h.OnDisconnect != nil {
		h.OnDisconnect(lostConnectionCode)
	}
}

func (p *Paho) onReconnecting(_ pahomqtt.Client, _ *pahomqtt.ClientOptions) {
	n := p.reconnects.Add(1)
	p.logger.Info().Int64("reconnect_count", n).Msg("Attempting to reconnect to MQTT broker")
}

func (p *Paho) onMessage(_ pahomqtt.Client, msg pahomqtt.Message) {
	if h := p.getHandlers(); h.OnMessage != nil {
		h.OnMessage(msg.Topic(), msg.Payload())
	}
}
