package session

import "time"

// Handlers are the callbacks a Transport invokes as connection state changes
// and messages arrive. They may be called from any goroutine.
type Handlers struct {
	// OnConnect reports the outcome of a connection attempt. Code 0 means
	// accepted; anything else is a refusal or transport failure.
	OnConnect func(code int)

	// OnDisconnect reports loss of the connection. Code 0 means the client
	// asked for it.
	OnDisconnect func(code int)

	// OnMessage delivers a message received on a subscribed topic.
	OnMessage func(topic string, payload []byte)
}

// Transport is the messaging client capability a Session drives.
//
// Implementations own the wire protocol. Connect only starts the attempt;
// its outcome arrives through Handlers.OnConnect. Publish is fire-and-forget
// beyond whatever the QoS level promises. Disconnect must be idempotent.
type Transport interface {
	SetHandlers(h Handlers)
	Connect(address string, port int, keepAlive time.Duration) error
	Publish(topic string, payload []byte, qos byte) error
	Subscribe(filter string, qos byte) error
	IsConnected() bool
	Disconnect()
}

// Factory creates a transport for the given client id.
type Factory func(clientID string) (Transport, error)
