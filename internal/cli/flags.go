package cli

import (
	"time"

	"github.com/spf13/pflag"
)

// The flag names below are the keys of config.FlagKeys. Defaults only
// document the built-in values; an unchanged flag never overrides the
// file or environment.

func addBrokerFlags(fs *pflag.FlagSet) {
	fs.StringP("address", "a", "localhost", "Broker host")
	fs.IntP("port", "p", 1884, "Broker port")
	fs.String("scheme", "tcp", "Broker URL scheme: tcp, ssl, ws or wss")
	fs.Duration("keepalive", 60*time.Second, "MQTT keep-alive")
	fs.Duration("connect-timeout", 10*time.Second, "How long a session may take to connect")
	fs.String("username", "", "Broker username")
	fs.String("password", "", "Broker password")
}

func addPublisherFlags(fs *pflag.FlagSet) {
	fs.Int("publishers", 20, "Number of publisher sessions")
	fs.Int("messages", 10, "Messages per publisher")
	fs.Duration("interval", 100*time.Millisecond, "Delay between publishes of one session")
	fs.Int("payload-bytes", 100, "Encoded message size in bytes")
	fs.Int("qos", 2, "Publish QoS (0, 1 or 2)")
	fs.String("topic-prefix", "sensors/data", "Topic prefix; each publisher sends to <prefix>/<client id>")
}

func addSubscriberFlags(fs *pflag.FlagSet) {
	fs.Int("subscribers", 100, "Number of subscriber sessions")
	fs.String("topic-filter", "", "Subscription filter (default: <topic prefix>/#)")
	fs.Int("sub-qos", 2, "Subscribe QoS (0, 1 or 2)")
	fs.Int64("expected", 1000, "Stop once this many messages arrived; 0 runs until interrupted")
	fs.Duration("drain-timeout", 0, "Upper bound on monitoring; 0 disables it")
}

func addRunFlags(fs *pflag.FlagSet) {
	fs.Duration("grace-period", 500*time.Millisecond, "Time tasks get to wind down after shutdown")
	fs.Float64("connect-rate", 0, "Connection attempts per second; 0 is unlimited")
	fs.Int("connect-concurrency", 0, "Concurrent subscriber connects; 0 is unbounded")
	fs.Int("breaker-threshold", 0, "Consecutive connect failures that open the circuit breaker; 0 disables it")
	fs.Bool("strict", false, "Validate every payload against the message schema")
}
