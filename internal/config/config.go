// Package config defines the run configuration and loads it from defaults,
// an optional YAML file, SURGE_* environment variables and CLI flags.
package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete configuration of a run.
type Config struct {
	Broker     BrokerConfig     `json:"broker" yaml:"broker"`
	Publisher  PublisherConfig  `json:"publisher" yaml:"publisher"`
	Subscriber SubscriberConfig `json:"subscriber" yaml:"subscriber"`
	Run        RunConfig        `json:"run" yaml:"run"`
	Payload    PayloadConfig    `json:"payload" yaml:"payload"`
	Log        LogConfig        `json:"log" yaml:"log"`
	Metrics    MetricsConfig    `json:"metrics" yaml:"metrics"`
}

// BrokerConfig describes how sessions reach the broker.
type BrokerConfig struct {
	Address string `json:"address" yaml:"address"`
	Port    int    `json:"port" yaml:"port"`

	// Scheme is tcp, ssl, ws or wss.
	Scheme string `json:"scheme" yaml:"scheme"`

	KeepAlive      Duration `json:"keepAlive" yaml:"keep_alive"`
	ConnectTimeout Duration `json:"connectTimeout" yaml:"connect_timeout"`

	// PollInterval is how often a connecting session checks its state.
	PollInterval Duration `json:"pollInterval" yaml:"poll_interval"`

	AutoReconnect      bool   `json:"autoReconnect" yaml:"auto_reconnect"`
	Username           string `json:"username,omitempty" yaml:"username,omitempty"`
	Password           string `json:"-" yaml:"-"`
	InsecureSkipVerify bool   `json:"insecureSkipVerify" yaml:"insecure_skip_verify"`
}

// PublisherConfig shapes the publishing side.
type PublisherConfig struct {
	Sessions     int      `json:"sessions" yaml:"sessions"`
	Messages     int      `json:"messages" yaml:"messages"`
	Interval     Duration `json:"interval" yaml:"interval"`
	PayloadBytes int      `json:"payloadBytes" yaml:"payload_bytes"`
	QoS          int      `json:"qos" yaml:"qos"`
	TopicPrefix  string   `json:"topicPrefix" yaml:"topic_prefix"`

	// ClientIDFormat is a fmt pattern taking the 1-based session index.
	ClientIDFormat string `json:"clientIdFormat" yaml:"client_id_format"`

	// ReconnectWait is how long a publisher waits before its single
	// reconnect check.
	ReconnectWait Duration `json:"reconnectWait" yaml:"reconnect_wait"`
}

// SubscriberConfig shapes the subscribing side.
type SubscriberConfig struct {
	Sessions int `json:"sessions" yaml:"sessions"`

	// TopicFilter defaults to "<topic prefix>/#".
	TopicFilter string `json:"topicFilter,omitempty" yaml:"topic_filter,omitempty"`

	QoS int `json:"qos" yaml:"qos"`

	// ExpectedMessages ends monitoring once reached. Zero or less means
	// run until interrupted (or the drain timeout).
	ExpectedMessages int64 `json:"expectedMessages" yaml:"expected_messages"`

	MonitorInterval Duration `json:"monitorInterval" yaml:"monitor_interval"`

	// DrainTimeout bounds monitoring. Zero disables it.
	DrainTimeout Duration `json:"drainTimeout" yaml:"drain_timeout"`

	ClientIDFormat string `json:"clientIdFormat" yaml:"client_id_format"`
}

// RunConfig holds orchestration settings.
type RunConfig struct {
	// Transport is "mqtt" for a real broker or "memory" for an in-process one.
	Transport string `json:"transport" yaml:"transport"`

	// GracePeriod is how long tasks get to wind down after shutdown
	// before the pool is force-drained.
	GracePeriod Duration `json:"gracePeriod" yaml:"grace_period"`

	// ConnectRate caps connection attempts per second. Zero is unlimited.
	ConnectRate  float64 `json:"connectRate" yaml:"connect_rate"`
	ConnectBurst int     `json:"connectBurst" yaml:"connect_burst"`

	// ConnectConcurrency bounds the subscriber connect fan-out. Zero is unbounded.
	ConnectConcurrency int `json:"connectConcurrency" yaml:"connect_concurrency"`

	// BreakerThreshold opens the connect circuit breaker after that many
	// consecutive failures. Zero disables the breaker.
	BreakerThreshold int      `json:"breakerThreshold" yaml:"breaker_threshold"`
	BreakerTimeout   Duration `json:"breakerTimeout" yaml:"breaker_timeout"`
}

// PayloadConfig controls message decoding.
type PayloadConfig struct {
	// Strict validates every payload against the message JSON Schema.
	Strict bool `json:"strict" yaml:"strict"`
}

// LogConfig controls logging.
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	// Listen is the address of the /metrics endpoint. Empty disables it.
	Listen string `json:"listen,omitempty" yaml:"listen,omitempty"`
}

// PublisherID returns the client id of the i-th publisher (1-based).
func (c *Config) PublisherID(i int) string {
	return fmt.Sprintf(c.Publisher.ClientIDFormat, i)
}

// SubscriberID returns the client id of the i-th subscriber (1-based).
func (c *Config) SubscriberID(i int) string {
	return fmt.Sprintf(c.Subscriber.ClientIDFormat, i)
}

// PublisherTopic returns the topic a publisher sends on: <prefix>/<client id>.
func (c *Config) PublisherTopic(clientID string) string {
	return strings.TrimRight(c.Publisher.TopicPrefix, "/") + "/" + clientID
}

// SubscriberFilter returns the configured filter, or a wildcard over the
// publisher prefix.
func (c *Config) SubscriberFilter() string {
	if c.Subscriber.TopicFilter != "" {
		return c.Subscriber.TopicFilter
	}
	return strings.TrimRight(c.Publisher.TopicPrefix, "/") + "/#"
}

// TotalMessages is the number of messages the publishers will send.
func (c *Config) TotalMessages() int64 {
	return int64(c.Publisher.Sessions) * int64(c.Publisher.Messages)
}

// YAML renders the configuration as YAML.
func (c *Config) YAML() ([]byte, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to render config: %w", err)
	}
	return out, nil
}

// Duration is a time.Duration that can be unmarshaled from JSON/YAML strings.
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// GetDuration returns the duration or a default if empty.
func (d Duration) GetDuration(defaultValue time.Duration) time.Duration {
	if d == 0 {
		return defaultValue
	}
	return time.Duration(d)
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}

	if s == "" || s == "null" {
		*d = 0
		return nil
	}

	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}

	if s == "" {
		*d = 0
		return nil
	}

	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// String returns the duration as a string.
func (d Duration) String() string {
	return time.Duration(d).String()
}
