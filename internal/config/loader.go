package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment overrides, e.g. SURGE_BROKER_PORT.
const EnvPrefix = "SURGE"

// FlagKeys maps CLI flag names to configuration keys. Flags present in a
// FlagSet passed to Load override every other source when set.
var FlagKeys = map[string]string{
	"address":             "broker.address",
	"port":                "broker.port",
	"scheme":              "broker.scheme",
	"keepalive":           "broker.keep_alive",
	"connect-timeout":     "broker.connect_timeout",
	"username":            "broker.username",
	"password":            "broker.password",
	"publishers":          "publisher.sessions",
	"messages":            "publisher.messages",
	"interval":            "publisher.interval",
	"payload-bytes":       "publisher.payload_bytes",
	"qos":                 "publisher.qos",
	"topic-prefix":        "publisher.topic_prefix",
	"subscribers":         "subscriber.sessions",
	"topic-filter":        "subscriber.topic_filter",
	"sub-qos":             "subscriber.qos",
	"expected":            "subscriber.expected_messages",
	"drain-timeout":       "subscriber.drain_timeout",
	"transport":           "run.transport",
	"grace-period":        "run.grace_period",
	"connect-rate":        "run.connect_rate",
	"connect-concurrency": "run.connect_concurrency",
	"breaker-threshold":   "run.breaker_threshold",
	"strict":              "payload.strict",
	"log-level":           "log.level",
	"log-format":          "log.format",
	"metrics-listen":      "metrics.listen",
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	cfg, err := build(newViper())
	if err != nil {
		// defaults are static and always decode
		panic(err)
	}
	return cfg
}

// Load reads the configuration.
//
// Precedence, highest first: changed flags in flags, SURGE_* environment
// variables, the YAML file at path, defaults. An empty path looks for an
// optional surge.yaml in the working directory. flags may be nil.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := newViper()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("surge")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	if flags != nil {
		for name, key := range FlagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag --%s: %w", name, err)
				}
			}
		}
	}

	cfg, err := build(v)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v
}

func setDefaults(v *viper.Viper) {
	// Broker
	v.SetDefault("broker.address", "localhost")
	v.SetDefault("broker.port", 1884)
	v.SetDefault("broker.scheme", "tcp")
	v.SetDefault("broker.keep_alive", "60s")
	v.SetDefault("broker.connect_timeout", "10s")
	v.SetDefault("broker.poll_interval", "100ms")
	v.SetDefault("broker.auto_reconnect", true)
	v.SetDefault("broker.username", "")
	v.SetDefault("broker.password", "")
	v.SetDefault("broker.insecure_skip_verify", false)

	// Publisher
	v.SetDefault("publisher.sessions", 20)
	v.SetDefault("publisher.messages", 10)
	v.SetDefault("publisher.interval", "100ms")
	v.SetDefault("publisher.payload_bytes", 100)
	v.SetDefault("publisher.qos", 2)
	v.SetDefault("publisher.topic_prefix", "sensors/data")
	v.SetDefault("publisher.client_id_format", "publisher-%05d")
	v.SetDefault("publisher.reconnect_wait", "1s")

	// Subscriber
	v.SetDefault("subscriber.sessions", 100)
	v.SetDefault("subscriber.topic_filter", "")
	v.SetDefault("subscriber.qos", 2)
	v.SetDefault("subscriber.expected_messages", 1000)
	v.SetDefault("subscriber.monitor_interval", "500ms")
	v.SetDefault("subscriber.drain_timeout", "0s")
	v.SetDefault("subscriber.client_id_format", "subscriber-%02d")

	// Run
	v.SetDefault("run.transport", "mqtt")
	v.SetDefault("run.grace_period", "500ms")
	v.SetDefault("run.connect_rate", 0)
	v.SetDefault("run.connect_burst", 1)
	v.SetDefault("run.connect_concurrency", 0)
	v.SetDefault("run.breaker_threshold", 0)
	v.SetDefault("run.breaker_timeout", "5s")

	v.SetDefault("payload.strict", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("metrics.listen", "")
}

// build assembles a Config from v, collecting every malformed value.
func build(v *viper.Viper) (*Config, error) {
	errs := &ValidationErrors{}

	dur := func(key string) Duration {
		raw := strings.TrimSpace(v.GetString(key))
		if raw == "" {
			return 0
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			// plain integers are taken as seconds
			if secs := v.GetFloat64(key); secs != 0 {
				return Duration(time.Duration(secs * float64(time.Second)))
			}
			errs.Add(key, fmt.Sprintf("invalid duration %q", raw))
			return 0
		}
		return Duration(d)
	}

	cfg := &Config{
		Broker: BrokerConfig{
			Address:            v.GetString("broker.address"),
			Port:               v.GetInt("broker.port"),
			Scheme:             v.GetString("broker.scheme"),
			KeepAlive:          dur("broker.keep_alive"),
			ConnectTimeout:     dur("broker.connect_timeout"),
			PollInterval:       dur("broker.poll_interval"),
			AutoReconnect:      v.GetBool("broker.auto_reconnect"),
			Username:           v.GetString("broker.username"),
			Password:           v.GetString("broker.password"),
			InsecureSkipVerify: v.GetBool("broker.insecure_skip_verify"),
		},
		Publisher: PublisherConfig{
			Sessions:       v.GetInt("publisher.sessions"),
			Messages:       v.GetInt("publisher.messages"),
			Interval:       dur("publisher.interval"),
			PayloadBytes:   v.GetInt("publisher.payload_bytes"),
			QoS:            v.GetInt("publisher.qos"),
			TopicPrefix:    v.GetString("publisher.topic_prefix"),
			ClientIDFormat: v.GetString("publisher.client_id_format"),
			ReconnectWait:  dur("publisher.reconnect_wait"),
		},
		Subscriber: SubscriberConfig{
			Sessions:         v.GetInt("subscriber.sessions"),
			TopicFilter:      v.GetString("subscriber.topic_filter"),
			QoS:              v.GetInt("subscriber.qos"),
			ExpectedMessages: v.GetInt64("subscriber.expected_messages"),
			MonitorInterval:  dur("subscriber.monitor_interval"),
			DrainTimeout:     dur("subscriber.drain_timeout"),
			ClientIDFormat:   v.GetString("subscriber.client_id_format"),
		},
		Run: RunConfig{
			Transport:          strings.ToLower(v.GetString("run.transport")),
			GracePeriod:        dur("run.grace_period"),
			ConnectRate:        v.GetFloat64("run.connect_rate"),
			ConnectBurst:       v.GetInt("run.connect_burst"),
			ConnectConcurrency: v.GetInt("run.connect_concurrency"),
			BreakerThreshold:   v.GetInt("run.breaker_threshold"),
			BreakerTimeout:     dur("run.breaker_timeout"),
		},
		Payload: PayloadConfig{
			Strict: v.GetBool("payload.strict"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		Metrics: MetricsConfig{
			Listen: v.GetString("metrics.listen"),
		},
	}

	if errs.HasErrors() {
		return nil, errs
	}
	return cfg, nil
}
