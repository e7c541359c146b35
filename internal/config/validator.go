package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors struct {
	Errors []*ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e.Errors)))
	for i, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Add adds an error to the collection.
func (e *ValidationErrors) Add(field, message string) {
	e.Errors = append(e.Errors, &ValidationError{Field: field, Message: message})
}

// HasErrors returns true if there are any errors.
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

// Validate checks the configuration as a whole.
//
// Returns nil if valid, or a *ValidationErrors listing every problem.
func (c *Config) Validate() error {
	errs := &ValidationErrors{}

	validateBroker(&c.Broker, errs)
	validatePublisher(&c.Publisher, errs)
	validateSubscriber(&c.Subscriber, errs)
	validateRun(&c.Run, errs)

	switch strings.ToLower(c.Log.Format) {
	case "console", "json":
	default:
		errs.Add("log.format", fmt.Sprintf("unknown format %q (use console or json)", c.Log.Format))
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func validateBroker(b *BrokerConfig, errs *ValidationErrors) {
	if strings.TrimSpace(b.Address) == "" {
		errs.Add("broker.address", "address is required")
	}
	if b.Port < 1 || b.Port > 65535 {
		errs.Add("broker.port", fmt.Sprintf("port %d out of range 1-65535", b.Port))
	}
	switch b.Scheme {
	case "tcp", "ssl", "ws", "wss":
	default:
		errs.Add("broker.scheme", fmt.Sprintf("unsupported scheme %q", b.Scheme))
	}
	if b.KeepAlive < 0 {
		errs.Add("broker.keep_alive", "must not be negative")
	}
	if b.ConnectTimeout <= 0 {
		errs.Add("broker.connect_timeout", "must be positive")
	}
	if b.PollInterval <= 0 {
		errs.Add("broker.poll_interval", "must be positive")
	}
}

func validatePublisher(p *PublisherConfig, errs *ValidationErrors) {
	if p.Sessions < 0 {
		errs.Add("publisher.sessions", "must not be negative")
	}
	if p.Messages < 0 {
		errs.Add("publisher.messages", "must not be negative")
	}
	if p.Interval < 0 {
		errs.Add("publisher.interval", "must not be negative")
	}
	if p.PayloadBytes < 0 {
		errs.Add("publisher.payload_bytes", "must not be negative")
	}
	validateQoS("publisher.qos", p.QoS, errs)
	if strings.Trim(p.TopicPrefix, "/") == "" {
		errs.Add("publisher.topic_prefix", "topic prefix is required")
	}
	if strings.ContainsAny(p.TopicPrefix, "+#") {
		errs.Add("publisher.topic_prefix", "topic prefix must not contain wildcards")
	}
	validateIDFormat("publisher.client_id_format", p.ClientIDFormat, errs)
	if p.ReconnectWait < 0 {
		errs.Add("publisher.reconnect_wait", "must not be negative")
	}
}

func validateSubscriber(s *SubscriberConfig, errs *ValidationErrors) {
	if s.Sessions < 0 {
		errs.Add("subscriber.sessions", "must not be negative")
	}
	validateQoS("subscriber.qos", s.QoS, errs)
	if s.MonitorInterval <= 0 {
		errs.Add("subscriber.monitor_interval", "must be positive")
	}
	if s.DrainTimeout < 0 {
		errs.Add("subscriber.drain_timeout", "must not be negative")
	}
	validateIDFormat("subscriber.client_id_format", s.ClientIDFormat, errs)
}

func validateRun(r *RunConfig, errs *ValidationErrors) {
	switch r.Transport {
	case "mqtt", "memory":
	default:
		errs.Add("run.transport", fmt.Sprintf("unknown transport %q (use mqtt or memory)", r.Transport))
	}
	if r.GracePeriod < 0 {
		errs.Add("run.grace_period", "must not be negative")
	}
	if r.ConnectRate < 0 {
		errs.Add("run.connect_rate", "must not be negative")
	}
	if r.ConnectConcurrency < 0 {
		errs.Add("run.connect_concurrency", "must not be negative")
	}
	if r.BreakerThreshold < 0 {
		errs.Add("run.breaker_threshold", "must not be negative")
	}
	if r.BreakerThreshold > 0 && r.BreakerTimeout <= 0 {
		errs.Add("run.breaker_timeout", "must be positive when the breaker is enabled")
	}
}

func validateQoS(field string, qos int, errs *ValidationErrors) {
	if qos < 0 || qos > 2 {
		errs.Add(field, fmt.Sprintf("qos %d must be 0, 1 or 2", qos))
	}
}

func validateIDFormat(field, format string, errs *ValidationErrors) {
	if strings.Count(format, "%") != 1 {
		errs.Add(field, fmt.Sprintf("format %q must contain exactly one integer verb", format))
		return
	}
	if got := fmt.Sprintf(format, 1); strings.Contains(got, "%!") {
		errs.Add(field, fmt.Sprintf("format %q does not accept an integer", format))
	}
}
