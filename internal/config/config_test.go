package config

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "localhost", cfg.Broker.Address)
	assert.Equal(t, 1884, cfg.Broker.Port)
	assert.Equal(t, 60*time.Second, cfg.Broker.KeepAlive.Std())
	assert.Equal(t, 100*time.Millisecond, cfg.Broker.PollInterval.Std())
	assert.Equal(t, 20, cfg.Publisher.Sessions)
	assert.Equal(t, 10, cfg.Publisher.Messages)
	assert.Equal(t, 100*time.Millisecond, cfg.Publisher.Interval.Std())
	assert.Equal(t, 100, cfg.Publisher.PayloadBytes)
	assert.Equal(t, 2, cfg.Publisher.QoS)
	assert.Equal(t, time.Second, cfg.Publisher.ReconnectWait.Std())
	assert.Equal(t, 100, cfg.Subscriber.Sessions)
	assert.Equal(t, int64(1000), cfg.Subscriber.ExpectedMessages)
	assert.Equal(t, 500*time.Millisecond, cfg.Subscriber.MonitorInterval.Std())
	assert.Equal(t, 500*time.Millisecond, cfg.Run.GracePeriod.Std())
	assert.Equal(t, "mqtt", cfg.Run.Transport)

	require.NoError(t, cfg.Validate())
}

func TestConfig_Naming(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "publisher-00007", cfg.PublisherID(7))
	assert.Equal(t, "subscriber-03", cfg.SubscriberID(3))
	assert.Equal(t, "sensors/data/publisher-00007", cfg.PublisherTopic("publisher-00007"))
	assert.Equal(t, "sensors/data/#", cfg.SubscriberFilter())

	cfg.Publisher.TopicPrefix = "sensors/data/"
	assert.Equal(t, "sensors/data/p", cfg.PublisherTopic("p"))

	cfg.Subscriber.TopicFilter = "sensors/+/p"
	assert.Equal(t, "sensors/+/p", cfg.SubscriberFilter())

	assert.Equal(t, int64(200), cfg.TotalMessages())
}

func TestConfig_YAML(t *testing.T) {
	cfg := Default()
	cfg.Broker.Password = "secret"

	out, err := cfg.YAML()
	require.NoError(t, err)

	text := string(out)
	assert.Contains(t, text, "keep_alive: 1m0s")
	assert.Contains(t, text, "topic_prefix: sensors/data")
	assert.NotContains(t, text, "secret")

	var back Config
	require.NoError(t, yaml.Unmarshal(out, &back))
	assert.Equal(t, cfg.Publisher.Interval, back.Publisher.Interval)
}

func TestDuration_JSON(t *testing.T) {
	var v struct {
		D Duration `json:"d"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"d":"250ms"}`), &v))
	assert.Equal(t, 250*time.Millisecond, v.D.Std())

	out, err := json.Marshal(v)
	require.NoError(t, err)
	assert.Equal(t, `{"d":"250ms"}`, string(out))

	assert.Error(t, json.Unmarshal([]byte(`{"d":"soon"}`), &v))
}

func TestDuration_GetDuration(t *testing.T) {
	var zero Duration
	if got := zero.GetDuration(time.Second); got != time.Second {
		t.Errorf("GetDuration() = %v, want 1s", got)
	}
	if got := Duration(time.Minute).GetDuration(time.Second); got != time.Minute {
		t.Errorf("GetDuration() = %v, want 1m", got)
	}
	if s := Duration(1500 * time.Millisecond).String(); s != "1.5s" {
		t.Errorf("String() = %q", s)
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Broker.Address = ""
	cfg.Broker.Port = 70000
	cfg.Publisher.QoS = 3
	cfg.Subscriber.QoS = -1
	cfg.Publisher.TopicPrefix = "sensors/#"
	cfg.Run.Transport = "carrier-pigeon"
	cfg.Log.Format = "xml"

	err := cfg.Validate()
	require.Error(t, err)

	verrs, ok := err.(*ValidationErrors)
	require.True(t, ok, "error type %T", err)
	assert.Len(t, verrs.Errors, 7)

	msg := err.Error()
	for _, field := range []string{"broker.address", "broker.port", "publisher.qos", "subscriber.qos", "publisher.topic_prefix", "run.transport", "log.format"} {
		if !strings.Contains(msg, field) {
			t.Errorf("error does not mention %s:\n%s", field, msg)
		}
	}
}

func TestValidate_Breaker(t *testing.T) {
	cfg := Default()
	cfg.Run.BreakerThreshold = 5
	cfg.Run.BreakerTimeout = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run.breaker_timeout")
}

func TestValidate_IDFormat(t *testing.T) {
	tests := []struct {
		format string
		valid  bool
	}{
		{"publisher-%05d", true},
		{"pub-%d", true},
		{"static", false},
		{"%d-%d", false},
		{"pub-%s", false},
	}

	for _, tt := range tests {
		errs := &ValidationErrors{}
		validateIDFormat("f", tt.format, errs)
		if errs.HasErrors() == tt.valid {
			t.Errorf("validateIDFormat(%q) errors = %v, want valid=%v", tt.format, errs.Errors, tt.valid)
		}
	}
}

func TestValidationErrors_Error(t *testing.T) {
	errs := &ValidationErrors{}
	if errs.Error() != "no validation errors" {
		t.Errorf("empty Error() = %q", errs.Error())
	}

	errs.Add("broker.port", "bad")
	if got := errs.Error(); got != "validation error on field 'broker.port': bad" {
		t.Errorf("single Error() = %q", got)
	}

	errs.Add("", "also bad")
	if !strings.HasPrefix(errs.Error(), "2 validation errors:") {
		t.Errorf("multi Error() = %q", errs.Error())
	}
}
