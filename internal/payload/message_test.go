package payload

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMessage_TargetSize(t *testing.T) {
	at := time.Unix(1718000000, 123456000)

	for _, size := range []int{100, 256, 1024} {
		m := NewMessage("publisher-00001", 7, at, size)
		b, err := m.Encode()
		require.NoError(t, err)

		if len(b) != size {
			t.Errorf("size %d: encoded length = %d", size, len(b))
		}
	}
}

func TestNewMessage_TooSmallTarget(t *testing.T) {
	m := NewMessage("publisher-00001", 1, time.Now(), 10)
	if m.Data != "" {
		t.Errorf("Data = %q, want empty when target is smaller than the envelope", m.Data)
	}
}

func TestDecode_RoundTrip(t *testing.T) {
	at := time.Unix(1718000000, 500000000)
	m := NewMessage("publisher-00042", 3, at, 128)
	b, err := m.Encode()
	require.NoError(t, err)

	got, err := Decode(b)
	require.NoError(t, err)

	assert.Equal(t, "publisher-00042", got.ClientID)
	assert.Equal(t, int64(3), got.MsgNum)
	assert.InDelta(t, 1718000000.5, got.Timestamp, 1e-6)
	assert.Equal(t, m.Data, got.Data)
}

func TestDecode_Malformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", "hello"},
		{"truncated", `{"client_id": "p", "msg_num": 1`},
		{"array", `[1,2,3]`},
		{"missing client_id", `{"msg_num": 1, "timestamp": 1.5}`},
		{"numeric client_id", `{"client_id": 5, "msg_num": 1, "timestamp": 1.5}`},
		{"zero msg_num", `{"client_id": "p", "msg_num": 0, "timestamp": 1.5}`},
		{"fractional msg_num", `{"client_id": "p", "msg_num": 1.5, "timestamp": 1.5}`},
		{"string timestamp", `{"client_id": "p", "msg_num": 1, "timestamp": "now"}`},
		{"missing timestamp", `{"client_id": "p", "msg_num": 1}`},
		{"empty", ``},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.raw))
			if !errors.Is(err, ErrMalformed) {
				t.Errorf("Decode(%q) error = %v, want ErrMalformed", tt.raw, err)
			}
		})
	}
}

func TestDecode_DataOptional(t *testing.T) {
	m, err := Decode([]byte(`{"client_id": "p", "msg_num": 2, "timestamp": 10}`))
	require.NoError(t, err)
	assert.Equal(t, "", m.Data)
	assert.Equal(t, int64(2), m.MsgNum)
}

func TestMessage_LatencyAt(t *testing.T) {
	sent := time.Unix(1000, 0)
	m := NewMessage("p", 1, sent, 0)

	got := m.LatencyAt(sent.Add(250 * time.Millisecond))
	if diff := got - 250*time.Millisecond; diff < -time.Microsecond || diff > time.Microsecond {
		t.Errorf("LatencyAt() = %v, want 250ms", got)
	}

	if neg := m.LatencyAt(sent.Add(-time.Second)); neg >= 0 {
		t.Errorf("LatencyAt() before send = %v, want negative", neg)
	}
}

func TestFromSeconds(t *testing.T) {
	at := time.Unix(1718000000, 250000000)
	got := FromSeconds(ToSeconds(at))
	if d := got.Sub(at); d < -time.Microsecond || d > time.Microsecond {
		t.Errorf("FromSeconds(ToSeconds(t)) off by %v", d)
	}
}
