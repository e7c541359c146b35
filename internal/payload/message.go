// Package payload defines the JSON message exchanged between publishers and
// subscribers.
//
// Wire format:
//
//	{"client_id": "publisher-00001", "msg_num": 1, "timestamp": 1718000000.123456, "data": "aaaa..."}
//
// timestamp is the emission time in seconds since the Unix epoch and data is
// filler that pads the encoded message to the configured size.
package payload

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// ErrMalformed is returned for payloads that cannot be decoded into a Message.
var ErrMalformed = errors.New("malformed payload")

// fillerChar pads messages up to the target size.
const fillerChar = "a"

// Message is a single publisher-emitted payload. It is immutable once built.
type Message struct {
	ClientID  string  `json:"client_id"`
	MsgNum    int64   `json:"msg_num"`
	Timestamp float64 `json:"timestamp"`
	Data      string  `json:"data"`
}

// NewMessage builds a message stamped with at whose encoded form is size
// bytes long. When the fixed fields alone exceed size, Data stays empty and
// the message is larger than requested.
func NewMessage(clientID string, msgNum int64, at time.Time, size int) Message {
	m := Message{
		ClientID:  clientID,
		MsgNum:    msgNum,
		Timestamp: ToSeconds(at),
	}
	if size > 0 {
		if base, err := json.Marshal(m); err == nil && len(base) < size {
			m.Data = strings.Repeat(fillerChar, size-len(base))
		}
	}
	return m
}

// Encode serializes the message.
func (m Message) Encode() ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message %d of %s: %w", m.MsgNum, m.ClientID, err)
	}
	return b, nil
}

// SentAt returns the emission time carried by the message.
func (m Message) SentAt() time.Time {
	return FromSeconds(m.Timestamp)
}

// LatencyAt returns receivedAt minus the emission time. The result is
// negative when the publisher's clock is ahead of the receiver's.
func (m Message) LatencyAt(receivedAt time.Time) time.Duration {
	return time.Duration((ToSeconds(receivedAt) - m.Timestamp) * float64(time.Second))
}

// ToSeconds converts t to fractional seconds since the epoch.
func ToSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// FromSeconds converts fractional epoch seconds back to a time.
func FromSeconds(s float64) time.Time {
	sec, frac := math.Modf(s)
	return time.Unix(int64(sec), int64(frac*float64(time.Second)))
}

// Decoder turns raw payload bytes into a Message.
type Decoder interface {
	Decode(raw []byte) (Message, error)
}

// DecoderFunc adapts a function to the Decoder interface.
type DecoderFunc func(raw []byte) (Message, error)

// Decode calls f(raw).
func (f DecoderFunc) Decode(raw []byte) (Message, error) {
	return f(raw)
}

// Decode parses raw into a Message.
//
// The payload must be a JSON object with a string client_id, an integer
// msg_num >= 1 and a numeric timestamp. data is optional. Any violation
// returns an error wrapping ErrMalformed.
func Decode(raw []byte) (Message, error) {
	if !gjson.ValidBytes(raw) {
		return Message{}, fmt.Errorf("%w: invalid JSON", ErrMalformed)
	}
	doc := gjson.ParseBytes(raw)
	if !doc.IsObject() {
		return Message{}, fmt.Errorf("%w: not an object", ErrMalformed)
	}

	fields := gjson.GetManyBytes(raw, "client_id", "msg_num", "timestamp", "data")
	clientID, msgNum, ts, data := fields[0], fields[1], fields[2], fields[3]

	if clientID.Type != gjson.String {
		return Message{}, fmt.Errorf("%w: client_id must be a string", ErrMalformed)
	}
	if msgNum.Type != gjson.Number || msgNum.Num != math.Trunc(msgNum.Num) || msgNum.Num < 1 {
		return Message{}, fmt.Errorf("%w: msg_num must be an integer >= 1", ErrMalformed)
	}
	if ts.Type != gjson.Number {
		return Message{}, fmt.Errorf("%w: timestamp must be a number", ErrMalformed)
	}

	return Message{
		ClientID:  clientID.Str,
		MsgNum:    msgNum.Int(),
		Timestamp: ts.Num,
		Data:      data.String(),
	}, nil
}
