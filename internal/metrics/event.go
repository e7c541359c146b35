package metrics

import (
	"time"

	"github.com/wesleyorama2/surge/internal/payload"
)

// ReceivedEvent is one message arrival as seen by a subscriber.
type ReceivedEvent struct {
	// Receiver is the id of the subscriber session that got the message.
	Receiver string

	Topic      string
	ReceivedAt time.Time

	// Message is valid only when Malformed is false.
	Message   payload.Message
	Malformed bool

	// Err explains why decoding failed.
	Err error
}

// DecodeEvent builds a ReceivedEvent from raw payload bytes. A nil decoder
// uses payload.Decode.
func DecodeEvent(dec payload.Decoder, receiver, topic string, raw []byte, receivedAt time.Time) ReceivedEvent {
	ev := ReceivedEvent{
		Receiver:   receiver,
		Topic:      topic,
		ReceivedAt: receivedAt,
	}

	var (
		msg payload.Message
		err error
	)
	if dec == nil {
		msg, err = payload.Decode(raw)
	} else {
		msg, err = dec.Decode(raw)
	}
	if err != nil {
		ev.Malformed = true
		ev.Err = err
		return ev
	}

	ev.Message = msg
	return ev
}

// Latency returns ReceivedAt minus the message's emission time.
func (ev ReceivedEvent) Latency() time.Duration {
	return ev.Message.LatencyAt(ev.ReceivedAt)
}
