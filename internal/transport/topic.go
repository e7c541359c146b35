// Package transport provides session.Transport implementations: an MQTT
// client backed by paho and an in-process broker for tests and dry runs.
package transport

import "strings"

// MatchTopic reports whether topic matches an MQTT subscription filter.
//
// "+" matches exactly one level and "#" matches the remaining levels
// (including none) when it is the last level of the filter.
func MatchTopic(filter, topic string) bool {
	if filter == topic {
		return true
	}

	fl := strings.Split(filter, "/")
	tl := strings.Split(topic, "/")

	for i, f := range fl {
		if f == "#" {
			return i == len(fl)-1
		}
		if i >= len(tl) {
			return false
		}
		if f != "+" && f != tl[i] {
			return false
		}
	}
	return len(fl) == len(tl)
}
