package metrics

// Violation classifies a sequence number relative to the previous one seen
// on the same stream.
type Violation int

const (
	// InOrder means the number was exactly last+1, or the first one seen.
	InOrder Violation = iota
	// Gap means one or more numbers were skipped.
	Gap
	// OutOfOrder means the number was not greater than the last one seen
	// (a reorder or a duplicate).
	OutOfOrder
)

func (v Violation) String() string {
	switch v {
	case InOrder:
		return "in-order"
	case Gap:
		return "gap"
	case OutOfOrder:
		return "out-of-order"
	default:
		return "unknown"
	}
}

// StreamKey identifies one ordered message stream: a publisher as seen by
// one receiver.
type StreamKey struct {
	Receiver  string
	Publisher string
}

// SequenceTracker records the last sequence number seen per stream and
// counts violations. Violations are recorded, never corrected.
//
// SequenceTracker is not safe for concurrent use; the Aggregator guards it.
type SequenceTracker struct {
	last       map[StreamKey]int64
	gaps       int64
	missing    int64
	outOfOrder int64
}

// NewSequenceTracker creates an empty tracker.
func NewSequenceTracker() *SequenceTracker {
	return &SequenceTracker{last: make(map[StreamKey]int64)}
}

// Observe records seq for the stream and classifies it. The last-seen value
// is always updated to seq.
func (t *SequenceTracker) Observe(key StreamKey, seq int64) Violation {
	prev, seen := t.last[key]
	t.last[key] = seq

	if !seen {
		return InOrder
	}

	switch diff := seq - prev; {
	case diff == 1:
		return InOrder
	case diff > 1:
		t.gaps++
		t.missing += diff - 1
		return Gap
	default:
		t.outOfOrder++
		return OutOfOrder
	}
}

// Last returns the last sequence number seen on the stream.
func (t *SequenceTracker) Last(key StreamKey) (int64, bool) {
	seq, ok := t.last[key]
	return seq, ok
}

// Stats returns the violation counters.
func (t *SequenceTracker) Stats() SequenceStats {
	publishers := make(map[string]struct{})
	for k := range t.last {
		publishers[k.Publisher] = struct{}{}
	}
	return SequenceStats{
		Streams:    len(t.last),
		Publishers: len(publishers),
		Gaps:       t.gaps,
		Missing:    t.missing,
		OutOfOrder: t.outOfOrder,
	}
}

// SequenceStats summarizes sequence tracking.
type SequenceStats struct {
	Streams    int   `json:"streams"`    // Distinct receiver/publisher pairs
	Publishers int   `json:"publishers"` // Distinct publishers seen
	Gaps       int64 `json:"gaps"`       // Jumps of more than one
	Missing    int64 `json:"missing"`    // Numbers skipped across all gaps
	OutOfOrder int64 `json:"outOfOrder"` // Repeats or backwards steps
}
