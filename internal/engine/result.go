package engine

import (
	"fmt"
	"time"

	"github.com/wesleyorama2/surge/internal/metrics"
)

// Mode identifies which side of the traffic a run drives.
type Mode string

const (
	ModePublish   Mode = "publish"
	ModeSubscribe Mode = "subscribe"
	ModeRun       Mode = "run"
)

// TaskState is the lifecycle state of a publisher task.
type TaskState int32

const (
	TaskPending TaskState = iota
	TaskConnecting
	TaskConnected
	TaskPublishing
	TaskDisconnecting
	TaskTerminated
	TaskConnectFailed
)

func (s TaskState) String() string {
	switch s {
	case TaskPending:
		return "pending"
	case TaskConnecting:
		return "connecting"
	case TaskConnected:
		return "connected"
	case TaskPublishing:
		return "publishing"
	case TaskDisconnecting:
		return "disconnecting"
	case TaskTerminated:
		return "terminated"
	case TaskConnectFailed:
		return "connect_failed"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name in JSON results.
func (s TaskState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name written by MarshalText.
func (s *TaskState) UnmarshalText(b []byte) error {
	for st := TaskPending; st <= TaskConnectFailed; st++ {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown task state %q", b)
}

// Outcome is why a task or monitor stopped.
type Outcome string

const (
	// OutcomeCompleted means all work was done.
	OutcomeCompleted Outcome = "completed"
	// OutcomeConnectFailed means the session never connected.
	OutcomeConnectFailed Outcome = "connect_failed"
	// OutcomeDisconnected means the connection was lost and the single
	// reconnect check failed.
	OutcomeDisconnected Outcome = "disconnected"
	// OutcomeInterrupted means the shutdown signal stopped the work.
	OutcomeInterrupted Outcome = "interrupted"
	// OutcomeFailed means an unexpected error or panic aborted the task.
	OutcomeFailed Outcome = "failed"
	// OutcomeTimedOut means the monitor gave up waiting for messages.
	OutcomeTimedOut Outcome = "timed_out"
	// OutcomeNoSessions means there was nothing to monitor.
	OutcomeNoSessions Outcome = "no_sessions"
)

// TaskResult is the outcome of one publisher task.
type TaskResult struct {
	ClientID  string    `json:"clientId"`
	State     TaskState `json:"state"`
	Outcome   Outcome   `json:"outcome,omitempty"`
	Connected bool      `json:"connected"`
	Published int64     `json:"published"`
	Error     string    `json:"error,omitempty"`
}

// SessionCounts describes how many sessions of one role were asked for and
// how many connected.
type SessionCounts struct {
	Requested int `json:"requested"`
	Connected int `json:"connected"`
	Failed    int `json:"failed"`
}

// Result is everything a run produced. It is returned on every path,
// including interrupted and partially failed runs.
type Result struct {
	RunID     string        `json:"runId"`
	Mode      Mode          `json:"mode"`
	StartTime time.Time     `json:"startTime"`
	EndTime   time.Time     `json:"endTime"`
	Duration  time.Duration `json:"duration"`

	Summary metrics.Summary `json:"summary"`

	Publishers  SessionCounts `json:"publishers"`
	Subscribers SessionCounts `json:"subscribers"`
	Tasks       []TaskResult  `json:"tasks,omitempty"`

	// Expected is the number of arrivals the monitor waited for. Zero means
	// it waited for the shutdown signal.
	Expected int64 `json:"expected,omitempty"`

	// Monitor is why subscriber monitoring ended.
	Monitor Outcome `json:"monitor,omitempty"`

	PeakSessions int `json:"peakSessions"`

	// Drained is how many sessions the final pool drain had to close.
	Drained int `json:"drained"`

	Interrupted bool   `json:"interrupted"`
	Reason      string `json:"reason,omitempty"`
}

// Progress is reported periodically while a run is going.
type Progress struct {
	Mode     Mode         `json:"mode"`
	Live     metrics.Live `json:"live"`
	Expected int64        `json:"expected"`
	Sessions int          `json:"sessions"`
}

// ProgressFunc receives progress updates. It is called from a single
// goroutine and must not block for long.
type ProgressFunc func(Progress)
