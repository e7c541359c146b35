// Package metrics aggregates publish and receive events from many
// concurrently running sessions.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Histogram bounds in microseconds: 1µs to 1 hour, 3 significant figures.
const (
	histogramMin     = 1
	histogramMax     = 3_600_000_000
	histogramSigFigs = 3
)

// Aggregator collects counts, latency samples and sequence state.
//
// Every raw latency sample is kept so the final summary is exact. An HDR
// histogram is fed in parallel and serves cheap live percentiles while the
// run is still going.
//
// # Thread Safety
//
// Aggregator is safe for concurrent use. Counters are atomic; samples,
// histogram and sequence tracker share one mutex.
type Aggregator struct {
	published       atomic.Int64
	publishErrors   atomic.Int64
	received        atomic.Int64
	malformed       atomic.Int64
	connectFailures atomic.Int64

	mu        sync.Mutex
	samples   []time.Duration
	hist      *hdrhistogram.Histogram
	negatives int64
	sequences *SequenceTracker

	timeMu    sync.RWMutex
	startTime time.Time
	endTime   time.Time
}

// NewAggregator creates an empty aggregator. The clock starts on Start.
func NewAggregator() *Aggregator {
	return &Aggregator{
		hist:      hdrhistogram.New(histogramMin, histogramMax, histogramSigFigs),
		sequences: NewSequenceTracker(),
	}
}

// Start marks the beginning of the measured window. Only the first call counts.
func (a *Aggregator) Start() {
	a.timeMu.Lock()
	defer a.timeMu.Unlock()
	if a.startTime.IsZero() {
		a.startTime = time.Now()
	}
}

// Stop marks the end of the measured window. Only the first call counts.
func (a *Aggregator) Stop() {
	a.timeMu.Lock()
	defer a.timeMu.Unlock()
	if a.endTime.IsZero() {
		a.endTime = time.Now()
	}
}

// RecordPublish counts one message handed to the transport.
func (a *Aggregator) RecordPublish() {
	a.published.Add(1)
}

// RecordPublishError counts one publish the transport rejected.
func (a *Aggregator) RecordPublishError() {
	a.publishErrors.Add(1)
}

// RecordConnectFailure counts one session that never reached Connected.
func (a *Aggregator) RecordConnectFailure() {
	a.connectFailures.Add(1)
}

// RecordReceive accounts for one arrival.
//
// The received count always increases. Malformed events only bump the
// malformed count; decoded ones add a latency sample and advance the
// sequence tracker.
func (a *Aggregator) RecordReceive(ev ReceivedEvent) {
	a.received.Add(1)

	if ev.Malformed {
		a.malformed.Add(1)
		return
	}

	latency := ev.Latency()
	key := StreamKey{Receiver: ev.Receiver, Publisher: ev.Message.ClientID}

	a.mu.Lock()
	a.samples = append(a.samples, latency)
	a.recordHistogram(latency)
	a.sequences.Observe(key, ev.Message.MsgNum)
	a.mu.Unlock()
}

// recordHistogram must be called with a.mu held.
func (a *Aggregator) recordHistogram(latency time.Duration) {
	if latency < 0 {
		a.negatives++
	}
	micros := latency.Microseconds()
	if micros < histogramMin {
		micros = histogramMin
	}
	if micros > histogramMax {
		micros = histogramMax
	}
	_ = a.hist.RecordValue(micros)
}

// Published returns the number of messages published so far.
func (a *Aggregator) Published() int64 {
	return a.published.Load()
}

// Received returns the number of arrivals so far, malformed included.
func (a *Aggregator) Received() int64 {
	return a.received.Load()
}

// Malformed returns the number of arrivals that failed to decode.
func (a *Aggregator) Malformed() int64 {
	return a.malformed.Load()
}

// PublishErrors returns the number of rejected publishes.
func (a *Aggregator) PublishErrors() int64 {
	return a.publishErrors.Load()
}

// ConnectFailures returns the number of failed connection attempts.
func (a *Aggregator) ConnectFailures() int64 {
	return a.connectFailures.Load()
}

func (a *Aggregator) window() (start, end time.Time) {
	a.timeMu.RLock()
	defer a.timeMu.RUnlock()

	start, end = a.startTime, a.endTime
	if end.IsZero() {
		end = time.Now()
	}
	return start, end
}

// Snapshot returns a consistent copy of the raw state.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	samples := make([]time.Duration, len(a.samples))
	copy(samples, a.samples)
	a.mu.Unlock()

	a.timeMu.RLock()
	start, end := a.startTime, a.endTime
	a.timeMu.RUnlock()

	return Snapshot{
		Published:      a.published.Load(),
		Received:       a.received.Load(),
		Malformed:      a.malformed.Load(),
		LatencySamples: samples,
		StartTime:      start,
		EndTime:        end,
	}
}

// Live returns a cheap progress view suitable for frequent polling.
func (a *Aggregator) Live() Live {
	a.mu.Lock()
	p50 := time.Duration(a.hist.ValueAtQuantile(50)) * time.Microsecond
	p95 := time.Duration(a.hist.ValueAtQuantile(95)) * time.Microsecond
	samples := a.hist.TotalCount()
	a.mu.Unlock()

	start, end := a.window()
	var elapsed time.Duration
	if !start.IsZero() {
		elapsed = end.Sub(start)
	}

	live := Live{
		Published: a.published.Load(),
		Received:  a.received.Load(),
		Malformed: a.malformed.Load(),
		Samples:   samples,
		P50:       p50,
		P95:       p95,
		Elapsed:   elapsed,
	}
	if elapsed > 0 {
		live.PublishRate = float64(live.Published) / elapsed.Seconds()
		live.ReceiveRate = float64(live.Received) / elapsed.Seconds()
	}
	return live
}

// Summary computes the final report from everything recorded so far. It may
// be called at any time, including on a partial run.
func (a *Aggregator) Summary() Summary {
	a.mu.Lock()
	samples := make([]time.Duration, len(a.samples))
	copy(samples, a.samples)
	seq := a.sequences.Stats()
	negatives := a.negatives
	a.mu.Unlock()

	start, end := a.window()

	s := Summary{
		Published:         a.published.Load(),
		PublishErrors:     a.publishErrors.Load(),
		Received:          a.received.Load(),
		Malformed:         a.malformed.Load(),
		ConnectFailures:   a.connectFailures.Load(),
		Sequence:          seq,
		NegativeLatencies: negatives,
		StartTime:         start,
		EndTime:           end,
		Latency:           SummarizeLatencies(samples),
	}

	if !start.IsZero() {
		s.Duration = end.Sub(start)
	}
	if secs := s.Duration.Seconds(); secs > 0 {
		pub := float64(s.Published) / secs
		recv := float64(s.Received) / secs
		s.PublishRate = &pub
		s.ReceiveRate = &recv
	}

	return s
}

// Snapshot is a point-in-time copy of the aggregator's raw state.
type Snapshot struct {
	Published      int64           `json:"published"`
	Received       int64           `json:"received"`
	Malformed      int64           `json:"malformed"`
	LatencySamples []time.Duration `json:"latencySamples"`
	StartTime      time.Time       `json:"startTime"`
	EndTime        time.Time       `json:"endTime"`
}

// Live is the in-flight progress view.
type Live struct {
	Published   int64         `json:"published"`
	Received    int64         `json:"received"`
	Malformed   int64         `json:"malformed"`
	Samples     int64         `json:"samples"`
	P50         time.Duration `json:"p50"`
	P95         time.Duration `json:"p95"`
	PublishRate float64       `json:"publishRate"`
	ReceiveRate float64       `json:"receiveRate"`
	Elapsed     time.Duration `json:"elapsed"`
}

// Summary is the final report of a run.
type Summary struct {
	Published       int64 `json:"published"`
	PublishErrors   int64 `json:"publishErrors"`
	Received        int64 `json:"received"`
	Malformed       int64 `json:"malformed"`
	ConnectFailures int64 `json:"connectFailures"`

	Sequence SequenceStats `json:"sequence"`

	// NegativeLatencies counts samples where the receiver's clock was behind
	// the publisher's.
	NegativeLatencies int64 `json:"negativeLatencies"`

	StartTime time.Time     `json:"startTime"`
	EndTime   time.Time     `json:"endTime"`
	Duration  time.Duration `json:"duration"`

	// Rates are nil when Duration is zero.
	PublishRate *float64 `json:"publishRate,omitempty"`
	ReceiveRate *float64 `json:"receiveRate,omitempty"`

	// Latency is nil when no message was decoded.
	Latency *LatencySummary `json:"latency,omitempty"`
}
