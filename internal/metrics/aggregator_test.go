package metrics

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/surge/internal/payload"
)

func encode(t *testing.T, clientID string, seq int64, at time.Time) []byte {
	t.Helper()
	b, err := payload.NewMessage(clientID, seq, at, 100).Encode()
	require.NoError(t, err)
	return b
}

func TestAggregator_ConcurrentRecording(t *testing.T) {
	for _, tasks := range []int{1, 10, 100} {
		t.Run(fmt.Sprintf("%d tasks", tasks), func(t *testing.T) {
			a := NewAggregator()
			a.Start()

			const perTask = 50
			var wg sync.WaitGroup
			for i := 0; i < tasks; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					id := fmt.Sprintf("publisher-%05d", i+1)
					for seq := int64(1); seq <= perTask; seq++ {
						a.RecordPublish()
						now := time.Now()
						a.RecordReceive(DecodeEvent(nil, "subscriber-01", "t", encode(t, id, seq, now), now))
					}
				}(i)
			}
			wg.Wait()
			a.Stop()

			want := int64(tasks * perTask)
			s := a.Summary()
			assert.Equal(t, want, s.Published)
			assert.Equal(t, want, s.Received)
			require.NotNil(t, s.Latency)
			assert.Equal(t, int(want), s.Latency.Count)
			assert.Equal(t, int64(0), s.Sequence.Gaps)
			assert.Equal(t, tasks, s.Sequence.Publishers)
		})
	}
}

func TestAggregator_MalformedOnSecondOfThree(t *testing.T) {
	a := NewAggregator()
	a.Start()

	now := time.Now()
	a.RecordReceive(DecodeEvent(nil, "subscriber-01", "t", encode(t, "publisher-00001", 1, now), now))
	a.RecordReceive(DecodeEvent(nil, "subscriber-01", "t", []byte("\xff not json"), now))
	a.RecordReceive(DecodeEvent(nil, "subscriber-01", "t", encode(t, "publisher-00001", 3, now), now))

	snap := a.Snapshot()
	assert.Equal(t, int64(3), snap.Received)
	assert.Equal(t, int64(1), snap.Malformed)
	assert.Len(t, snap.LatencySamples, 2)

	// the malformed message is not seen by the tracker, so 1 -> 3 is a gap
	s := a.Summary()
	assert.Equal(t, int64(1), s.Sequence.Gaps)
}

func TestAggregator_LatencyNonNegative(t *testing.T) {
	a := NewAggregator()
	a.Start()

	sent := time.Now()
	for i := int64(1); i <= 20; i++ {
		recv := sent.Add(time.Duration(i) * time.Millisecond)
		a.RecordReceive(DecodeEvent(nil, "s", "t", encode(t, "p", i, sent), recv))
	}

	for _, d := range a.Snapshot().LatencySamples {
		if d < 0 {
			t.Errorf("negative latency %v for arrival after send", d)
		}
	}
	assert.Equal(t, int64(0), a.Summary().NegativeLatencies)
}

func TestAggregator_NegativeLatencyCounted(t *testing.T) {
	a := NewAggregator()
	now := time.Now()
	a.RecordReceive(DecodeEvent(nil, "s", "t", encode(t, "p", 1, now.Add(time.Second)), now))

	s := a.Summary()
	assert.Equal(t, int64(1), s.NegativeLatencies)
	require.NotNil(t, s.Latency)
	assert.Less(t, s.Latency.Min, time.Duration(0))
}

func TestAggregator_RatesOmittedWithoutDuration(t *testing.T) {
	a := NewAggregator()
	a.RecordPublish()

	s := a.Summary()
	assert.Equal(t, time.Duration(0), s.Duration)
	assert.Nil(t, s.PublishRate)
	assert.Nil(t, s.ReceiveRate)
	assert.Nil(t, s.Latency)
}

func TestAggregator_Rates(t *testing.T) {
	a := NewAggregator()
	a.Start()
	for i := 0; i < 10; i++ {
		a.RecordPublish()
	}
	time.Sleep(20 * time.Millisecond)
	a.Stop()

	s := a.Summary()
	require.NotNil(t, s.PublishRate)
	assert.Greater(t, *s.PublishRate, 0.0)
	assert.InDelta(t, float64(10)/s.Duration.Seconds(), *s.PublishRate, 1e-9)

	// Stop is sticky
	first := s.EndTime
	a.Stop()
	assert.Equal(t, first, a.Summary().EndTime)
}

func TestAggregator_PercentilesOnlyWithEnoughSamples(t *testing.T) {
	a := NewAggregator()
	now := time.Now()

	for i := int64(1); i <= 99; i++ {
		a.RecordReceive(DecodeEvent(nil, "s", "t", encode(t, "p", i, now), now.Add(time.Millisecond)))
	}
	s := a.Summary()
	require.NotNil(t, s.Latency)
	assert.Nil(t, s.Latency.P90)

	a.RecordReceive(DecodeEvent(nil, "s", "t", encode(t, "p", 100, now), now.Add(time.Millisecond)))
	s = a.Summary()
	assert.NotNil(t, s.Latency.P90)
	assert.NotNil(t, s.Latency.P99)
}

func TestAggregator_Live(t *testing.T) {
	a := NewAggregator()
	a.Start()
	now := time.Now()
	for i := int64(1); i <= 10; i++ {
		a.RecordPublish()
		a.RecordReceive(DecodeEvent(nil, "s", "t", encode(t, "p", i, now), now.Add(5*time.Millisecond)))
	}

	live := a.Live()
	assert.Equal(t, int64(10), live.Published)
	assert.Equal(t, int64(10), live.Samples)
	assert.InDelta(t, float64(5*time.Millisecond), float64(live.P95), float64(100*time.Microsecond))
}

func TestAggregator_ConnectFailuresAndPublishErrors(t *testing.T) {
	a := NewAggregator()
	a.RecordConnectFailure()
	a.RecordConnectFailure()
	a.RecordPublishError()

	s := a.Summary()
	assert.Equal(t, int64(2), s.ConnectFailures)
	assert.Equal(t, int64(1), s.PublishErrors)
	assert.Equal(t, int64(2), a.ConnectFailures())
}

func TestDecodeEvent_CustomDecoder(t *testing.T) {
	strict, err := payload.NewStrictDecoder()
	require.NoError(t, err)

	ev := DecodeEvent(strict, "s", "t", []byte(`{"client_id":"p","msg_num":1,"timestamp":1,"data":"","extra":true}`), time.Now())
	assert.True(t, ev.Malformed)
	assert.ErrorIs(t, ev.Err, payload.ErrMalformed)

	ev = DecodeEvent(nil, "s", "t", []byte(`{"client_id":"p","msg_num":1,"timestamp":1,"data":"","extra":true}`), time.Now())
	assert.False(t, ev.Malformed)
}
