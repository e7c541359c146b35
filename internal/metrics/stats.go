package metrics

import (
	"sort"
	"time"
)

// MinPercentileSamples is the sample count below which percentiles are
// not reported.
const MinPercentileSamples = 100

// LatencySummary describes the distribution of end-to-end latencies.
type LatencySummary struct {
	Count  int           `json:"count"`
	Min    time.Duration `json:"min"`
	Max    time.Duration `json:"max"`
	Mean   time.Duration `json:"mean"`
	Median time.Duration `json:"median"`

	// P90 and P99 are nil below MinPercentileSamples samples.
	P90 *time.Duration `json:"p90,omitempty"`
	P99 *time.Duration `json:"p99,omitempty"`
}

// SummarizeLatencies computes the latency summary of samples. It returns nil
// for an empty slice. samples is not modified.
func SummarizeLatencies(samples []time.Duration) *LatencySummary {
	n := len(samples)
	if n == 0 {
		return nil
	}

	sorted := make([]time.Duration, n)
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum float64
	for _, d := range sorted {
		sum += float64(d)
	}

	s := &LatencySummary{
		Count:  n,
		Min:    sorted[0],
		Max:    sorted[n-1],
		Mean:   time.Duration(sum / float64(n)),
		Median: median(sorted),
	}

	if n >= MinPercentileSamples {
		p90 := quantile(sorted, 9, 10)
		p99 := quantile(sorted, 99, 100)
		s.P90 = &p90
		s.P99 = &p99
	}

	return s
}

// median of an ascending slice; the mean of the middle pair when even.
func median(sorted []time.Duration) time.Duration {
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return time.Duration((float64(sorted[n/2-1]) + float64(sorted[n/2])) / 2)
}

// quantile returns the i-th of the n-1 cut points dividing sorted into n
// equal groups, using the exclusive method: positions are i*(len+1)/n with
// linear interpolation between neighbours. sorted must hold at least two
// values.
func quantile(sorted []time.Duration, i, n int) time.Duration {
	ld := len(sorted)
	m := ld + 1

	j := i * m / n
	if j < 1 {
		j = 1
	} else if j > ld-1 {
		j = ld - 1
	}
	delta := i*m - j*n

	v := (float64(sorted[j-1])*float64(n-delta) + float64(sorted[j])*float64(delta)) / float64(n)
	return time.Duration(v)
}
