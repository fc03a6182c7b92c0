package collector

import (
	"sort"
	"time"

	"bsfsim/internal/core"
)

// Metrics contains aggregated samples of a run.
type Metrics struct {
	Samples  int                          `json:"samples"`
	Rounds   int                          `json:"rounds"`
	Elapsed  time.Duration                `json:"elapsed"`
	Phases   map[core.Phase]*PhaseMetrics `json:"phases"`
	LastSeen map[core.Phase]time.Duration `json:"-"`
}

// PhaseMetrics contains per-phase statistics.
type PhaseMetrics struct {
	Count    int             `json:"count"`
	Bytes    int64           `json:"bytes"`
	Duration DurationMetrics `json:"durations"`
}

// DurationMetrics contains duration statistics.
type DurationMetrics struct {
	Min time.Duration `json:"min"`
	Max time.Duration `json:"max"`
	Avg time.Duration `json:"avg"`
	P50 time.Duration `json:"p50"`
	P90 time.Duration `json:"p90"`
	P95 time.Duration `json:"p95"`
	P99 time.Duration `json:"p99"`
}

// ComputeMetrics computes metrics from samples. Pure function, no side effects.
func ComputeMetrics(samples []core.Sample, elapsed time.Duration) *Metrics {
	m := &Metrics{
		Phases:   make(map[core.Phase]*PhaseMetrics),
		LastSeen: make(map[core.Phase]time.Duration),
		Elapsed:  elapsed,
	}

	if len(samples) == 0 {
		return m
	}

	phaseDurations := make(map[core.Phase][]time.Duration)
	rounds := make(map[int]struct{})

	for _, s := range samples {
		m.Samples++
		rounds[s.Round] = struct{}{}

		pm, ok := m.Phases[s.Phase]
		if !ok {
			pm = &PhaseMetrics{}
			m.Phases[s.Phase] = pm
		}
		pm.Count++
		pm.Bytes += s.Bytes
		phaseDurations[s.Phase] = append(phaseDurations[s.Phase], s.Duration)
		m.LastSeen[s.Phase] = s.Duration
	}
	m.Rounds = len(rounds)

	for phase, durations := range phaseDurations {
		m.Phases[phase].Duration = ComputeDurationMetrics(durations)
	}

	return m
}

// ComputePercentile calculates the percentile value from a sorted slice of durations.
// The percentile p should be between 0 and 1 (e.g., 0.95 for p95).
// The slice must be sorted in ascending order.
func ComputePercentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[len(sorted)-1]
	}

	// Use the "nearest rank" method
	index := int(float64(len(sorted)-1) * p)
	return sorted[index]
}

// ComputeDurationMetrics calculates all duration statistics from a slice of durations.
func ComputeDurationMetrics(durations []time.Duration) DurationMetrics {
	if len(durations) == 0 {
		return DurationMetrics{}
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	var total time.Duration
	for _, d := range sorted {
		total += d
	}

	return DurationMetrics{
		Min: sorted[0],
		Max: sorted[len(sorted)-1],
		Avg: total / time.Duration(len(sorted)),
		P50: ComputePercentile(sorted, 0.50),
		P90: ComputePercentile(sorted, 0.90),
		P95: ComputePercentile(sorted, 0.95),
		P99: ComputePercentile(sorted, 0.99),
	}
}
