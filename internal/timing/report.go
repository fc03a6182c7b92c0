package timing

import (
	"fmt"
	"math"
	"time"
)

// Inputs are everything the model needs once the rounds are over.
type Inputs struct {
	GroupSize     int
	Rounds        []RoundTimings
	Latency       float64
	WorkMicros    int64
	ProcessMicros int64
	Measured      time.Duration
}

// Report is the result of a run.
type Report struct {
	GroupSize            int     `json:"groupSize"`
	WorkerCount          int     `json:"workerCount"`
	Rounds               int     `json:"rounds"`
	AssumedLatency       float64 `json:"assumedLatency"`
	PerLinkSendTime      float64 `json:"perLinkSendTime"`
	WorkTime             float64 `json:"workTime"`
	AggregateReceiveTime float64 `json:"aggregateReceiveTime"`
	ProcessTime          float64 `json:"processTime"`
	MeasuredRuntime      float64 `json:"measuredRuntime"`
	RoundEstimate        float64 `json:"roundEstimate"`
	EstimatedRuntime     float64 `json:"estimatedRuntime"`
	// ScalingExponent is nil when the exponent is undefined.
	ScalingExponent *float64 `json:"scalingExponent"`

	RoundTimings []RoundTimings `json:"-"`
}

// Build derives the report from the measured rounds.
//
// A configuration the model cannot handle (no rounds, no workers) returns a
// nil report. When only the scaling exponent is out of domain the report is
// returned complete except for the exponent, together with an error wrapping
// ErrDomain.
func Build(in Inputs) (*Report, error) {
	workers := in.GroupSize - 1
	if workers < 1 {
		return nil, fmt.Errorf("%w: group size %d", ErrNoWorkers, in.GroupSize)
	}
	send, receive, err := MeanIntervals(in.Rounds)
	if err != nil {
		return nil, err
	}

	r := &Report{
		GroupSize:            in.GroupSize,
		WorkerCount:          workers,
		Rounds:               len(in.Rounds),
		AssumedLatency:       in.Latency,
		PerLinkSendTime:      PerLinkSendTime(send, workers, in.Latency),
		WorkTime:             MicrosToSeconds(in.WorkMicros),
		AggregateReceiveTime: AggregateReceiveTime(receive, workers, in.Latency),
		ProcessTime:          MicrosToSeconds(in.ProcessMicros),
		MeasuredRuntime:      in.Measured.Seconds(),
		RoundTimings:         in.Rounds,
	}
	r.RoundEstimate = EstimateRound(workers, r.AssumedLatency, r.PerLinkSendTime,
		r.WorkTime, r.AggregateReceiveTime, r.ProcessTime)
	r.EstimatedRuntime = float64(r.Rounds) * r.RoundEstimate

	v, err := ScalingExponent(r.WorkTime, r.PerLinkSendTime)
	if err != nil {
		return r, err
	}
	r.ScalingExponent = &v
	return r, nil
}

// EstimateError returns |estimated − measured| / measured.
func (r *Report) EstimateError() float64 {
	if r.MeasuredRuntime <= 0 {
		return math.Inf(1)
	}
	return math.Abs(r.EstimatedRuntime-r.MeasuredRuntime) / r.MeasuredRuntime
}
