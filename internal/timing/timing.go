// Package timing derives the farm's timing quantities from measured phase
// intervals and predicts the runtime of a round.
//
// All quantities are in seconds. K is the worker count, L the assumed one-way
// latency of a link, t_s the per-link send time, t_r the aggregate receive
// time, t_w the total work time and t_p the post-processing time. One round
// is predicted to take
//
//	K(L + t_s) + t_w/K + K·L + t_r + t_p
//
// that is: fan-out of the orders, the workers' parallel share of the work,
// fan-in latency, the measured receive cost and post-processing.
package timing

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrDomain indicates a quantity the model cannot extrapolate from.
	ErrDomain = errors.New("timing model domain error")
	// ErrNoSamples indicates that no measured round is available.
	ErrNoSamples = errors.New("no timing samples")
	// ErrNoWorkers indicates a worker count below one.
	ErrNoWorkers = errors.New("worker count must be >= 1")
)

// RoundTimings holds the intervals measured by the coordinator in one round
// and the quantities derived from them.
type RoundTimings struct {
	Round                int
	SendInterval         time.Duration
	ReceiveInterval      time.Duration
	PerLinkSendTime      float64
	AggregateReceiveTime float64
}

// NewRoundTimings derives t_s and t_r for a single round.
func NewRoundTimings(round int, send, receive time.Duration, workers int, latency float64) RoundTimings {
	return RoundTimings{
		Round:                round,
		SendInterval:         send,
		ReceiveInterval:      receive,
		PerLinkSendTime:      PerLinkSendTime(send, workers, latency),
		AggregateReceiveTime: AggregateReceiveTime(receive, workers, latency),
	}
}

// PerLinkSendTime removes the latency from the mean cost of one dispatch:
// sendInterval/K − L. workers must be >= 1.
func PerLinkSendTime(sendInterval time.Duration, workers int, latency float64) float64 {
	return sendInterval.Seconds()/float64(workers) - latency
}

// AggregateReceiveTime removes the cumulative latency of all links from the
// collection interval: receiveInterval − K·L.
func AggregateReceiveTime(receiveInterval time.Duration, workers int, latency float64) float64 {
	return receiveInterval.Seconds() - float64(workers)*latency
}

// MicrosToSeconds converts a configured duration in microseconds.
func MicrosToSeconds(micros int64) float64 {
	return float64(micros) / 1e6
}

// ScalingExponent returns log10(workTime / perLinkSendTime), the number of
// orders of magnitude by which work dominates a single dispatch.
func ScalingExponent(workTime, perLinkSendTime float64) (float64, error) {
	if perLinkSendTime <= 0 || math.IsNaN(perLinkSendTime) {
		return 0, fmt.Errorf("%w: per-link send time %g <= 0", ErrDomain, perLinkSendTime)
	}
	ratio := workTime / perLinkSendTime
	if ratio <= 0 || math.IsNaN(ratio) || math.IsInf(ratio, 0) {
		return 0, fmt.Errorf("%w: work/send ratio %g", ErrDomain, ratio)
	}
	return math.Log10(ratio), nil
}

// EstimateRound predicts the duration of one round.
func EstimateRound(workers int, latency, perLinkSend, work, aggregateReceive, process float64) float64 {
	k := float64(workers)
	return k*(latency+perLinkSend) + work/k + k*latency + aggregateReceive + process
}

// MeanIntervals averages the send and receive intervals of the given rounds.
func MeanIntervals(rounds []RoundTimings) (send, receive time.Duration, err error) {
	if len(rounds) == 0 {
		return 0, 0, ErrNoSamples
	}
	var sendSum, recvSum time.Duration
	for _, r := range rounds {
		sendSum += r.SendInterval
		recvSum += r.ReceiveInterval
	}
	n := time.Duration(len(rounds))
	return sendSum / n, recvSum / n, nil
}
