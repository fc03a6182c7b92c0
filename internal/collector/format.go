package collector

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"bsfsim/internal/core"
	"bsfsim/internal/timing"
)

// FormatText writes the run results in human-readable format.
func FormatText(w io.Writer, r *timing.Report, m *Metrics, tol *ToleranceResults) {
	if r == nil {
		fmt.Fprintln(w, "No rounds measured")
		return
	}

	v := "undefined"
	if r.ScalingExponent != nil {
		v = fmt.Sprintf("%g", *r.ScalingExponent)
	}

	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "BSF Simulator - Run Results")
	fmt.Fprintln(w, "==============================")
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "Group size:        %d\n", r.GroupSize)
	fmt.Fprintf(w, "Workers:           %d\n", r.WorkerCount)
	fmt.Fprintf(w, "Rounds:            %d\n", r.Rounds)
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "LATENCY = %g\n", r.AssumedLatency)
	fmt.Fprintf(w, "t_s = %g\n", r.PerLinkSendTime)
	fmt.Fprintf(w, "t_w = %g\n", r.WorkTime)
	fmt.Fprintf(w, "t_r = %g\n", r.AggregateReceiveTime)
	fmt.Fprintf(w, "t_p = %g\n", r.ProcessTime)
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "Real runtime = %g\n", r.MeasuredRuntime)
	fmt.Fprintf(w, "Estimated runtime = %g\n", r.EstimatedRuntime)
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "v = log10(t_w / t_s) = %s\n", v)

	if m != nil && len(m.Phases) > 0 {
		fmt.Fprintln(w, "")
		fmt.Fprintln(w, "By Phase:")
		for _, phase := range sortedPhases(m) {
			pm := m.Phases[phase]
			fmt.Fprintf(w, "  %-10s %4d samples   avg=%s  p95=%s  max=%s\n",
				phase, pm.Count,
				FormatDuration(pm.Duration.Avg),
				FormatDuration(pm.Duration.P95),
				FormatDuration(pm.Duration.Max))
		}
	}

	if tol != nil && len(tol.Results) > 0 {
		fmt.Fprintln(w, "")
		fmt.Fprintln(w, "Tolerances:")
		for _, result := range tol.Results {
			symbol := "✓"
			if !result.Passed {
				symbol = "✗"
			}
			fmt.Fprintf(w, "  %s %s %s (actual: %s)\n",
				symbol, result.Name, result.Threshold, result.Actual)
		}
	}

	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "======================================")
	fmt.Fprintln(w, "t_s\tv\truntime")
	fmt.Fprintf(w, "%g\t%s\t%g\n", r.PerLinkSendTime, v, r.MeasuredRuntime)
}

// FormatJSON writes the run results in JSON format.
func FormatJSON(w io.Writer, r *timing.Report, m *Metrics, tol *ToleranceResults) {
	output := struct {
		Report     *timing.Report           `json:"report"`
		Phases     map[core.Phase]jsonPhase `json:"phases,omitempty"`
		Tolerances *ToleranceResults        `json:"tolerances,omitempty"`
	}{
		Report:     r,
		Phases:     make(map[core.Phase]jsonPhase),
		Tolerances: tol,
	}

	if m != nil {
		for phase, pm := range m.Phases {
			output.Phases[phase] = jsonPhase{
				Count:     pm.Count,
				Bytes:     pm.Bytes,
				Durations: toJSONDurationMetrics(pm.Duration),
			}
		}
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	_ = encoder.Encode(output) // stdout errors are unrecoverable
}

type jsonDurationMetrics struct {
	Min string `json:"min"`
	Max string `json:"max"`
	Avg string `json:"avg"`
	P50 string `json:"p50"`
	P90 string `json:"p90"`
	P95 string `json:"p95"`
	P99 string `json:"p99"`
}

type jsonPhase struct {
	Count     int                 `json:"count"`
	Bytes     int64               `json:"bytes"`
	Durations jsonDurationMetrics `json:"durations"`
}

func toJSONDurationMetrics(d DurationMetrics) jsonDurationMetrics {
	return jsonDurationMetrics{
		Min: FormatDuration(d.Min),
		Max: FormatDuration(d.Max),
		Avg: FormatDuration(d.Avg),
		P50: FormatDuration(d.P50),
		P90: FormatDuration(d.P90),
		P95: FormatDuration(d.P95),
		P99: FormatDuration(d.P99),
	}
}

var phaseOrder = map[core.Phase]int{
	core.PhaseDispatch: 0,
	core.PhaseWork:     1,
	core.PhaseCollect:  2,
	core.PhaseProcess:  3,
}

func sortedPhases(m *Metrics) []core.Phase {
	phases := make([]core.Phase, 0, len(m.Phases))
	for p := range m.Phases {
		phases = append(phases, p)
	}
	sort.Slice(phases, func(i, j int) bool {
		oi, iok := phaseOrder[phases[i]]
		oj, jok := phaseOrder[phases[j]]
		if iok && jok {
			return oi < oj
		}
		if iok != jok {
			return iok
		}
		return phases[i] < phases[j]
	})
	return phases
}
