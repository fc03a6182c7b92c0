package collector

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"bsfsim/internal/timing"
)

// Tolerances defines pass/fail criteria for a run.
type Tolerances struct {
	// EstimateError bounds |estimated − measured| / measured, e.g. "25%".
	EstimateError      string        `yaml:"estimate_error"`
	MinScalingExponent *float64      `yaml:"min_scaling_exponent"`
	MaxRuntime         time.Duration `yaml:"max_runtime"`
}

// ToleranceResult represents the outcome of a single check.
type ToleranceResult struct {
	Name      string `json:"name"`
	Passed    bool   `json:"passed"`
	Threshold string `json:"threshold"`
	Actual    string `json:"actual"`
}

// ToleranceResults contains all check results.
type ToleranceResults struct {
	Passed  bool              `json:"passed"`
	Results []ToleranceResult `json:"results"`
}

// Check evaluates all tolerances against a report.
func (t *Tolerances) Check(r *timing.Report) *ToleranceResults {
	if t == nil {
		return &ToleranceResults{Passed: true, Results: nil}
	}

	results := &ToleranceResults{
		Passed:  true,
		Results: make([]ToleranceResult, 0),
	}

	if t.EstimateError != "" {
		results.checkEstimateError(t.EstimateError, r)
	}
	if t.MinScalingExponent != nil {
		results.checkScalingExponent(*t.MinScalingExponent, r)
	}
	if t.MaxRuntime > 0 {
		actual := time.Duration(r.MeasuredRuntime * float64(time.Second))
		results.add(ToleranceResult{
			Name:      "runtime.max",
			Passed:    actual < t.MaxRuntime,
			Threshold: FormatDuration(t.MaxRuntime),
			Actual:    FormatDuration(actual),
		})
	}

	return results
}

func (r *ToleranceResults) add(res ToleranceResult) {
	if !res.Passed {
		r.Passed = false
	}
	r.Results = append(r.Results, res)
}

func (r *ToleranceResults) checkEstimateError(limit string, rep *timing.Report) {
	limitPct, err := parsePercentage(limit)
	if err != nil {
		r.add(ToleranceResult{
			Name:      "estimate.error",
			Passed:    false,
			Threshold: limit,
			Actual:    err.Error(),
		})
		return
	}

	actualPct := rep.EstimateError() * 100
	r.add(ToleranceResult{
		Name:      "estimate.error",
		Passed:    actualPct < limitPct,
		Threshold: limit,
		Actual:    fmt.Sprintf("%.2f%%", actualPct),
	})
}

func (r *ToleranceResults) checkScalingExponent(min float64, rep *timing.Report) {
	res := ToleranceResult{
		Name:      "scaling_exponent.min",
		Threshold: strconv.FormatFloat(min, 'g', -1, 64),
		Actual:    "undefined",
	}
	if v := rep.ScalingExponent; v != nil {
		res.Passed = *v >= min
		res.Actual = strconv.FormatFloat(*v, 'f', 3, 64)
	}
	r.add(res)
}

func parsePercentage(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if !strings.HasSuffix(s, "%") {
		return 0, fmt.Errorf("invalid percentage format: %s", s)
	}
	s = strings.TrimSuffix(s, "%")
	return strconv.ParseFloat(s, 64)
}

// FormatDuration formats a duration for display.
func FormatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return fmt.Sprintf("%dµs", d.Microseconds())
	}
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return d.Round(time.Second).String()
}

// Violations returns only the failed results.
func (r *ToleranceResults) Violations() []ToleranceResult {
	violations := make([]ToleranceResult, 0)
	for _, result := range r.Results {
		if !result.Passed {
			violations = append(violations, result)
		}
	}
	return violations
}
