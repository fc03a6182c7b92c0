package collector

import (
	"testing"
	"time"
)

func TestTolerances_NilPasses(t *testing.T) {
	var tol *Tolerances
	res := tol.Check(sampleReport())
	if !res.Passed || len(res.Results) != 0 {
		t.Errorf("expected nil tolerances to pass with no results, got %+v", res)
	}
}

func TestTolerances_EstimateError(t *testing.T) {
	r := sampleReport() // 0.44 estimated vs 0.45 measured: 2.2%

	res := (&Tolerances{EstimateError: "5%"}).Check(r)
	if !res.Passed {
		t.Errorf("expected pass, got %+v", res.Results)
	}

	res = (&Tolerances{EstimateError: "1%"}).Check(r)
	if res.Passed {
		t.Error("expected failure for 1% tolerance")
	}
	if len(res.Violations()) != 1 {
		t.Errorf("expected 1 violation, got %d", len(res.Violations()))
	}
}

func TestTolerances_InvalidPercentageFails(t *testing.T) {
	res := (&Tolerances{EstimateError: "five"}).Check(sampleReport())
	if res.Passed {
		t.Error("expected malformed tolerance to fail")
	}
}

func TestTolerances_ScalingExponent(t *testing.T) {
	min := 2.5
	res := (&Tolerances{MinScalingExponent: &min}).Check(sampleReport())
	if !res.Passed {
		t.Errorf("expected pass for exponent 3 >= 2.5, got %+v", res.Results)
	}

	r := sampleReport()
	r.ScalingExponent = nil
	res = (&Tolerances{MinScalingExponent: &min}).Check(r)
	if res.Passed {
		t.Error("expected undefined exponent to fail")
	}
	if res.Results[0].Actual != "undefined" {
		t.Errorf("expected actual 'undefined', got %q", res.Results[0].Actual)
	}
}

func TestTolerances_MaxRuntime(t *testing.T) {
	res := (&Tolerances{MaxRuntime: time.Second}).Check(sampleReport())
	if !res.Passed {
		t.Errorf("expected 450ms < 1s to pass, got %+v", res.Results)
	}
	res = (&Tolerances{MaxRuntime: 100 * time.Millisecond}).Check(sampleReport())
	if res.Passed {
		t.Error("expected 450ms runtime to exceed 100ms")
	}
}

func TestFormatDuration(t *testing.T) {
	cases := map[time.Duration]string{
		500 * time.Microsecond:  "500µs",
		20 * time.Millisecond:   "20ms",
		1500 * time.Millisecond: "1.5s",
		90 * time.Second:        "1m30s",
	}
	for d, want := range cases {
		if got := FormatDuration(d); got != want {
			t.Errorf("FormatDuration(%v) = %q, want %q", d, got, want)
		}
	}
}
