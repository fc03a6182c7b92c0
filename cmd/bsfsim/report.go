package main

import (
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"bsfsim/internal/collector"
	"bsfsim/internal/config"
	"bsfsim/internal/timing"
)

// printReport writes the coordinator's results and decides the outcome of the
// run. runErr is the error returned together with the report.
func printReport(w io.Writer, o *options, cfg *config.Config, report *timing.Report, m *collector.Metrics, runErr error, logger *zap.Logger) error {
	if runErr != nil && !errors.Is(runErr, timing.ErrDomain) {
		return runErr
	}

	var tol *collector.ToleranceResults
	if cfg.Tolerances != nil && report != nil {
		tol = cfg.Tolerances.Check(report)
	}

	if o.output == "json" {
		collector.FormatJSON(w, report, m, tol)
	} else {
		collector.FormatText(w, report, m, tol)
	}

	if runErr != nil {
		logger.Warn("scaling exponent undefined", zap.Error(runErr))
		return fmt.Errorf("%w: %v", errCheckFailed, runErr)
	}
	if tol != nil && !tol.Passed {
		return fmt.Errorf("%w: %d tolerance(s) violated", errCheckFailed, len(tol.Violations()))
	}
	return nil
}
