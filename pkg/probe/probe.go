// Package probe runs the startup checks behind the "check" command and "run".
package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// DefaultTimeout bounds a probe that sets no Timeout of its own.
const DefaultTimeout = 10 * time.Second

// CheckFunc returns nil if the check passes.
type CheckFunc func(ctx context.Context) error

// Probe is a single startup check.
type Probe struct {
	Name     string
	Check    CheckFunc
	Critical bool // a failure aborts the command
	Timeout  time.Duration
}

// Result holds the outcome of a single probe.
type Result struct {
	Probe    Probe
	Error    error
	Duration time.Duration
}

// Run executes probes in order, each under its own timeout.
func Run(ctx context.Context, probes []Probe) []Result {
	results := make([]Result, len(probes))
	for i, p := range probes {
		timeout := p.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		start := time.Now()
		pctx, cancel := context.WithTimeout(ctx, timeout)
		err := p.Check(pctx)
		cancel()
		results[i] = Result{Probe: p, Error: err, Duration: time.Since(start)}
	}
	return results
}

// AnalyzeResults logs every result and joins the errors of failed critical probes.
func AnalyzeResults(logger *slog.Logger, results []Result) error {
	if logger == nil {
		logger = slog.Default()
	}
	var criticalErrors []error

	logger.Info("Startup Checks Summary")
	for _, r := range results {
		status := "PASS"
		if r.Error != nil {
			status = "FAIL"
		}
		msg := fmt.Sprintf("[%s] %-20s (%v)", status, r.Probe.Name, r.Duration.Round(time.Millisecond))

		if r.Error == nil {
			logger.Info(msg)
			continue
		}
		if r.Probe.Critical {
			logger.Error(msg, "error", r.Error)
			criticalErrors = append(criticalErrors, fmt.Errorf("%s: %w", r.Probe.Name, r.Error))
		} else {
			logger.Warn(msg, "error", r.Error)
		}
	}
	return errors.Join(criticalErrors...)
}
