package logging

import "log/slog"

// EnableTrace turns on per-entity debug output: skipped statements, label
// lookups and cache hits. Set by the --trace flag.
var EnableTrace = false

// Trace logs at DEBUG when EnableTrace is set.
func Trace(logger *slog.Logger, msg string, args ...any) {
	if !EnableTrace {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug(msg, args...)
}
