// Package progress defines the observer the scheduler pings with coarse
// run progress. The reporter is isolated on purpose: it can be absent, and
// a panicking or misbehaving reporter must never affect scheduling.
package progress

import "log/slog"

// Reporter receives (fraction in [0,1], stage label, current unit count,
// total unit count). It is called at least at run start and run end.
type Reporter func(fraction float64, stage string, current, total int)

// Notify invokes the reporter, swallowing panics. Failures are logged and
// otherwise ignored.
func Notify(logger *slog.Logger, r Reporter, fraction float64, stage string, current, total int) {
	if r == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			if logger != nil {
				logger.Warn("progress reporter panicked", "stage", stage, "panic", rec)
			}
		}
	}()
	r(fraction, stage, current, total)
}
