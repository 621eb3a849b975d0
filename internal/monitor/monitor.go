// Package monitor implements the three concrete source monitors that
// the supervisor owns: EventLogMonitor, FileLogMonitor, and
// TraceMonitor. Each exposes the same narrow capability the supervisor
// consumes: start, stop, nothing else.
package monitor

import "context"

// Monitor is the capability every concrete source exposes to the
// supervisor. Start must not block past the point where the monitor's
// worker goroutines are launched; long-lived work happens on those
// goroutines. Stop must not return until in-flight record writes have
// completed and owned OS handles are released.
type Monitor interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
