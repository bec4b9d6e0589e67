// Package lifecycle ties process shutdown to OS termination signals.
package lifecycle

import (
	"context"
	"os/signal"
)

// SignalContext returns a context cancelled on the first termination signal.
// The returned stop function restores default signal handling, so a second
// signal kills the process.
func SignalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, TerminationSignals()...)
}
