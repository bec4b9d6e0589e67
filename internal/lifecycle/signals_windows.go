//go:build windows

package lifecycle

import "os"

// TerminationSignals are the signals that start a graceful shutdown.
func TerminationSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}
