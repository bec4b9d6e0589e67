package lifecycle

import (
	"context"
	"os"
	"testing"
)

func TestSignalContextFollowsParent(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	ctx, stop := SignalContext(parent)
	defer stop()

	if ctx.Err() != nil {
		t.Fatal("context cancelled before any signal")
	}
	cancel()
	<-ctx.Done()
}

func TestTerminationSignalsIncludeInterrupt(t *testing.T) {
	for _, s := range TerminationSignals() {
		if s == os.Interrupt {
			return
		}
	}
	t.Fatal("interrupt is not a termination signal")
}
