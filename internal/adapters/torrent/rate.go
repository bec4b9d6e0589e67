package torrent

import (
	"sync"
	"time"
)

const (
	sampleInterval = time.Second
	rateSamples    = 5
)

type counterSample struct {
	at      time.Time
	read    int64
	written int64
}

// rateWindow keeps the last few counter samples and reports throughput
// across the span they cover.
type rateWindow struct {
	mu      sync.Mutex
	samples []counterSample
	size    int
}

func newRateWindow(size int) *rateWindow {
	return &rateWindow{size: max(size, 2)}
}

func (w *rateWindow) add(at time.Time, read, written int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.samples = append(w.samples, counterSample{at: at, read: read, written: written})
	if len(w.samples) > w.size {
		w.samples = w.samples[len(w.samples)-w.size:]
	}
}

// rates returns bytes per second down and up. Fewer than two samples or a
// counter that went backwards read as zero.
func (w *rateWindow) rates() (down, up float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.samples) < 2 {
		return 0, 0
	}
	first, last := w.samples[0], w.samples[len(w.samples)-1]
	elapsed := last.at.Sub(first.at).Seconds()
	if elapsed <= 0 {
		return 0, 0
	}
	down = float64(last.read-first.read) / elapsed
	up = float64(last.written-first.written) / elapsed
	return max(down, 0), max(up, 0)
}
