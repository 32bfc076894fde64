package detect

import (
	"math"
	"sort"
	"sync"
	"time"
)

// perfWindowSize bounds the rolling sample so percentile math stays cheap
// and memory stays fixed.
const perfWindowSize = 1000

// PerformanceWindow is a fixed-size ring of recent processing durations
// used by the adaptive tuner and the stats endpoint to derive the moving
// average and P99.
type PerformanceWindow struct {
	mu      sync.RWMutex
	samples []float64 // milliseconds
	next    int
	filled  bool
}

// NewPerformanceWindow creates an empty window.
func NewPerformanceWindow() *PerformanceWindow {
	return &PerformanceWindow{
		samples: make([]float64, perfWindowSize),
	}
}

// Record adds one processing duration to the window, overwriting the
// oldest sample once full.
func (pw *PerformanceWindow) Record(d time.Duration) {
	ms := float64(d.Microseconds()) / 1000.0

	pw.mu.Lock()
	defer pw.mu.Unlock()

	pw.samples[pw.next] = ms
	pw.next++
	if pw.next == len(pw.samples) {
		pw.next = 0
		pw.filled = true
	}
}

// Count returns the number of valid samples.
func (pw *PerformanceWindow) Count() int {
	pw.mu.RLock()
	defer pw.mu.RUnlock()
	if pw.filled {
		return len(pw.samples)
	}
	return pw.next
}

// AverageMs returns the moving average over the window, 0 when empty.
func (pw *PerformanceWindow) AverageMs() float64 {
	pw.mu.RLock()
	defer pw.mu.RUnlock()

	n := pw.next
	if pw.filled {
		n = len(pw.samples)
	}
	if n == 0 {
		return 0
	}

	sum := 0.0
	for i := 0; i < n; i++ {
		sum += pw.samples[i]
	}
	return sum / float64(n)
}

// P99Ms returns the 99th percentile processing time, 0 when empty.
func (pw *PerformanceWindow) P99Ms() float64 {
	return pw.percentile(0.99)
}

// percentile computes the given percentile over a sorted copy of the
// valid samples (nearest-rank on a zero-based index).
func (pw *PerformanceWindow) percentile(p float64) float64 {
	pw.mu.RLock()
	n := pw.next
	if pw.filled {
		n = len(pw.samples)
	}
	if n == 0 {
		pw.mu.RUnlock()
		return 0
	}
	sorted := make([]float64, n)
	copy(sorted, pw.samples[:n])
	pw.mu.RUnlock()

	sort.Float64s(sorted)
	idx := int(math.Ceil(p*float64(n))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= n {
		idx = n - 1
	}
	return sorted[idx]
}
