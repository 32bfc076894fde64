package detect

import (
	"context"
	"sync"
	"testing"
	"time"

	"argus/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flushRecorder captures flushed batches.
type flushRecorder struct {
	mu      sync.Mutex
	batches [][]*core.Event
}

func (f *flushRecorder) flush(ctx context.Context, events []*core.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, events)
}

func (f *flushRecorder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

func (f *flushRecorder) sizes() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int, len(f.batches))
	for i, b := range f.batches {
		out[i] = len(b)
	}
	return out
}

func TestBatchFlushesAtSize(t *testing.T) {
	rc := NewRuntimeConfig(testConfig(t))
	require.NoError(t, rc.Apply(&RuntimeOverrides{BatchSize: intPtr(3)}))

	rec := &flushRecorder{}
	batch := NewBatchAggregator(rc, rec.flush, testLogger(t))
	defer batch.Stop()

	batch.Add(testEvent("a", "s"))
	batch.Add(testEvent("b", "s"))
	assert.Equal(t, 2, batch.PendingCount())
	assert.Zero(t, rec.count())

	batch.Add(testEvent("c", "s"))

	waitForCondition(t, func() bool {
		return rec.count() == 1
	}, 2*time.Second, "full batch to flush")
	assert.Equal(t, []int{3}, rec.sizes())
	assert.Zero(t, batch.PendingCount())
}

func TestBatchPartialFlushesOnTimer(t *testing.T) {
	rc := NewRuntimeConfig(testConfig(t))
	require.NoError(t, rc.Apply(&RuntimeOverrides{BatchSize: intPtr(100)}))

	rec := &flushRecorder{}
	batch := NewBatchAggregator(rc, rec.flush, testLogger(t))
	defer batch.Stop()

	batch.Add(testEvent("a", "s"))
	batch.Add(testEvent("b", "s"))

	waitForCondition(t, func() bool {
		return rec.count() == 1
	}, 2*time.Second, "partial batch to flush on timer")
	assert.Equal(t, []int{2}, rec.sizes())

	// The timer flushes exactly once; no empty follow-up flush
	time.Sleep(3 * batchFlushDelay)
	assert.Equal(t, 1, rec.count())
}

func TestBatchStopFlushesRemaining(t *testing.T) {
	rc := NewRuntimeConfig(testConfig(t))
	require.NoError(t, rc.Apply(&RuntimeOverrides{BatchSize: intPtr(100)}))

	rec := &flushRecorder{}
	batch := NewBatchAggregator(rc, rec.flush, testLogger(t))

	batch.Add(testEvent("a", "s"))
	batch.Stop()

	assert.Equal(t, 1, rec.count(), "Stop flushes the pending partial batch")
	assert.Equal(t, []int{1}, rec.sizes())

	// Closed aggregator ignores further events
	batch.Add(testEvent("b", "s"))
	assert.Zero(t, batch.PendingCount())
}
