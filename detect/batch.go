package detect

import (
	"context"
	"sync"
	"time"

	"argus/core"
	"argus/metrics"
	"argus/util/goroutine"

	"go.uber.org/zap"
)

const (
	// batchFlushDelay is how long a partial batch may sit before it is
	// flushed anyway.
	batchFlushDelay = 50 * time.Millisecond
	// batchChunkSize is how many events of a flushed batch run
	// concurrently; chunks are collected one at a time.
	batchChunkSize = 10
)

// BatchAggregator accumulates events and flushes them in groups, either
// when the configured batch size is reached or when the flush timer
// fires on a partial batch. Flushes run asynchronously so Add never
// blocks on evaluation.
type BatchAggregator struct {
	mu      sync.Mutex
	pending []*core.Event
	timer   *time.Timer
	closed  bool

	runtime *RuntimeConfig
	flush   func(ctx context.Context, events []*core.Event)
	logger  *zap.SugaredLogger
	wg      sync.WaitGroup
}

func NewBatchAggregator(runtime *RuntimeConfig, flush func(ctx context.Context, events []*core.Event), logger *zap.SugaredLogger) *BatchAggregator {
	return &BatchAggregator{
		runtime: runtime,
		flush:   flush,
		logger:  logger,
	}
}

// Add appends an event to the pending batch. A full batch flushes
// immediately; the first event in a partial batch arms the flush timer.
func (b *BatchAggregator) Add(event *core.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	b.pending = append(b.pending, event)
	batchSize := b.runtime.Snapshot().BatchSize

	if len(b.pending) >= batchSize {
		b.flushLocked("size")
		return
	}

	if b.timer == nil {
		b.timer = time.AfterFunc(batchFlushDelay, b.timerFlush)
	}
}

// timerFlush flushes whatever accumulated before the delay elapsed.
func (b *BatchAggregator) timerFlush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || len(b.pending) == 0 {
		b.timer = nil
		return
	}
	b.flushLocked("timer")
}

// flushLocked hands the pending batch to the flush function on a new
// goroutine and resets batch state. Caller must hold b.mu.
func (b *BatchAggregator) flushLocked(trigger string) {
	events := b.pending
	b.pending = nil
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}

	metrics.BatchFlushes.WithLabelValues(trigger).Inc()
	b.logger.Debugw("Flushing event batch", "size", len(events), "trigger", trigger)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer goroutine.Recover("batch-flush", b.logger)
		b.flush(context.Background(), events)
	}()
}

// PendingCount returns the number of events waiting in the current batch.
func (b *BatchAggregator) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Stop flushes any remaining events and waits for in-flight flushes to
// complete. The aggregator accepts no events after Stop.
func (b *BatchAggregator) Stop() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	if len(b.pending) > 0 {
		b.flushLocked("shutdown")
	}
	b.closed = true
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.mu.Unlock()

	b.wg.Wait()
}
