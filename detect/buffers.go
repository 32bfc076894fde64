package detect

import (
	"context"
	"sync"
	"time"

	"argus/core"

	"go.uber.org/zap"
)

const (
	// bufferTrimThreshold is the length past which a buffer is trimmed inline
	bufferTrimThreshold = 100
	// bufferInlineCap is the cap applied on the hot path
	bufferInlineCap = 100
	// bufferSweepCap is the tighter cap applied by the background sweep
	bufferSweepCap = 50
	// bufferMaxAge is how long events stay useful for pattern matching
	bufferMaxAge = 30 * time.Minute
	// bufferSweepInterval is how often the proactive sweep runs
	bufferSweepInterval = 2 * time.Minute
)

// EventBuffers retains recent events per (source, event_type) key for the
// pattern-matching collaborator. Append is the hot path; trimming runs
// inline only once a buffer grows past the threshold, with a background
// sweep doing the same work proactively and deleting empty keys so one-off
// (source, type) combinations cannot grow the map forever.
type EventBuffers struct {
	mu      sync.RWMutex
	buffers map[string][]*core.Event
	logger  *zap.SugaredLogger

	cancel    context.CancelFunc
	sweepDone chan struct{}
}

// NewEventBuffers creates an empty buffer map.
func NewEventBuffers(logger *zap.SugaredLogger) *EventBuffers {
	return &EventBuffers{
		buffers:   make(map[string][]*core.Event),
		logger:    logger,
		sweepDone: make(chan struct{}),
	}
}

// Append adds an event to its buffer, trimming inline when past threshold.
func (b *EventBuffers) Append(event *core.Event) {
	key := event.BufferKey()

	b.mu.Lock()
	defer b.mu.Unlock()

	buf := append(b.buffers[key], event)
	if len(buf) > bufferTrimThreshold {
		buf = trimBuffer(buf, bufferInlineCap, time.Now())
	}
	b.buffers[key] = buf
}

// Snapshot returns a copy of the buffer for an event's key, safe for the
// pattern matcher to scan without holding the lock.
func (b *EventBuffers) Snapshot(event *core.Event) []*core.Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	buf := b.buffers[event.BufferKey()]
	if len(buf) == 0 {
		return nil
	}
	out := make([]*core.Event, len(buf))
	copy(out, buf)
	return out
}

// Len returns the buffer length for a key; test hook.
func (b *EventBuffers) Len(key string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.buffers[key])
}

// KeyCount returns the number of live buffer keys.
func (b *EventBuffers) KeyCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.buffers)
}

// trimBuffer drops events older than bufferMaxAge and caps the result to
// the most recent max entries. Buffers are append-ordered, so the oldest
// events sit at the front.
func trimBuffer(buf []*core.Event, max int, now time.Time) []*core.Event {
	cutoff := now.Add(-bufferMaxAge)
	start := 0
	for start < len(buf) && buf[start].Timestamp.Before(cutoff) {
		start++
	}
	buf = buf[start:]

	if len(buf) > max {
		buf = buf[len(buf)-max:]
	}
	return buf
}

// StartSweeper launches the proactive trim pass.
func (b *EventBuffers) StartSweeper(parentCtx context.Context) {
	ctx, cancel := context.WithCancel(parentCtx)
	b.cancel = cancel

	go func() {
		defer close(b.sweepDone)
		ticker := time.NewTicker(bufferSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				b.sweep()
			}
		}
	}()
}

// sweep trims every buffer to the sweep cap and deletes empty keys.
func (b *EventBuffers) sweep() {
	now := time.Now()

	b.mu.Lock()
	defer b.mu.Unlock()

	for key, buf := range b.buffers {
		trimmed := trimBuffer(buf, bufferSweepCap, now)
		if len(trimmed) == 0 {
			delete(b.buffers, key)
			continue
		}
		b.buffers[key] = trimmed
	}
}

// Sweep runs one sweep pass synchronously; test hook.
func (b *EventBuffers) Sweep() {
	b.sweep()
}

// Stop halts the sweeper, if started.
func (b *EventBuffers) Stop() {
	if b.cancel != nil {
		b.cancel()
		<-b.sweepDone
	}
}
