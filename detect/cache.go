package detect

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"argus/core"
	"argus/metrics"

	"go.uber.org/zap"
)

// The pipeline carries two independent short-TTL caches:
//
//   - the evaluation cache memoizes matched EvaluationResults per
//     rule:event_type:source, so a burst of identical traffic skips the
//     rule evaluator entirely within the TTL;
//   - the fast-path cache records an "already handled" marker per
//     event_type:source:user, letting repetitive benign traffic exit the
//     fast path before touching any rule.
//
// Neither cache is size-bounded; a periodic sweep deletes expired entries.
// Strict LRU bounding is deliberately out of scope. When a RedisCache is
// attached it acts as a shared L2 tier: reads fall through to it on an L1
// miss, writes go through to both.

type evalCacheEntry struct {
	result   *core.EvaluationResult
	cachedAt time.Time
}

type fastPathEntry struct {
	cachedAt time.Time
}

// EvaluationCaches owns both cache maps and their sweep goroutine.
type EvaluationCaches struct {
	mu       sync.RWMutex
	eval     map[string]evalCacheEntry
	fastPath map[string]fastPathEntry

	runtime *RuntimeConfig
	l2      *core.RedisCache // nil when redis tier is disabled
	logger  *zap.SugaredLogger

	hits   atomic.Int64
	misses atomic.Int64

	cancel      context.CancelFunc
	sweeperDone chan struct{}
}

// sweepInterval is how often expired entries are deleted.
const sweepInterval = 60 * time.Second

// NewEvaluationCaches creates both cache layers. Pass a nil l2 to run on
// the in-process maps alone. Call StartSweeper to enable expiry.
func NewEvaluationCaches(runtime *RuntimeConfig, l2 *core.RedisCache, logger *zap.SugaredLogger) *EvaluationCaches {
	return &EvaluationCaches{
		eval:        make(map[string]evalCacheEntry),
		fastPath:    make(map[string]fastPathEntry),
		runtime:     runtime,
		l2:          l2,
		logger:      logger,
		sweeperDone: make(chan struct{}),
	}
}

// evalKey builds the evaluation cache key for a (rule, event) pair.
func evalKey(ruleID string, event *core.Event) string {
	return ruleID + ":" + event.EventType + ":" + event.Source
}

// fastPathKey builds the fast-path cache key for an event.
func fastPathKey(event *core.Event) string {
	return event.EventType + ":" + event.Source + ":" + event.UserName
}

// GetEvaluation returns the cached result for a (rule, event) signature,
// or nil on miss or expiry.
func (c *EvaluationCaches) GetEvaluation(ctx context.Context, ruleID string, event *core.Event) *core.EvaluationResult {
	key := evalKey(ruleID, event)
	ttl := time.Duration(c.runtime.Snapshot().EvalCacheTTLMs) * time.Millisecond

	c.mu.RLock()
	entry, ok := c.eval[key]
	c.mu.RUnlock()

	if ok && time.Since(entry.cachedAt) <= ttl {
		c.hits.Add(1)
		metrics.CacheHits.WithLabelValues("eval").Inc()
		return entry.result
	}

	if c.l2 != nil {
		var result core.EvaluationResult
		found, err := c.l2.Get(ctx, core.GetEvalCacheKey(key), &result)
		if err == nil && found {
			c.hits.Add(1)
			metrics.CacheHits.WithLabelValues("eval").Inc()
			// Promote to L1 for subsequent lookups
			c.mu.Lock()
			c.eval[key] = evalCacheEntry{result: &result, cachedAt: time.Now()}
			c.mu.Unlock()
			return &result
		}
	}

	c.misses.Add(1)
	metrics.CacheMisses.WithLabelValues("eval").Inc()
	return nil
}

// PutEvaluation caches a result. Only matched results are stored; misses
// are cheap to recompute and caching them would delay new detections.
func (c *EvaluationCaches) PutEvaluation(ctx context.Context, ruleID string, event *core.Event, result *core.EvaluationResult) {
	if result == nil || !result.Matched {
		return
	}
	key := evalKey(ruleID, event)

	c.mu.Lock()
	c.eval[key] = evalCacheEntry{result: result, cachedAt: time.Now()}
	c.mu.Unlock()

	if c.l2 != nil {
		ttl := time.Duration(c.runtime.Snapshot().EvalCacheTTLMs) * time.Millisecond
		if err := c.l2.Set(ctx, core.GetEvalCacheKey(key), result, ttl); err != nil {
			c.logger.Debugf("L2 eval cache write failed for %s: %v", key, err)
		}
	}
}

// FastPathHandled reports whether this event's signature was already
// handled within the fast-path TTL.
func (c *EvaluationCaches) FastPathHandled(ctx context.Context, event *core.Event) bool {
	key := fastPathKey(event)
	ttl := time.Duration(c.runtime.Snapshot().FastPathCacheTTLMs) * time.Millisecond

	c.mu.RLock()
	entry, ok := c.fastPath[key]
	c.mu.RUnlock()

	if ok && time.Since(entry.cachedAt) <= ttl {
		c.hits.Add(1)
		metrics.CacheHits.WithLabelValues("fastpath").Inc()
		return true
	}

	if c.l2 != nil {
		var marker bool
		found, err := c.l2.Get(ctx, core.GetFastPathCacheKey(key), &marker)
		if err == nil && found && marker {
			c.hits.Add(1)
			metrics.CacheHits.WithLabelValues("fastpath").Inc()
			c.mu.Lock()
			c.fastPath[key] = fastPathEntry{cachedAt: time.Now()}
			c.mu.Unlock()
			return true
		}
	}

	c.misses.Add(1)
	metrics.CacheMisses.WithLabelValues("fastpath").Inc()
	return false
}

// MarkFastPathHandled records that fast-path evaluation completed for this
// signature, so repeat traffic can skip redundant work until the TTL lapses.
func (c *EvaluationCaches) MarkFastPathHandled(ctx context.Context, event *core.Event) {
	key := fastPathKey(event)

	c.mu.Lock()
	c.fastPath[key] = fastPathEntry{cachedAt: time.Now()}
	c.mu.Unlock()

	if c.l2 != nil {
		ttl := time.Duration(c.runtime.Snapshot().FastPathCacheTTLMs) * time.Millisecond
		if err := c.l2.Set(ctx, core.GetFastPathCacheKey(key), true, ttl); err != nil {
			c.logger.Debugf("L2 fast-path cache write failed for %s: %v", key, err)
		}
	}
}

// InvalidateAll clears both L1 caches. Called on rule reload: cached
// verdicts belong to the previous rule generation.
func (c *EvaluationCaches) InvalidateAll() {
	c.mu.Lock()
	c.eval = make(map[string]evalCacheEntry)
	c.fastPath = make(map[string]fastPathEntry)
	c.mu.Unlock()
}

// HitRatio returns the combined hit ratio across both caches since start.
func (c *EvaluationCaches) HitRatio() float64 {
	hits := c.hits.Load()
	total := hits + c.misses.Load()
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// Sizes returns current entry counts (eval, fastPath).
func (c *EvaluationCaches) Sizes() (int, int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.eval), len(c.fastPath)
}

// StartSweeper launches the background expiry sweep.
func (c *EvaluationCaches) StartSweeper(parentCtx context.Context) {
	ctx, cancel := context.WithCancel(parentCtx)
	c.cancel = cancel

	go func() {
		defer close(c.sweeperDone)
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.sweep()
			}
		}
	}()
}

// sweep deletes entries older than their cache's TTL.
func (c *EvaluationCaches) sweep() {
	values := c.runtime.Snapshot()
	evalTTL := time.Duration(values.EvalCacheTTLMs) * time.Millisecond
	fastTTL := time.Duration(values.FastPathCacheTTLMs) * time.Millisecond
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, entry := range c.eval {
		if now.Sub(entry.cachedAt) > evalTTL {
			delete(c.eval, key)
			removed++
		}
	}
	for key, entry := range c.fastPath {
		if now.Sub(entry.cachedAt) > fastTTL {
			delete(c.fastPath, key)
			removed++
		}
	}

	if removed > 0 {
		c.logger.Debugf("Cache sweep removed %d expired entries", removed)
	}
}

// Stop halts the sweeper, if started.
func (c *EvaluationCaches) Stop() {
	if c.cancel != nil {
		c.cancel()
		<-c.sweeperDone
	}
}
