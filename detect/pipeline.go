package detect

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"argus/config"
	"argus/core"
	"argus/metrics"
	"argus/util/goroutine"

	"go.uber.org/zap"
)

// Services bundles the external collaborators the pipeline depends on.
// PatternMatcher and ActionExecutor are optional; Redis enables the L2
// cache tier when non-nil.
type Services struct {
	Store     core.RuleStore
	Evaluator core.RuleEvaluator
	Incidents core.IncidentManager
	Actions   core.ActionExecutor
	Patterns  core.PatternMatcher
	Redis     *core.RedisCache
}

// Pipeline is the real-time correlation pipeline. Events enter through
// ProcessEvent, pass admission control, get routed by priority (or
// diverted into batch/stream handling), are evaluated against indexed
// candidate rules, and confirmed matches flow to the match dispatcher.
type Pipeline struct {
	cfg        *config.Config
	runtime    *RuntimeConfig
	admission  *AdmissionController
	router     *PriorityRouter
	index      *indexHolder
	caches     *EvaluationCaches
	buffers    *EventBuffers
	batch      *BatchAggregator
	dispatcher *MatchDispatcher
	tuner      *AdaptiveTuner
	window     *PerformanceWindow
	engine     *evaluationEngine

	store    core.RuleStore
	patterns core.PatternMatcher
	logger   *zap.SugaredLogger

	sweepCancel context.CancelFunc
	streamWG    sync.WaitGroup
	stopped     atomic.Bool
}

func NewPipeline(cfg *config.Config, services Services, logger *zap.SugaredLogger) (*Pipeline, error) {
	runtime := NewRuntimeConfig(cfg)

	admission, err := NewAdmissionController(cfg, runtime, logger)
	if err != nil {
		return nil, err
	}

	router, err := NewPriorityRouter(cfg, logger)
	if err != nil {
		return nil, err
	}

	caches := NewEvaluationCaches(runtime, services.Redis, logger)
	window := NewPerformanceWindow()

	p := &Pipeline{
		cfg:       cfg,
		runtime:   runtime,
		admission: admission,
		router:    router,
		index:     newIndexHolder(),
		caches:    caches,
		buffers:   NewEventBuffers(logger),
		window:    window,
		store:     services.Store,
		patterns:  services.Patterns,
		logger:    logger,
	}

	p.engine = &evaluationEngine{
		caches:    caches,
		evaluator: services.Evaluator,
		router:    router,
		runtime:   runtime,
		logger:    logger,
	}
	p.dispatcher = NewMatchDispatcher(
		cfg.Engine.Dispatcher.Workers,
		cfg.Engine.Dispatcher.QueueSize,
		services.Incidents,
		services.Actions,
		logger,
	)
	p.batch = NewBatchAggregator(runtime, p.flushBatch, logger)
	p.tuner = NewAdaptiveTuner(runtime, window, router, logger)

	return p, nil
}

// Start loads the rule index and launches all background components.
// An empty or failed initial rule load is not fatal; the pipeline runs
// with an empty index until a reload succeeds.
func (p *Pipeline) Start(ctx context.Context) error {
	p.ReloadRules(ctx)

	if err := p.router.Start(); err != nil {
		return err
	}
	p.dispatcher.Start()

	sweepCtx, cancel := context.WithCancel(context.Background())
	p.sweepCancel = cancel
	p.caches.StartSweeper(sweepCtx)
	p.buffers.StartSweeper(sweepCtx)
	p.tuner.Start()

	p.logger.Infow("Correlation pipeline started",
		"rules", p.index.get().RuleCount(),
		"indexed_keys", p.index.get().KeyCount())
	return nil
}

// ProcessEvent submits one event to the pipeline. It never blocks on
// evaluation and never returns an error: the return value reports
// whether the event was admitted. Rejections are counted and logged.
func (p *Pipeline) ProcessEvent(event *core.Event) bool {
	if event == nil {
		return false
	}
	if p.stopped.Load() {
		metrics.EventsDropped.WithLabelValues("shutdown").Inc()
		return false
	}

	if !p.admission.Admit(event) {
		return false
	}
	metrics.EventsIngested.Inc()
	p.admission.Begin()

	values := p.runtime.Snapshot()
	switch {
	case values.StreamMode:
		p.streamWG.Add(1)
		go func() {
			defer p.streamWG.Done()
			defer goroutine.Recover("stream-event", p.logger)
			p.evaluateEvent(context.Background(), event, true)
		}()
	case values.BatchMode:
		p.batch.Add(event)
	default:
		dispatched := p.router.Dispatch(event, func() {
			p.evaluateEvent(context.Background(), event, false)
		})
		if !dispatched {
			p.admission.End()
			return false
		}
	}
	return true
}

// flushBatch runs a flushed batch through stream evaluation in chunks of
// batchChunkSize: events within a chunk evaluate concurrently, and each
// chunk is collected before the next begins.
func (p *Pipeline) flushBatch(ctx context.Context, events []*core.Event) {
	for start := 0; start < len(events); start += batchChunkSize {
		end := min(start+batchChunkSize, len(events))

		var wg sync.WaitGroup
		for _, event := range events[start:end] {
			wg.Add(1)
			go func(e *core.Event) {
				defer wg.Done()
				defer goroutine.Recover("batch-event", p.logger)
				p.evaluateEvent(ctx, e, true)
			}(event)
		}
		wg.Wait()
	}
}

// evaluateEvent is the per-event core shared by every mode: candidate
// lookup, buffer append, path evaluation, match dispatch, pattern
// matching, and latency accounting. The circuit breaker is fed from the
// outcome: a panic counts as a hard failure, an over-budget evaluation
// as a slow one that never refreshes the failure timestamp.
func (p *Pipeline) evaluateEvent(ctx context.Context, event *core.Event, stream bool) {
	start := time.Now()
	result := outcomeOK

	defer func() {
		if r := recover(); r != nil {
			p.logger.Errorw("Event evaluation panicked",
				"event_id", event.EventID,
				"panic", r)
			result = outcomePanic
		}

		elapsed := time.Since(start)
		p.window.Record(elapsed)
		metrics.EventProcessingDuration.Observe(elapsed.Seconds())

		if result == outcomeOK &&
			elapsed > time.Duration(p.runtime.Snapshot().MaxProcessingTimeMs)*time.Millisecond {
			result = outcomeSlow
		}
		p.admission.RecordOutcome(result)
		p.admission.End()
	}()

	candidates := p.index.get().Candidates(event)
	p.buffers.Append(event)

	var matches []ruleMatch
	if stream {
		matches = p.engine.evaluateStream(ctx, event, candidates)
	} else {
		matches = p.engine.evaluateCandidates(ctx, event, candidates)
	}

	for _, m := range matches {
		p.dispatcher.Dispatch(m.rule, event, m.result)
	}

	if p.patterns != nil {
		go p.runPatternMatcher(event)
	}
}

// runPatternMatcher applies cross-event heuristics over the event's
// buffer snapshot, off the hot path.
func (p *Pipeline) runPatternMatcher(event *core.Event) {
	defer goroutine.Recover("pattern-matcher", p.logger)

	ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
	defer cancel()

	found, err := p.patterns.FindMatches(ctx, event, p.buffers.Snapshot(event))
	if err != nil {
		p.logger.Errorw("Pattern matching failed",
			"event_id", event.EventID,
			"error", err)
		return
	}
	for _, match := range found {
		metrics.PatternMatches.Inc()
		p.logger.Infow("Pattern match detected",
			"pattern", match.Pattern,
			"event_id", event.EventID,
			"confidence", match.Confidence)
	}
}

// ReloadRules rebuilds the rule index from the store and swaps it in
// atomically, invalidating cached evaluations. On store failure the
// previous index stays live.
func (p *Pipeline) ReloadRules(ctx context.Context) {
	rules, err := p.store.LoadEnabledRules(ctx)
	if err != nil {
		p.logger.Warnw("Rule reload failed, keeping previous index",
			"rules", p.index.get().RuleCount(),
			"error", err)
		return
	}

	idx := BuildRuleIndex(rules)
	p.index.swap(idx)
	p.caches.InvalidateAll()
	p.logger.Infow("Rule index rebuilt",
		"rules", idx.RuleCount(),
		"indexed_keys", idx.KeyCount())
}

// ApplyOverrides validates and applies a runtime configuration change.
func (p *Pipeline) ApplyOverrides(o *RuntimeOverrides) error {
	if err := p.runtime.Apply(o); err != nil {
		return err
	}
	p.logger.Infow("Runtime configuration updated", "values", p.runtime.Snapshot())
	return nil
}

// SetStreamMode toggles stream mode directly.
func (p *Pipeline) SetStreamMode(enabled bool) error {
	return p.runtime.Apply(&RuntimeOverrides{StreamMode: boolPtr(enabled)})
}

// PipelineStats is a point-in-time health snapshot for the operator API.
type PipelineStats struct {
	ActiveRules        int     `json:"active_rules"`
	IndexedKeys        int     `json:"indexed_keys"`
	FastQueueDepth     int     `json:"fast_queue_depth"`
	StandardQueueDepth int     `json:"standard_queue_depth"`
	DispatchQueueDepth int     `json:"dispatch_queue_depth"`
	EvalCacheSize      int     `json:"eval_cache_size"`
	FastPathCacheSize  int     `json:"fast_path_cache_size"`
	CacheHitRatio      float64 `json:"cache_hit_ratio"`
	AvgLatencyMs       float64 `json:"avg_latency_ms"`
	P99LatencyMs       float64 `json:"p99_latency_ms"`
	InFlight           int64   `json:"in_flight"`
	Dropped            int64   `json:"dropped"`
	BufferKeys         int     `json:"buffer_keys"`
	CircuitBreaker     string  `json:"circuit_breaker"`
	StreamMode         bool    `json:"stream_mode"`
	BatchMode          bool    `json:"batch_mode"`
	ParallelEvaluation bool    `json:"parallel_evaluation"`
	BatchSize          int     `json:"batch_size"`
}

// Stats assembles the current pipeline snapshot.
func (p *Pipeline) Stats() PipelineStats {
	values := p.runtime.Snapshot()
	fastDepth, stdDepth := p.router.QueueDepths()
	evalSize, fastSize := p.caches.Sizes()

	return PipelineStats{
		ActiveRules:        p.index.get().RuleCount(),
		IndexedKeys:        p.index.get().KeyCount(),
		FastQueueDepth:     fastDepth,
		StandardQueueDepth: stdDepth,
		DispatchQueueDepth: p.dispatcher.QueueDepth(),
		EvalCacheSize:      evalSize,
		FastPathCacheSize:  fastSize,
		CacheHitRatio:      p.caches.HitRatio(),
		AvgLatencyMs:       p.window.AverageMs(),
		P99LatencyMs:       p.window.P99Ms(),
		InFlight:           p.admission.InFlight(),
		Dropped:            p.admission.Dropped(),
		BufferKeys:         p.buffers.KeyCount(),
		CircuitBreaker:     string(p.admission.BreakerState()),
		StreamMode:         values.StreamMode,
		BatchMode:          values.BatchMode,
		ParallelEvaluation: values.ParallelEvaluation,
		BatchSize:          values.BatchSize,
	}
}

// Shutdown stops intake, drains pending work, and tears down background
// components in dependency order.
func (p *Pipeline) Shutdown() {
	if !p.stopped.CompareAndSwap(false, true) {
		return
	}
	p.logger.Info("Correlation pipeline shutting down")

	p.tuner.Stop()
	p.batch.Stop()
	p.streamWG.Wait()
	p.router.Stop()
	p.dispatcher.Shutdown()

	if p.sweepCancel != nil {
		p.sweepCancel()
	}
	p.caches.Stop()
	p.buffers.Stop()

	p.logger.Info("Correlation pipeline stopped")
}
