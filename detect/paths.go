package detect

import (
	"context"
	"sync"

	"argus/core"
	"argus/metrics"

	"go.uber.org/zap"
)

// Path selection constants.
const (
	// fastPathMaxCandidates is the largest candidate set the fast path accepts
	fastPathMaxCandidates = 5
	// fastPathTopN is how many candidates the fast path actually evaluates
	fastPathTopN = 3
	// parallelChunkSize is the rule chunk evaluated concurrently on the standard path
	parallelChunkSize = 5
	// normalQueueSaturation disables parallel evaluation once the standard
	// queue holds this many tasks
	normalQueueSaturation = 100
	// sequentialCap bounds worst-case latency on the sequential path
	sequentialCap = 20
	// streamConcurrency is the fixed fan-out limit in stream mode
	streamConcurrency = 10
)

// Fast-path eligibility inputs: event types that dominate benign traffic
// and sources whose events rarely correlate into incidents.
var (
	commonEventTypes = map[string]struct{}{
		"4624": {}, "4634": {}, "logon": {}, "logoff": {}, "heartbeat": {}, "http_request": {},
	}
	trustedSources = map[string]struct{}{
		"monitoring": {}, "healthcheck": {}, "internal": {}, "localhost": {},
	}
)

// ruleMatch pairs a matched rule with its evaluation result.
type ruleMatch struct {
	rule   *core.Rule
	result *core.EvaluationResult
}

// evaluationEngine selects and runs the evaluation path for one event's
// candidate set. Every per-rule evaluation is independently fault
// isolated: an error or panic from one rule is logged and skipped, never
// aborting the event or batch.
type evaluationEngine struct {
	caches    *EvaluationCaches
	evaluator core.RuleEvaluator
	router    *PriorityRouter
	runtime   *RuntimeConfig
	logger    *zap.SugaredLogger
}

// evaluateCandidates runs the full candidate set through the chosen path.
// Fast-path eligibility is checked first; otherwise the standard path
// picks parallel or sequential from runtime state.
func (e *evaluationEngine) evaluateCandidates(ctx context.Context, event *core.Event, candidates []*core.Rule) []ruleMatch {
	if len(candidates) == 0 {
		return nil
	}

	if e.fastPathEligible(event, candidates) {
		return e.evaluateFastPath(ctx, event, candidates)
	}

	values := e.runtime.Snapshot()
	if values.ParallelEvaluation &&
		len(candidates) > parallelChunkSize &&
		e.router.StandardQueueDepth() < normalQueueSaturation {
		return e.evaluateParallel(ctx, event, candidates)
	}

	return e.evaluateSequential(ctx, event, candidates)
}

// fastPathEligible reports whether this event can take the abbreviated
// path: common type, trusted source, no complex flag, small candidate set.
func (e *evaluationEngine) fastPathEligible(event *core.Event, candidates []*core.Rule) bool {
	if len(candidates) > fastPathMaxCandidates {
		return false
	}
	if _, ok := commonEventTypes[event.EventType]; !ok {
		return false
	}
	if _, ok := trustedSources[event.Source]; !ok {
		return false
	}
	if event.Metadata != nil {
		if complexFlag, ok := event.Metadata["complex"].(bool); ok && complexFlag {
			return false
		}
	}
	return true
}

// evaluateFastPath evaluates only the top candidates in parallel, exiting
// early when the fast-path cache already marks this signature handled.
// A clean pass (no matches) marks the signature so repeat traffic skips
// evaluation entirely until the TTL lapses.
func (e *evaluationEngine) evaluateFastPath(ctx context.Context, event *core.Event, candidates []*core.Rule) []ruleMatch {
	if e.caches.FastPathHandled(ctx, event) {
		return nil
	}

	top := candidates
	if len(top) > fastPathTopN {
		top = top[:fastPathTopN]
	}

	matches := e.evaluateChunk(ctx, event, top)
	if len(matches) == 0 {
		e.caches.MarkFastPathHandled(ctx, event)
	}
	return matches
}

// evaluateParallel splits candidates into fixed chunks evaluated
// concurrently, collecting results chunk by chunk. No ordering guarantee
// within a chunk.
func (e *evaluationEngine) evaluateParallel(ctx context.Context, event *core.Event, candidates []*core.Rule) []ruleMatch {
	var matches []ruleMatch
	for start := 0; start < len(candidates); start += parallelChunkSize {
		end := start + parallelChunkSize
		if end > len(candidates) {
			end = len(candidates)
		}
		matches = append(matches, e.evaluateChunk(ctx, event, candidates[start:end])...)
	}
	return matches
}

// evaluateSequential evaluates candidates in order, capped to bound
// worst-case latency. Candidate-list order is preserved in the results.
func (e *evaluationEngine) evaluateSequential(ctx context.Context, event *core.Event, candidates []*core.Rule) []ruleMatch {
	if len(candidates) > sequentialCap {
		candidates = candidates[:sequentialCap]
	}

	var matches []ruleMatch
	for _, rule := range candidates {
		if result := e.evaluateRule(ctx, rule, event); result != nil && result.Matched {
			matches = append(matches, ruleMatch{rule: rule, result: result})
		}
	}
	return matches
}

// evaluateStream evaluates all candidates immediately with a fixed
// fan-out cap, collecting every outcome before returning. Used by stream
// mode and by batch flush chunks.
func (e *evaluationEngine) evaluateStream(ctx context.Context, event *core.Event, candidates []*core.Rule) []ruleMatch {
	var (
		mu      sync.Mutex
		matches []ruleMatch
		wg      sync.WaitGroup
		sem     = make(chan struct{}, streamConcurrency)
	)

	for _, rule := range candidates {
		wg.Add(1)
		sem <- struct{}{}
		go func(rule *core.Rule) {
			defer wg.Done()
			defer func() { <-sem }()
			if result := e.evaluateRule(ctx, rule, event); result != nil && result.Matched {
				mu.Lock()
				matches = append(matches, ruleMatch{rule: rule, result: result})
				mu.Unlock()
			}
		}(rule)
	}

	wg.Wait()
	return matches
}

// evaluateChunk runs one chunk of rules concurrently and collects the
// matches.
func (e *evaluationEngine) evaluateChunk(ctx context.Context, event *core.Event, chunk []*core.Rule) []ruleMatch {
	var (
		mu      sync.Mutex
		matches []ruleMatch
		wg      sync.WaitGroup
	)

	for _, rule := range chunk {
		wg.Add(1)
		go func(rule *core.Rule) {
			defer wg.Done()
			if result := e.evaluateRule(ctx, rule, event); result != nil && result.Matched {
				mu.Lock()
				matches = append(matches, ruleMatch{rule: rule, result: result})
				mu.Unlock()
			}
		}(rule)
	}

	wg.Wait()
	return matches
}

// evaluateRule evaluates a single rule against an event through the
// evaluation cache. Errors and panics are contained here.
func (e *evaluationEngine) evaluateRule(ctx context.Context, rule *core.Rule, event *core.Event) (result *core.EvaluationResult) {
	if cached := e.caches.GetEvaluation(ctx, rule.ID, event); cached != nil {
		return cached
	}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Errorw("Rule evaluation panicked",
				"rule_id", rule.ID,
				"event_id", event.EventID,
				"panic", r)
			metrics.RuleEvaluations.WithLabelValues("error").Inc()
			result = nil
		}
	}()

	evaluated, err := e.evaluator.Evaluate(ctx, rule, event)
	if err != nil {
		e.logger.Errorw("Rule evaluation failed",
			"rule_id", rule.ID,
			"event_id", event.EventID,
			"error", err)
		metrics.RuleEvaluations.WithLabelValues("error").Inc()
		return nil
	}

	if evaluated != nil && evaluated.Matched {
		metrics.RuleEvaluations.WithLabelValues("match").Inc()
		e.caches.PutEvaluation(ctx, rule.ID, event, evaluated)
	} else {
		metrics.RuleEvaluations.WithLabelValues("no_match").Inc()
	}
	return evaluated
}
