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

// dispatchTimeout bounds the downstream incident/action work for a
// single match.
const dispatchTimeout = 10 * time.Second

// matchWork is one confirmed rule match queued for incident handling.
type matchWork struct {
	rule   *core.Rule
	event  *core.Event
	result *core.EvaluationResult
}

// MatchDispatcher decouples rule evaluation from incident persistence
// and response actions. Matches enter a bounded queue consumed by a
// fixed worker set; when the queue is full the match is dropped with a
// warning rather than stalling the evaluation path.
type MatchDispatcher struct {
	queue     chan matchWork
	workers   int
	incidents core.IncidentManager
	actions   core.ActionExecutor
	logger    *zap.SugaredLogger

	wg       sync.WaitGroup
	stopOnce sync.Once
}

func NewMatchDispatcher(workers, queueSize int, incidents core.IncidentManager, actions core.ActionExecutor, logger *zap.SugaredLogger) *MatchDispatcher {
	return &MatchDispatcher{
		queue:     make(chan matchWork, queueSize),
		workers:   workers,
		incidents: incidents,
		actions:   actions,
		logger:    logger,
	}
}

// Start launches the dispatch workers.
func (d *MatchDispatcher) Start() {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}
	d.logger.Infow("Match dispatcher started", "workers", d.workers, "queue_size", cap(d.queue))
}

// Dispatch enqueues a match for incident handling. Returns false when
// the queue is saturated and the match was dropped.
func (d *MatchDispatcher) Dispatch(rule *core.Rule, event *core.Event, result *core.EvaluationResult) bool {
	select {
	case d.queue <- matchWork{rule: rule, event: event, result: result}:
		metrics.MatchesDispatched.WithLabelValues(rule.Severity).Inc()
		return true
	default:
		d.logger.Warnw("Match dispatch queue full, dropping match",
			"rule_id", rule.ID,
			"event_id", event.EventID)
		metrics.EventsDropped.WithLabelValues("dispatch_queue_full").Inc()
		return false
	}
}

// QueueDepth returns the number of matches waiting for a worker.
func (d *MatchDispatcher) QueueDepth() int {
	return len(d.queue)
}

func (d *MatchDispatcher) worker(id int) {
	defer d.wg.Done()
	defer goroutine.Recover("match-dispatcher-worker", d.logger)

	for work := range d.queue {
		d.handleMatch(work)
	}
	d.logger.Debugw("Match dispatcher worker exiting", "worker_id", id)
}

// handleMatch upserts the incident for the match and executes response
// actions. Failures are logged and swallowed so one bad match never
// stalls the queue.
func (d *MatchDispatcher) handleMatch(work matchWork) {
	if d.incidents == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
	defer cancel()

	incident, err := d.incidents.FindOpenIncident(ctx, work.rule.ID, work.event, work.rule.TimeWindowMinutes)
	if err != nil {
		d.logger.Errorw("Incident lookup failed",
			"rule_id", work.rule.ID,
			"event_id", work.event.EventID,
			"error", err)
		return
	}

	if incident != nil {
		incident, err = d.incidents.UpdateIncident(ctx, incident.ID, work.event, work.result)
	} else {
		incident, err = d.incidents.CreateIncident(ctx, work.rule, work.event, work.result)
	}
	if err != nil {
		d.logger.Errorw("Incident upsert failed",
			"rule_id", work.rule.ID,
			"event_id", work.event.EventID,
			"error", err)
		return
	}
	if incident == nil {
		return
	}

	if d.actions == nil {
		return
	}
	if err := d.actions.ExecuteActions(ctx, work.rule, incident, work.event); err != nil {
		d.logger.Errorw("Action execution failed",
			"rule_id", work.rule.ID,
			"incident_id", incident.ID,
			"error", err)
	}
}

// Shutdown stops accepting matches and drains the queue before
// returning.
func (d *MatchDispatcher) Shutdown() {
	d.stopOnce.Do(func() {
		close(d.queue)
		d.wg.Wait()
		d.logger.Info("Match dispatcher stopped")
	})
}
