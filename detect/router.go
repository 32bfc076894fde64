package detect

import (
	"strings"
	"time"

	"argus/config"
	"argus/core"
	"argus/metrics"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

// Priority is the routing class of an event.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
)

// Classification inputs. Windows security event IDs 4625/4672/4720/1102
// (failed logon, special privileges, account creation, audit log cleared)
// and 4688 process creation are treated as inherently high priority, as
// are events from authentication-critical sources.
var (
	criticalEventTypes = map[string]struct{}{
		"4625": {}, "4672": {}, "4720": {}, "1102": {}, "4688": {},
		"failed_login": {}, "privilege_escalation": {}, "account_created": {},
	}
	criticalSources = map[string]struct{}{
		"security": {}, "auth": {}, "authentication": {}, "domain_controller": {},
	}
	privilegedAccountSubstrings = []string{"admin", "root", "administrator", "svc_", "service_"}
)

// PriorityRouter classifies events and dispatches them to one of two
// bounded worker pools. The fast pool is small with a short submit
// timeout; the standard pool is larger and more patient. Work that cannot
// be queued within its timeout is counted and dropped.
type PriorityRouter struct {
	fastPool     *core.WorkerPool
	standardPool *core.WorkerPool
	fastTimeout  time.Duration
	stdTimeout   time.Duration

	// classMemo caches classification verdicts for repeated signatures.
	// Bounded LRU: classification inputs are low-cardinality in practice
	// but attacker-controlled in principle.
	classMemo *lru.Cache[string, Priority]

	logger *zap.SugaredLogger
}

// NewPriorityRouter builds both pools from static config. Pools are
// created stopped; call Start.
func NewPriorityRouter(cfg *config.Config, logger *zap.SugaredLogger) (*PriorityRouter, error) {
	memo, err := lru.New[string, Priority](1024)
	if err != nil {
		return nil, err
	}

	return &PriorityRouter{
		fastPool:     core.NewWorkerPoolWithType(cfg.Engine.FastPool.Workers, cfg.Engine.FastPool.QueueSize, "fast", logger),
		standardPool: core.NewWorkerPoolWithType(cfg.Engine.StandardPool.Workers, cfg.Engine.StandardPool.QueueSize, "standard", logger),
		fastTimeout:  time.Duration(cfg.Engine.FastPool.SubmitTimeoutMs) * time.Millisecond,
		stdTimeout:   time.Duration(cfg.Engine.StandardPool.SubmitTimeoutMs) * time.Millisecond,
		classMemo:    memo,
		logger:       logger,
	}, nil
}

// Start launches both worker pools.
func (r *PriorityRouter) Start() error {
	if err := r.fastPool.Start(); err != nil {
		return err
	}
	return r.standardPool.Start()
}

// Stop drains and stops both pools.
func (r *PriorityRouter) Stop() {
	r.fastPool.Stop()
	r.standardPool.Stop()
}

// Classify returns the routing priority for an event. A metadata-declared
// priority is per event, not part of the memo signature, so events
// carrying one are classified directly.
func (r *PriorityRouter) Classify(event *core.Event) Priority {
	if event.Metadata != nil {
		if _, ok := event.Metadata["priority"]; ok {
			return classify(event)
		}
	}

	memoKey := event.EventType + "|" + event.Source + "|" + event.UserName + "|" + event.Severity
	if p, ok := r.classMemo.Get(memoKey); ok {
		return p
	}

	p := classify(event)
	r.classMemo.Add(memoKey, p)
	return p
}

func classify(event *core.Event) Priority {
	if _, ok := criticalEventTypes[event.EventType]; ok {
		return PriorityHigh
	}
	if _, ok := criticalSources[strings.ToLower(event.Source)]; ok {
		return PriorityHigh
	}

	switch strings.ToLower(event.Severity) {
	case "critical", "high":
		return PriorityHigh
	}
	if event.Metadata != nil {
		if p, ok := event.Metadata["priority"].(string); ok {
			switch strings.ToLower(p) {
			case "critical", "high":
				return PriorityHigh
			}
		}
	}

	user := strings.ToLower(event.UserName)
	if user != "" {
		for _, sub := range privilegedAccountSubstrings {
			if strings.Contains(user, sub) {
				return PriorityHigh
			}
		}
	}

	return PriorityNormal
}

// Dispatch routes a task to the pool matching its priority. Returns false
// when the task could not be scheduled within the pool's timeout; the
// event is then dropped and counted, never retried.
func (r *PriorityRouter) Dispatch(event *core.Event, task func()) bool {
	priority := r.Classify(event)

	var err error
	if priority == PriorityHigh {
		err = r.fastPool.SubmitWithTimeout(task, r.fastTimeout)
	} else {
		err = r.standardPool.SubmitWithTimeout(task, r.stdTimeout)
	}

	if err != nil {
		metrics.EventsDropped.WithLabelValues(dropReasonQueueFull).Inc()
		r.logger.Warnw("Event dropped at routing",
			"event_id", event.EventID,
			"priority", string(priority),
			"error", err)
		return false
	}
	return true
}

// QueueDepths returns (fast, standard) queued task counts.
func (r *PriorityRouter) QueueDepths() (int, int) {
	return r.fastPool.QueueDepth(), r.standardPool.QueueDepth()
}

// StandardQueueDepth returns the standard pool's queued task count; the
// path selector uses it as the saturation signal for parallel evaluation.
func (r *PriorityRouter) StandardQueueDepth() int {
	return r.standardPool.QueueDepth()
}
