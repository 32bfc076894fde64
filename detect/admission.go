package detect

import (
	"errors"
	"sync/atomic"

	"argus/config"
	"argus/core"
	"argus/metrics"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Drop reasons reported through metrics and the stats snapshot.
const (
	dropReasonBreakerOpen = "circuit_breaker_open"
	dropReasonOverCeiling = "concurrency_ceiling"
	dropReasonRateLimited = "rate_limited"
	dropReasonQueueFull   = "queue_full"
	dropReasonShutdown    = "shutdown"
)

// AdmissionController guards the whole pipeline. An event is admitted only
// when the circuit breaker is closed, the in-flight count is under the
// concurrency ceiling, and the optional ingress rate limiter has budget.
// Rejection is a counted, logged drop, never an error to the caller.
type AdmissionController struct {
	breaker  *core.CircuitBreaker
	runtime  *RuntimeConfig
	limiter  *rate.Limiter // nil when unlimited
	inflight atomic.Int64
	dropped  atomic.Int64
	logger   *zap.SugaredLogger
}

// NewAdmissionController builds the admission gate from static config.
func NewAdmissionController(cfg *config.Config, runtime *RuntimeConfig, logger *zap.SugaredLogger) (*AdmissionController, error) {
	breaker, err := core.NewCircuitBreaker(core.CircuitBreakerConfig{
		Threshold: uint32(cfg.Engine.CircuitBreaker.Threshold),
		Timeout:   cfg.CircuitBreakerTimeout(),
	})
	if err != nil {
		return nil, err
	}

	var limiter *rate.Limiter
	if cfg.Engine.IngressRateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Engine.IngressRateLimit), cfg.Engine.IngressBurst)
	}

	return &AdmissionController{
		breaker: breaker,
		runtime: runtime,
		limiter: limiter,
		logger:  logger,
	}, nil
}

// Admit decides whether an event may enter the pipeline. On rejection it
// records the drop and returns false; the caller must not retry.
func (a *AdmissionController) Admit(event *core.Event) bool {
	if err := a.breaker.Allow(); err != nil {
		if errors.Is(err, core.ErrCircuitBreakerOpen) {
			a.drop(event, dropReasonBreakerOpen)
			return false
		}
	}
	metrics.CircuitBreakerOpen.Set(0)

	if int(a.inflight.Load()) >= a.runtime.Snapshot().MaxConcurrentEvents {
		a.drop(event, dropReasonOverCeiling)
		return false
	}

	if a.limiter != nil && !a.limiter.Allow() {
		a.drop(event, dropReasonRateLimited)
		return false
	}

	return true
}

// drop records a rejected event.
func (a *AdmissionController) drop(event *core.Event, reason string) {
	a.dropped.Add(1)
	metrics.EventsDropped.WithLabelValues(reason).Inc()
	if reason == dropReasonBreakerOpen {
		metrics.CircuitBreakerOpen.Set(1)
	}
	a.logger.Warnw("Event dropped at admission",
		"event_id", event.EventID,
		"event_type", event.EventType,
		"reason", reason)
}

// Begin marks an event in flight. Pair with End.
func (a *AdmissionController) Begin() {
	a.inflight.Add(1)
}

// End marks an event's processing complete.
func (a *AdmissionController) End() {
	a.inflight.Add(-1)
}

// InFlight returns the current in-flight count.
func (a *AdmissionController) InFlight() int64 {
	return a.inflight.Load()
}

// Dropped returns the total admission drops since start.
func (a *AdmissionController) Dropped() int64 {
	return a.dropped.Load()
}

// outcome classifies how an event's evaluation ended.
type outcome int

const (
	outcomeOK outcome = iota
	// outcomeSlow is an evaluation that exceeded the processing budget;
	// it counts toward the breaker threshold without refreshing the
	// failure timestamp.
	outcomeSlow
	// outcomePanic is a hard failure; it refreshes the failure timestamp.
	outcomePanic
)

// RecordOutcome feeds a processing outcome to the circuit breaker: budget
// overruns and panics count as failures, everything else as success.
func (a *AdmissionController) RecordOutcome(result outcome) {
	if result == outcomeOK {
		a.breaker.RecordSuccess()
		return
	}

	var old, now core.CircuitBreakerState
	if result == outcomePanic {
		old, now = a.breaker.RecordFailure()
	} else {
		old, now = a.breaker.RecordSlowFailure()
	}
	if old != now {
		metrics.CircuitBreakerOpen.Set(1)
		a.logger.Warnw("Circuit breaker opened",
			"failures", a.breaker.Failures())
	}
}

// BreakerState exposes the breaker state for stats.
func (a *AdmissionController) BreakerState() core.CircuitBreakerState {
	return a.breaker.State()
}
