package detect

import (
	"fmt"
	"sync"

	"argus/config"

	"github.com/go-playground/validator/v10"
)

// RuntimeValues are the tunables every in-flight operation reads. They are
// written only by the adaptive tuner or explicit operator overrides.
type RuntimeValues struct {
	MaxProcessingTimeMs int  `json:"max_processing_time_ms"`
	BatchSize           int  `json:"batch_size"`
	StreamMode          bool `json:"stream_mode"`
	BatchMode           bool `json:"batch_mode"`
	ParallelEvaluation  bool `json:"parallel_evaluation"`
	MaxConcurrentEvents int  `json:"max_concurrent_events"`
	TargetLatencyMs     int  `json:"target_latency_ms"`
	EvalCacheTTLMs      int  `json:"eval_cache_ttl_ms"`
	FastPathCacheTTLMs  int  `json:"fast_path_cache_ttl_ms"`
}

// RuntimeOverrides is a partial update to RuntimeValues. Nil fields are
// left unchanged. Set fields are validated before any of them apply, so an
// override is all-or-nothing.
type RuntimeOverrides struct {
	MaxProcessingTimeMs *int  `json:"max_processing_time_ms,omitempty" validate:"omitempty,min=1,max=60000"`
	BatchSize           *int  `json:"batch_size,omitempty" validate:"omitempty,min=1,max=10000"`
	StreamMode          *bool `json:"stream_mode,omitempty"`
	BatchMode           *bool `json:"batch_mode,omitempty"`
	ParallelEvaluation  *bool `json:"parallel_evaluation,omitempty"`
	MaxConcurrentEvents *int  `json:"max_concurrent_events,omitempty" validate:"omitempty,min=1,max=1000000"`
	TargetLatencyMs     *int  `json:"target_latency_ms,omitempty" validate:"omitempty,min=1,max=60000"`
	EvalCacheTTLMs      *int  `json:"eval_cache_ttl_ms,omitempty" validate:"omitempty,min=100,max=3600000"`
	FastPathCacheTTLMs  *int  `json:"fast_path_cache_ttl_ms,omitempty" validate:"omitempty,min=100,max=3600000"`
}

// RuntimeConfig guards RuntimeValues for concurrent read/write. Reads take
// a snapshot so mode checks stay stateless per event: the tuner can flip a
// mode between two events without either observing partial state.
type RuntimeConfig struct {
	mu       sync.RWMutex
	values   RuntimeValues
	validate *validator.Validate
}

// NewRuntimeConfig seeds runtime tunables from the static config.
func NewRuntimeConfig(cfg *config.Config) *RuntimeConfig {
	return &RuntimeConfig{
		values: RuntimeValues{
			MaxProcessingTimeMs: cfg.Engine.MaxProcessingTimeMs,
			BatchSize:           cfg.Engine.BatchSize,
			StreamMode:          cfg.Engine.StreamMode,
			BatchMode:           cfg.Engine.BatchMode,
			ParallelEvaluation:  cfg.Engine.ParallelEvaluation,
			MaxConcurrentEvents: cfg.Engine.MaxConcurrentEvents,
			TargetLatencyMs:     cfg.Engine.TargetLatencyMs,
			EvalCacheTTLMs:      10_000,
			FastPathCacheTTLMs:  30_000,
		},
		validate: validator.New(),
	}
}

// Snapshot returns a copy of the current values.
func (rc *RuntimeConfig) Snapshot() RuntimeValues {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return rc.values
}

// Apply merges an override set into the current values. This is the single
// write path shared by the tuner and operator actions.
func (rc *RuntimeConfig) Apply(o *RuntimeOverrides) error {
	if o == nil {
		return fmt.Errorf("nil runtime overrides")
	}
	if err := rc.validate.Struct(o); err != nil {
		return fmt.Errorf("invalid runtime overrides: %w", err)
	}

	rc.mu.Lock()
	defer rc.mu.Unlock()

	if o.MaxProcessingTimeMs != nil {
		rc.values.MaxProcessingTimeMs = *o.MaxProcessingTimeMs
	}
	if o.BatchSize != nil {
		rc.values.BatchSize = *o.BatchSize
	}
	if o.StreamMode != nil {
		rc.values.StreamMode = *o.StreamMode
	}
	if o.BatchMode != nil {
		rc.values.BatchMode = *o.BatchMode
	}
	if o.ParallelEvaluation != nil {
		rc.values.ParallelEvaluation = *o.ParallelEvaluation
	}
	if o.MaxConcurrentEvents != nil {
		rc.values.MaxConcurrentEvents = *o.MaxConcurrentEvents
	}
	if o.TargetLatencyMs != nil {
		rc.values.TargetLatencyMs = *o.TargetLatencyMs
	}
	if o.EvalCacheTTLMs != nil {
		rc.values.EvalCacheTTLMs = *o.EvalCacheTTLMs
	}
	if o.FastPathCacheTTLMs != nil {
		rc.values.FastPathCacheTTLMs = *o.FastPathCacheTTLMs
	}

	return nil
}

// boolPtr and intPtr build override fields in place.
func boolPtr(b bool) *bool { return &b }
func intPtr(i int) *int    { return &i }
