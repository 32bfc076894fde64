package detect

import (
	"context"
	"time"

	"argus/metrics"
	"argus/util/goroutine"

	"go.uber.org/zap"
)

// Tuner adjustment constants.
const (
	tunerInterval = 15 * time.Second
	// streamModeLatencyFraction enables stream mode once average latency
	// falls below this fraction of the target
	streamModeLatencyFraction = 0.5
	// batchModeQueueDepth enables batch mode once the standard queue
	// backs up past this depth
	batchModeQueueDepth = 100
	// batchSizeStep and batchSizeFloor govern batch size reduction under
	// latency pressure
	batchSizeStep  = 10
	batchSizeFloor = 20
)

// AdaptiveTuner periodically inspects pipeline health and ratchets
// runtime knobs in one direction only: modes are switched on, never back
// off, and batch size only shrinks. Operators reverse a ratchet through
// the config API.
type AdaptiveTuner struct {
	runtime *RuntimeConfig
	window  *PerformanceWindow
	router  *PriorityRouter
	logger  *zap.SugaredLogger

	cancel context.CancelFunc
	done   chan struct{}
}

func NewAdaptiveTuner(runtime *RuntimeConfig, window *PerformanceWindow, router *PriorityRouter, logger *zap.SugaredLogger) *AdaptiveTuner {
	return &AdaptiveTuner{
		runtime: runtime,
		window:  window,
		router:  router,
		logger:  logger,
	}
}

// Start launches the tuning loop.
func (t *AdaptiveTuner) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.done = make(chan struct{})

	go func() {
		defer close(t.done)
		defer goroutine.Recover("adaptive-tuner", t.logger)

		ticker := time.NewTicker(tunerInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				t.evaluate()
			}
		}
	}()
}

// evaluate applies at most one pass of the ratchet rules from current
// measurements.
func (t *AdaptiveTuner) evaluate() {
	if t.window.Count() == 0 {
		return
	}

	values := t.runtime.Snapshot()
	avgMs := t.window.AverageMs()
	targetMs := float64(values.TargetLatencyMs)
	queueDepth := t.router.StandardQueueDepth()

	if !values.StreamMode && avgMs < targetMs*streamModeLatencyFraction {
		if err := t.runtime.Apply(&RuntimeOverrides{StreamMode: boolPtr(true)}); err != nil {
			t.logger.Errorw("Failed to enable stream mode", "error", err)
		} else {
			metrics.TunerAdjustments.WithLabelValues("stream_mode").Inc()
			t.logger.Infow("Tuner enabled stream mode",
				"avg_ms", avgMs,
				"target_ms", targetMs)
		}
	}

	if !values.BatchMode && queueDepth > batchModeQueueDepth {
		if err := t.runtime.Apply(&RuntimeOverrides{BatchMode: boolPtr(true)}); err != nil {
			t.logger.Errorw("Failed to enable batch mode", "error", err)
		} else {
			metrics.TunerAdjustments.WithLabelValues("batch_mode").Inc()
			t.logger.Infow("Tuner enabled batch mode", "queue_depth", queueDepth)
		}
	}

	if avgMs > targetMs && values.BatchSize > batchSizeFloor {
		next := values.BatchSize - batchSizeStep
		if next < batchSizeFloor {
			next = batchSizeFloor
		}
		if err := t.runtime.Apply(&RuntimeOverrides{BatchSize: intPtr(next)}); err != nil {
			t.logger.Errorw("Failed to reduce batch size", "error", err)
		} else {
			metrics.TunerAdjustments.WithLabelValues("batch_size").Inc()
			t.logger.Infow("Tuner reduced batch size",
				"batch_size", next,
				"avg_ms", avgMs,
				"target_ms", targetMs)
		}
	}
}

// Stop terminates the tuning loop and waits for it to exit.
func (t *AdaptiveTuner) Stop() {
	if t.cancel != nil {
		t.cancel()
		<-t.done
	}
}
