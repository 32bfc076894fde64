package detect

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTuner(t *testing.T) (*AdaptiveTuner, *RuntimeConfig, *PerformanceWindow, *PriorityRouter) {
	t.Helper()
	cfg := testConfig(t)
	rc := NewRuntimeConfig(cfg)
	window := NewPerformanceWindow()
	router, err := NewPriorityRouter(cfg, testLogger(t))
	require.NoError(t, err)
	return NewAdaptiveTuner(rc, window, router, testLogger(t)), rc, window, router
}

func TestTunerIgnoresEmptyWindow(t *testing.T) {
	tuner, rc, _, _ := newTestTuner(t)
	before := rc.Snapshot()

	tuner.evaluate()
	assert.Equal(t, before, rc.Snapshot())
}

func TestTunerEnablesStreamModeWhenFast(t *testing.T) {
	tuner, rc, window, _ := newTestTuner(t)

	// Average far below half the 200ms target
	for i := 0; i < 10; i++ {
		window.Record(10 * time.Millisecond)
	}

	require.False(t, rc.Snapshot().StreamMode)
	tuner.evaluate()
	assert.True(t, rc.Snapshot().StreamMode)
}

func TestTunerDoesNotEnableStreamModeAtBoundary(t *testing.T) {
	tuner, rc, window, _ := newTestTuner(t)

	// Exactly half the target is not "below half"
	for i := 0; i < 10; i++ {
		window.Record(100 * time.Millisecond)
	}

	tuner.evaluate()
	assert.False(t, rc.Snapshot().StreamMode)
}

func TestTunerReducesBatchSizeUnderLatencyPressure(t *testing.T) {
	tuner, rc, window, _ := newTestTuner(t)
	require.NoError(t, rc.Apply(&RuntimeOverrides{BatchSize: intPtr(50)}))

	for i := 0; i < 10; i++ {
		window.Record(400 * time.Millisecond)
	}

	tuner.evaluate()
	assert.Equal(t, 40, rc.Snapshot().BatchSize)

	tuner.evaluate()
	tuner.evaluate()
	assert.Equal(t, batchSizeFloor, rc.Snapshot().BatchSize)

	// Floor is a hard stop
	tuner.evaluate()
	assert.Equal(t, batchSizeFloor, rc.Snapshot().BatchSize)
}

func TestTunerRatchetsAreMonotonic(t *testing.T) {
	tuner, rc, window, _ := newTestTuner(t)

	for i := 0; i < 10; i++ {
		window.Record(10 * time.Millisecond)
	}
	tuner.evaluate()
	require.True(t, rc.Snapshot().StreamMode)

	// Latency rising back above the threshold never turns stream mode off
	for i := 0; i < perfWindowSize; i++ {
		window.Record(400 * time.Millisecond)
	}
	tuner.evaluate()
	assert.True(t, rc.Snapshot().StreamMode)
}

func TestTunerStartStop(t *testing.T) {
	tuner, _, _, _ := newTestTuner(t)
	tuner.Start()
	tuner.Stop()
}
