package detect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRuntimeConfigSeedsFromStaticConfig(t *testing.T) {
	cfg := testConfig(t)
	rc := NewRuntimeConfig(cfg)

	values := rc.Snapshot()
	assert.Equal(t, cfg.Engine.MaxProcessingTimeMs, values.MaxProcessingTimeMs)
	assert.Equal(t, cfg.Engine.BatchSize, values.BatchSize)
	assert.Equal(t, cfg.Engine.ParallelEvaluation, values.ParallelEvaluation)
	assert.Equal(t, 10_000, values.EvalCacheTTLMs)
	assert.Equal(t, 30_000, values.FastPathCacheTTLMs)
}

func TestRuntimeConfigApplyPartial(t *testing.T) {
	rc := NewRuntimeConfig(testConfig(t))
	before := rc.Snapshot()

	err := rc.Apply(&RuntimeOverrides{
		BatchSize:  intPtr(25),
		StreamMode: boolPtr(true),
	})
	require.NoError(t, err)

	after := rc.Snapshot()
	assert.Equal(t, 25, after.BatchSize)
	assert.True(t, after.StreamMode)
	// Untouched fields keep their values
	assert.Equal(t, before.MaxProcessingTimeMs, after.MaxProcessingTimeMs)
	assert.Equal(t, before.TargetLatencyMs, after.TargetLatencyMs)
}

func TestRuntimeConfigApplyRejectsInvalid(t *testing.T) {
	rc := NewRuntimeConfig(testConfig(t))
	before := rc.Snapshot()

	err := rc.Apply(&RuntimeOverrides{
		BatchSize:           intPtr(0),
		MaxProcessingTimeMs: intPtr(100),
	})
	require.Error(t, err)

	// All-or-nothing: the valid field must not have applied either
	assert.Equal(t, before, rc.Snapshot())

	assert.Error(t, rc.Apply(nil))
	assert.Error(t, rc.Apply(&RuntimeOverrides{EvalCacheTTLMs: intPtr(1)}))
}

func TestRuntimeConfigSnapshotIsolation(t *testing.T) {
	rc := NewRuntimeConfig(testConfig(t))
	snap := rc.Snapshot()

	require.NoError(t, rc.Apply(&RuntimeOverrides{BatchMode: boolPtr(true)}))

	// The earlier snapshot is a copy, unaffected by later writes
	assert.False(t, snap.BatchMode)
	assert.True(t, rc.Snapshot().BatchMode)
}
