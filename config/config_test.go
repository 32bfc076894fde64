package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadDefaults(t *testing.T) *Config {
	t.Helper()
	viper.Reset()
	cfg, err := Load()
	require.NoError(t, err)
	return cfg
}

func TestLoadDefaults(t *testing.T) {
	cfg := loadDefaults(t)

	assert.Equal(t, 1000, cfg.Engine.MaxConcurrentEvents)
	assert.Equal(t, 200, cfg.Engine.TargetLatencyMs)
	assert.Equal(t, 500, cfg.Engine.MaxProcessingTimeMs)
	assert.Equal(t, 50, cfg.Engine.BatchSize)
	assert.True(t, cfg.Engine.ParallelEvaluation)
	assert.False(t, cfg.Engine.StreamMode)
	assert.False(t, cfg.Engine.BatchMode)

	assert.Equal(t, 4, cfg.Engine.FastPool.Workers)
	assert.Equal(t, 64, cfg.Engine.FastPool.QueueSize)
	assert.Equal(t, 16, cfg.Engine.StandardPool.Workers)
	assert.Equal(t, 512, cfg.Engine.StandardPool.QueueSize)

	assert.Equal(t, 5, cfg.Engine.CircuitBreaker.Threshold)
	assert.Equal(t, 30*time.Second, cfg.CircuitBreakerTimeout())

	assert.Equal(t, "./rules.json", cfg.Rules.Path)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, 8081, cfg.API.Port)
}

func TestLoadEnvOverride(t *testing.T) {
	viper.Reset()
	t.Setenv("ARGUS_ENGINE_BATCH_SIZE", "25")
	t.Setenv("ARGUS_REDIS_ENABLED", "true")
	t.Setenv("ARGUS_API_PORT", "9000")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 25, cfg.Engine.BatchSize)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, 9000, cfg.API.Port)
}

func TestLoadValidation(t *testing.T) {
	cases := []struct {
		key   string
		value interface{}
	}{
		{"engine.max_concurrent_events", 0},
		{"engine.target_latency_ms", 0},
		{"engine.max_processing_time_ms", -1},
		{"engine.batch_size", 0},
		{"engine.fast_pool.workers", 0},
		{"engine.standard_pool.workers", 0},
		{"engine.dispatcher.workers", 0},
		{"engine.circuit_breaker.threshold", 0},
		{"engine.circuit_breaker.timeout_seconds", 0},
		{"api.port", 70000},
	}

	for _, tc := range cases {
		viper.Reset()
		viper.Set(tc.key, tc.value)
		_, err := Load()
		assert.Error(t, err, "expected %s=%v to be rejected", tc.key, tc.value)
	}
}
