package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the static application configuration. Runtime tunables the
// adaptive tuner may mutate live in detect.RuntimeConfig; the Engine
// section below only seeds their initial values.
type Config struct {
	// Engine configuration for the correlation pipeline
	Engine struct {
		// MaxConcurrentEvents is the admission ceiling on in-flight events
		MaxConcurrentEvents int `mapstructure:"max_concurrent_events"`

		// TargetLatencyMs is the latency goal the adaptive tuner steers toward
		TargetLatencyMs int `mapstructure:"target_latency_ms"`

		// MaxProcessingTimeMs is the per-event budget; exceeding it counts
		// as a circuit breaker failure
		MaxProcessingTimeMs int `mapstructure:"max_processing_time_ms"`

		// BatchSize is the initial batch-mode flush threshold
		BatchSize int `mapstructure:"batch_size"`

		// ParallelEvaluation enables chunked parallel rule evaluation on
		// the standard path
		ParallelEvaluation bool `mapstructure:"parallel_evaluation"`

		// StreamMode / BatchMode select the initial processing mode; the
		// tuner may enable either at runtime but never disables them
		StreamMode bool `mapstructure:"stream_mode"`
		BatchMode  bool `mapstructure:"batch_mode"`

		// IngressRateLimit caps accepted events per second (0 = unlimited)
		IngressRateLimit int `mapstructure:"ingress_rate_limit"`
		IngressBurst     int `mapstructure:"ingress_burst"`

		// FastPool serves high-priority events: few workers, short submit timeout
		FastPool struct {
			Workers         int `mapstructure:"workers"`
			QueueSize       int `mapstructure:"queue_size"`
			SubmitTimeoutMs int `mapstructure:"submit_timeout_ms"`
		} `mapstructure:"fast_pool"`

		// StandardPool serves everything else
		StandardPool struct {
			Workers         int `mapstructure:"workers"`
			QueueSize       int `mapstructure:"queue_size"`
			SubmitTimeoutMs int `mapstructure:"submit_timeout_ms"`
		} `mapstructure:"standard_pool"`

		// Dispatcher controls the fire-and-forget match dispatch queue
		Dispatcher struct {
			Workers   int `mapstructure:"workers"`
			QueueSize int `mapstructure:"queue_size"`
		} `mapstructure:"dispatcher"`

		CircuitBreaker struct {
			Threshold      int `mapstructure:"threshold"`
			TimeoutSeconds int `mapstructure:"timeout_seconds"`
		} `mapstructure:"circuit_breaker"`
	} `mapstructure:"engine"`

	// Rules configuration for the file-backed rule store
	Rules struct {
		// Path is the JSON rules file loaded at startup and on reload
		Path string `mapstructure:"path"`
	} `mapstructure:"rules"`

	// Redis configuration for the optional L2 cache tier
	Redis struct {
		Enabled  bool   `mapstructure:"enabled"`
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
		PoolSize int    `mapstructure:"pool_size"`
	} `mapstructure:"redis"`

	// API configuration for the operator health/metrics surface
	API struct {
		Host string `mapstructure:"host"`
		Port int    `mapstructure:"port"`
	} `mapstructure:"api"`
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("engine.max_concurrent_events", 1000)
	viper.SetDefault("engine.target_latency_ms", 200)
	viper.SetDefault("engine.max_processing_time_ms", 500)
	viper.SetDefault("engine.batch_size", 50)
	viper.SetDefault("engine.parallel_evaluation", true)
	viper.SetDefault("engine.stream_mode", false)
	viper.SetDefault("engine.batch_mode", false)
	viper.SetDefault("engine.ingress_rate_limit", 0)
	viper.SetDefault("engine.ingress_burst", 200)
	viper.SetDefault("engine.fast_pool.workers", 4)
	viper.SetDefault("engine.fast_pool.queue_size", 64)
	viper.SetDefault("engine.fast_pool.submit_timeout_ms", 25)
	viper.SetDefault("engine.standard_pool.workers", 16)
	viper.SetDefault("engine.standard_pool.queue_size", 512)
	viper.SetDefault("engine.standard_pool.submit_timeout_ms", 250)
	viper.SetDefault("engine.dispatcher.workers", 4)
	viper.SetDefault("engine.dispatcher.queue_size", 256)
	viper.SetDefault("engine.circuit_breaker.threshold", 5)
	viper.SetDefault("engine.circuit_breaker.timeout_seconds", 30)

	viper.SetDefault("rules.path", "./rules.json")

	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.pool_size", 10)

	viper.SetDefault("api.host", "0.0.0.0")
	viper.SetDefault("api.port", 8081)
}

// Load reads configuration from config.yaml (working directory or /etc/argus)
// plus ARGUS_* environment overrides, and validates the result.
func Load() (*Config, error) {
	setDefaults()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("/etc/argus")
	viper.SetEnvPrefix("ARGUS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		// Missing config file is fine; defaults and env vars apply
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// validateConfig checks configuration ranges
func validateConfig(config *Config) error {
	if config.Engine.MaxConcurrentEvents < 1 {
		return fmt.Errorf("engine.max_concurrent_events must be positive, got %d", config.Engine.MaxConcurrentEvents)
	}
	if config.Engine.TargetLatencyMs < 1 {
		return fmt.Errorf("engine.target_latency_ms must be positive, got %d", config.Engine.TargetLatencyMs)
	}
	if config.Engine.MaxProcessingTimeMs < 1 {
		return fmt.Errorf("engine.max_processing_time_ms must be positive, got %d", config.Engine.MaxProcessingTimeMs)
	}
	if config.Engine.BatchSize < 1 || config.Engine.BatchSize > 10000 {
		return fmt.Errorf("engine.batch_size must be between 1 and 10000, got %d", config.Engine.BatchSize)
	}
	if config.Engine.IngressRateLimit < 0 {
		return fmt.Errorf("engine.ingress_rate_limit must not be negative, got %d", config.Engine.IngressRateLimit)
	}
	if config.Engine.CircuitBreaker.Threshold <= 0 {
		return fmt.Errorf("circuit breaker threshold must be positive, got %d", config.Engine.CircuitBreaker.Threshold)
	}
	if config.Engine.CircuitBreaker.TimeoutSeconds <= 0 {
		return fmt.Errorf("circuit breaker timeout_seconds must be positive, got %d", config.Engine.CircuitBreaker.TimeoutSeconds)
	}

	pools := []struct {
		name    string
		workers int
		queue   int
	}{
		{"fast_pool", config.Engine.FastPool.Workers, config.Engine.FastPool.QueueSize},
		{"standard_pool", config.Engine.StandardPool.Workers, config.Engine.StandardPool.QueueSize},
		{"dispatcher", config.Engine.Dispatcher.Workers, config.Engine.Dispatcher.QueueSize},
	}
	for _, p := range pools {
		if p.workers < 1 {
			return fmt.Errorf("engine.%s.workers must be positive, got %d", p.name, p.workers)
		}
		if p.queue < 1 {
			return fmt.Errorf("engine.%s.queue_size must be positive, got %d", p.name, p.queue)
		}
	}

	if config.API.Port < 1 || config.API.Port > 65535 {
		return fmt.Errorf("api.port must be between 1 and 65535, got %d", config.API.Port)
	}

	return nil
}

// CircuitBreakerTimeout returns the breaker timeout as a duration
func (c *Config) CircuitBreakerTimeout() time.Duration {
	return time.Duration(c.Engine.CircuitBreaker.TimeoutSeconds) * time.Second
}
