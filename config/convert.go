package config

import (
	"github.com/spikeflow/spikeflow/pkg/engine"
	"github.com/spikeflow/spikeflow/pkg/lane"
	"github.com/spikeflow/spikeflow/pkg/logger"
	"github.com/spikeflow/spikeflow/pkg/metrics"
)

// ToEngineConfig converts the engine, lane and modules sections to
// engine.Config.
func (c *Config) ToEngineConfig() engine.Config {
	cfg := engine.DefaultConfig()
	cfg.TickDuration = c.Engine.TickDuration
	cfg.MaxPressureWait = c.Engine.MaxPressureWait
	cfg.ProducerETA = c.Engine.ProducerETA
	cfg.AcquireParallelism = c.Engine.AcquireParallelism
	cfg.ShutdownTimeout = c.Engine.ShutdownTimeout
	cfg.Lane = lane.Config{
		Name:           cfg.Lane.Name,
		Capacity:       c.Lane.Capacity,
		MaxConcurrency: c.Lane.MaxConcurrency,
		RateLimit:      c.Lane.RateLimit,
	}
	if len(c.Modules) > 0 {
		cfg.Modules = make(map[string]map[string]any, len(c.Modules))
		for name, values := range c.Modules {
			cfg.Modules[name] = values
		}
	}
	return cfg
}

// ToLoggerConfig converts LogConfig to logger.Config. Debug mode forces
// the debug level.
func (c *Config) ToLoggerConfig() *logger.Config {
	level := logger.ParseLevel(c.Log.Level)
	if c.App.Debug {
		level = logger.DebugLevel
	}
	return &logger.Config{
		Level:  level,
		Format: c.Log.Format,
		Output: c.Log.Output,
	}
}

// ToMetricsConfig converts MetricsConfig to metrics.Config, keeping the
// default histogram buckets.
func (c *Config) ToMetricsConfig() metrics.Config {
	cfg := metrics.DefaultConfig()
	cfg.Enabled = c.Metrics.Enabled
	cfg.Port = c.Metrics.Port
	cfg.Path = c.Metrics.Path
	return cfg
}
