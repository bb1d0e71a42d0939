// Package config provides configuration management for spikeflow.
package config

import (
	"fmt"
	"time"
)

// Config is the global configuration for spikeflow.
type Config struct {
	// App is the application configuration.
	App AppConfig `mapstructure:"app" validate:"required"`

	// Log is the logging configuration.
	Log LogConfig `mapstructure:"log" validate:"required"`

	// Engine tunes the tick loop.
	Engine EngineConfig `mapstructure:"engine"`

	// Lane configures the worker lane that runs state bodies.
	Lane LaneConfig `mapstructure:"lane"`

	// Board is the inspection HTTP/websocket server.
	Board BoardConfig `mapstructure:"board"`

	// Journal selects where lifecycle entries are recorded.
	Journal JournalConfig `mapstructure:"journal"`

	// Ingress configures external spike sources.
	Ingress IngressConfig `mapstructure:"ingress"`

	// Metrics is the observability configuration.
	Metrics MetricsConfig `mapstructure:"metrics"`

	// Tracing is the distributed tracing configuration.
	Tracing TracingConfig `mapstructure:"tracing"`

	// Modules holds free-form configuration per module, keyed by module
	// name. States read it through their scope's Conf.
	Modules map[string]map[string]any `mapstructure:"modules"`
}

// AppConfig holds application metadata and settings.
type AppConfig struct {
	// Name is the application name.
	Name string `mapstructure:"name" validate:"required"`

	// Version is the application version.
	Version string `mapstructure:"version"`

	// Environment is the runtime environment (development, staging, production).
	Environment string `mapstructure:"environment" validate:"env"`

	// Debug enables debug mode with verbose logging.
	Debug bool `mapstructure:"debug"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Level is the log level (debug, info, warn, error).
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`

	// Format is the output format (json, text).
	Format string `mapstructure:"format" validate:"oneof=json text"`

	// Output is the output destination (stdout, stderr, or file path).
	Output string `mapstructure:"output"`
}

// EngineConfig holds the tick loop settings.
type EngineConfig struct {
	// TickDuration is the wall-clock length of one tick.
	TickDuration time.Duration `mapstructure:"tick_duration" validate:"gt=0"`

	// DefaultMaxAge is the max age in seconds of signals declared without one.
	// Negative means unbounded.
	DefaultMaxAge float64 `mapstructure:"default_max_age"`

	// ProducerETA is the assumed delay for a signal that some state emits but
	// that was never seen.
	ProducerETA time.Duration `mapstructure:"producer_eta" validate:"gte=0"`

	// MaxPressureWait bounds how long a pressured activation keeps a
	// contested spike.
	MaxPressureWait time.Duration `mapstructure:"max_pressure_wait" validate:"gte=0"`

	// AcquireParallelism limits the goroutines offering spikes per tick.
	AcquireParallelism int `mapstructure:"acquire_parallelism" validate:"min=1"`

	// ShutdownTimeout bounds the wait for running bodies on shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gte=0"`
}

// LaneConfig holds the firing lane settings.
type LaneConfig struct {
	// Capacity is the number of firings that may queue.
	Capacity int `mapstructure:"capacity" validate:"min=1"`

	// MaxConcurrency is the number of workers.
	MaxConcurrency int `mapstructure:"max_concurrency" validate:"min=1"`

	// RateLimit caps firings admitted per second, 0 = unlimited.
	RateLimit float64 `mapstructure:"rate_limit" validate:"gte=0"`
}

// BoardConfig holds the inspection server settings.
type BoardConfig struct {
	// Enabled starts the board.
	Enabled bool `mapstructure:"enabled"`

	// Host is the bind address.
	Host string `mapstructure:"host" validate:"host"`

	// Port is the HTTP port.
	Port int `mapstructure:"port" validate:"min=1,max=65535"`

	// HTTP holds server timeouts.
	HTTP HTTPConfig `mapstructure:"http"`

	// CORS is the CORS configuration.
	CORS CORSConfig `mapstructure:"cors"`

	// WebSocket configures the live event stream.
	WebSocket WebSocketConfig `mapstructure:"websocket"`

	// EmitRateLimit caps POST /api/v1/spikes requests per second, 0 = unlimited.
	EmitRateLimit float64 `mapstructure:"emit_rate_limit" validate:"gte=0"`

	// EmitBurst is the burst size of the emit limiter.
	EmitBurst int `mapstructure:"emit_burst" validate:"min=0"`
}

// HTTPConfig holds HTTP-specific settings.
type HTTPConfig struct {
	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`

	// IdleTimeout is the maximum amount of time to wait for the next request.
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`

	// RequestTimeout bounds a single API request. Websocket streams are exempt.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// MaxHeaderBytes limits the size of request headers.
	MaxHeaderBytes int `mapstructure:"max_header_bytes"`
}

// CORSConfig holds CORS settings.
type CORSConfig struct {
	// Enabled enables CORS support.
	Enabled bool `mapstructure:"enabled"`

	// AllowedOrigins is the list of allowed origins.
	AllowedOrigins []string `mapstructure:"allowed_origins"`

	// AllowedMethods is the list of allowed HTTP methods.
	AllowedMethods []string `mapstructure:"allowed_methods"`

	// AllowedHeaders is the list of allowed headers.
	AllowedHeaders []string `mapstructure:"allowed_headers"`

	// ExposedHeaders is the list of headers exposed to the client.
	ExposedHeaders []string `mapstructure:"exposed_headers"`

	// AllowCredentials indicates whether credentials are allowed.
	AllowCredentials bool `mapstructure:"allow_credentials"`

	// MaxAge is the maximum age of CORS preflight cache in seconds.
	MaxAge int `mapstructure:"max_age"`
}

// WebSocketConfig holds the event stream settings.
type WebSocketConfig struct {
	// MaxConnections caps concurrent subscribers.
	MaxConnections int `mapstructure:"max_connections" validate:"min=0"`

	// PingInterval is how often clients are pinged.
	PingInterval time.Duration `mapstructure:"ping_interval"`

	// PongTimeout is how long to wait for a pong.
	PongTimeout time.Duration `mapstructure:"pong_timeout"`
}

// JournalConfig holds lifecycle journal settings.
type JournalConfig struct {
	// Type is the backend (memory, badger, sqlite).
	Type string `mapstructure:"type" validate:"oneof=memory badger sqlite"`

	// Badger is the BadgerDB configuration.
	Badger BadgerConfig `mapstructure:"badger"`

	// SQLite is the SQLite configuration.
	SQLite SQLiteConfig `mapstructure:"sqlite"`
}

// BadgerConfig holds BadgerDB-specific settings.
type BadgerConfig struct {
	// Path is the database directory path.
	Path string `mapstructure:"path"`

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool `mapstructure:"sync_writes"`
}

// SQLiteConfig holds SQLite-specific settings.
type SQLiteConfig struct {
	// Path is the database file, ":memory:" for a private in-memory db.
	Path string `mapstructure:"path"`
}

// IngressConfig holds external spike source settings.
type IngressConfig struct {
	// RateLimit caps accepted spikes per second across all sources, 0 = unlimited.
	RateLimit float64 `mapstructure:"rate_limit" validate:"gte=0"`

	// Burst is the burst size of the limiter.
	Burst int `mapstructure:"burst" validate:"min=0"`

	// Redis is the Redis pub/sub source.
	Redis RedisConfig `mapstructure:"redis"`

	// GRPC is the gRPC emit endpoint.
	GRPC GRPCConfig `mapstructure:"grpc"`
}

// RedisConfig holds Redis-specific settings.
type RedisConfig struct {
	// Enabled subscribes to Channel on start.
	Enabled bool `mapstructure:"enabled"`

	// Address is the Redis server address.
	Address string `mapstructure:"address"`

	// Password is the Redis password.
	Password string `mapstructure:"password"`

	// DB is the Redis database number.
	DB int `mapstructure:"db" validate:"min=0"`

	// Channel is the pub/sub channel carrying spike messages.
	Channel string `mapstructure:"channel"`
}

// MetricsConfig holds observability settings.
type MetricsConfig struct {
	// Enabled enables metrics collection.
	Enabled bool `mapstructure:"enabled"`

	// Path is the metrics endpoint path.
	Path string `mapstructure:"path"`

	// Port is the metrics server port.
	Port int `mapstructure:"port" validate:"min=1,max=65535"`
}

// TracingConfig holds distributed tracing settings.
type TracingConfig struct {
	// Enabled enables distributed tracing.
	Enabled bool `mapstructure:"enabled"`

	// Exporter is the span exporter (otlp).
	Exporter string `mapstructure:"exporter" validate:"omitempty,oneof=otlp"`

	// Endpoint is the collector endpoint.
	Endpoint string `mapstructure:"endpoint"`

	// Timeout bounds one export.
	Timeout time.Duration `mapstructure:"timeout"`

	// Headers are sent with every export.
	Headers map[string]string `mapstructure:"headers"`

	// Sampler is always_on, always_off or parentbased_traceidratio.
	Sampler string `mapstructure:"sampler" validate:"omitempty,oneof=always_on always_off parentbased_traceidratio"`

	// SampleRate is the fraction of traces to sample (0.0-1.0).
	SampleRate float64 `mapstructure:"sample_rate" validate:"min=0,max=1"`
}

// Validate performs validation on the configuration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// Module returns the configuration of one module, nil when absent.
func (c *Config) Module(name string) map[string]any {
	return c.Modules[name]
}

// String returns a string representation of the configuration (without sensitive data).
func (c *Config) String() string {
	return fmt.Sprintf("Config{App: %s, Env: %s, Tick: %s, Board: %v:%d, Journal: %s}",
		c.App.Name, c.App.Environment, c.Engine.TickDuration, c.Board.Enabled, c.Board.Port, c.Journal.Type)
}
