package config

import "time"

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:        "spikeflow",
			Version:     "dev",
			Environment: "development",
			Debug:       false,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Engine: EngineConfig{
			TickDuration:       100 * time.Millisecond,
			DefaultMaxAge:      5.0,
			ProducerETA:        500 * time.Millisecond,
			MaxPressureWait:    time.Second,
			AcquireParallelism: 8,
			ShutdownTimeout:    5 * time.Second,
		},
		Lane: LaneConfig{
			Capacity:       256,
			MaxConcurrency: 16,
		},
		Board: BoardConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8420,
			HTTP: HTTPConfig{
				ReadTimeout:     15 * time.Second,
				WriteTimeout:    15 * time.Second,
				IdleTimeout:     60 * time.Second,
				RequestTimeout:  10 * time.Second,
				ShutdownTimeout: 5 * time.Second,
				MaxHeaderBytes:  1 << 20, // 1MB
			},
			CORS: CORSConfig{
				Enabled:        false,
				AllowedOrigins: []string{"*"},
				AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
				AllowedHeaders: []string{"Content-Type", "X-Request-ID"},
				MaxAge:         300,
			},
			WebSocket: WebSocketConfig{
				MaxConnections: 100,
				PingInterval:   30 * time.Second,
				PongTimeout:    10 * time.Second,
			},
			EmitRateLimit: 50,
			EmitBurst:     10,
		},
		Journal: JournalConfig{
			Type: "memory",
			Badger: BadgerConfig{
				Path:       "./data/journal",
				SyncWrites: false,
			},
			SQLite: SQLiteConfig{
				Path: "./data/journal.db",
			},
		},
		Ingress: IngressConfig{
			RateLimit: 100,
			Burst:     20,
			Redis: RedisConfig{
				Enabled: false,
				Address: "localhost:6379",
				DB:      0,
				Channel: "spikeflow:spikes",
			},
			GRPC: GRPCConfig{
				Enabled:              false,
				Port:                 9095,
				MaxConcurrentStreams: 100,
				MaxRecvMsgSize:       4 << 20,
				EnableReflection:     true,
				EnableHealthCheck:    true,
				ClientRateLimit:      0,
				ClientBurst:          0,
				Keepalive: GRPCKeepaliveConfig{
					MaxIdle: 15 * time.Minute,
					Time:    2 * time.Hour,
					Timeout: 20 * time.Second,
					MinTime: 5 * time.Minute,
				},
			},
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
			Port:    9091,
		},
		Tracing: TracingConfig{
			Enabled:    false,
			Exporter:   "otlp",
			Endpoint:   "localhost:4317",
			Timeout:    5 * time.Second,
			Sampler:    "parentbased_traceidratio",
			SampleRate: 0.1,
		},
	}
}
