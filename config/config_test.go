package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.App.Name != "spikeflow" {
		t.Errorf("expected app name 'spikeflow', got %s", cfg.App.Name)
	}
	if cfg.App.Environment != "development" {
		t.Errorf("expected environment 'development', got %s", cfg.App.Environment)
	}
	if cfg.Engine.TickDuration != 100*time.Millisecond {
		t.Errorf("expected tick duration 100ms, got %v", cfg.Engine.TickDuration)
	}
	if cfg.Engine.DefaultMaxAge != 5.0 {
		t.Errorf("expected default max age 5, got %v", cfg.Engine.DefaultMaxAge)
	}
	if cfg.Board.Port != 8420 {
		t.Errorf("expected board port 8420, got %d", cfg.Board.Port)
	}
	if cfg.Journal.Type != "memory" {
		t.Errorf("expected memory journal, got %s", cfg.Journal.Type)
	}
	if cfg.Ingress.Redis.Enabled {
		t.Error("expected redis ingress to be disabled")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should be valid: %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(cfg *Config)
		wantErr bool
	}{
		{name: "valid config", mutate: func(*Config) {}},
		{name: "missing app name", mutate: func(cfg *Config) { cfg.App.Name = "" }, wantErr: true},
		{name: "invalid board port", mutate: func(cfg *Config) { cfg.Board.Port = 99999 }, wantErr: true},
		{name: "invalid log level", mutate: func(cfg *Config) { cfg.Log.Level = "trace" }, wantErr: true},
		{name: "invalid environment", mutate: func(cfg *Config) { cfg.App.Environment = "invalid" }, wantErr: true},
		{name: "zero tick duration", mutate: func(cfg *Config) { cfg.Engine.TickDuration = 0 }, wantErr: true},
		{name: "zero acquire parallelism", mutate: func(cfg *Config) { cfg.Engine.AcquireParallelism = 0 }, wantErr: true},
		{name: "negative lane rate", mutate: func(cfg *Config) { cfg.Lane.RateLimit = -1 }, wantErr: true},
		{name: "unknown journal", mutate: func(cfg *Config) { cfg.Journal.Type = "postgres" }, wantErr: true},
		{name: "badger without path", mutate: func(cfg *Config) {
			cfg.Journal.Type = "badger"
			cfg.Journal.Badger.Path = ""
		}, wantErr: true},
		{name: "sqlite in memory", mutate: func(cfg *Config) {
			cfg.Journal.Type = "sqlite"
			cfg.Journal.SQLite.Path = ":memory:"
		}},
		{name: "redis without channel", mutate: func(cfg *Config) {
			cfg.Ingress.Redis.Enabled = true
			cfg.Ingress.Redis.Channel = ""
		}, wantErr: true},
		{name: "grpc port out of range", mutate: func(cfg *Config) {
			cfg.Ingress.GRPC.Enabled = true
			cfg.Ingress.GRPC.Port = 0
		}, wantErr: true},
		{name: "negative grpc client rate", mutate: func(cfg *Config) { cfg.Ingress.GRPC.ClientRateLimit = -1 }, wantErr: true},
		{name: "grpc host with space", mutate: func(cfg *Config) { cfg.Ingress.GRPC.Host = "local host" }, wantErr: true},
		{name: "tracing without endpoint", mutate: func(cfg *Config) {
			cfg.Tracing.Enabled = true
			cfg.Tracing.Endpoint = ""
		}, wantErr: true},
		{name: "unknown sampler", mutate: func(cfg *Config) { cfg.Tracing.Sampler = "sometimes" }, wantErr: true},
		{name: "board host with space", mutate: func(cfg *Config) { cfg.Board.Host = "local host" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateWithDetails(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Journal.Type = "badger"
	cfg.Journal.Badger.Path = ""
	cfg.Log.Level = "trace"

	err := ValidateWithDetails(cfg)
	var details ValidationErrors
	if !errors.As(err, &details) {
		t.Fatalf("expected ValidationErrors, got %T: %v", err, err)
	}
	if len(details) != 2 {
		t.Fatalf("expected 2 errors, got %d: %v", len(details), details)
	}

	msg := details.Error()
	if !strings.Contains(msg, "Badger.Path") || !strings.Contains(msg, "badger is selected") {
		t.Errorf("expected badger path error, got %s", msg)
	}
	if !strings.Contains(msg, "must be one of [debug info warn error]") {
		t.Errorf("expected log level error, got %s", msg)
	}
}

func TestValidationErrors_Error(t *testing.T) {
	if got := (ValidationErrors{}).Error(); got != "no validation errors" {
		t.Errorf("unexpected empty message %q", got)
	}

	errs := ValidationErrors{
		{Field: "board.port", Message: "must be at most 65535", Value: 99999},
		{Field: "log.level", Message: "must be one of [debug info warn error]", Value: "trace"},
	}
	msg := errs.Error()
	if !strings.Contains(msg, "board.port: must be at most 65535 (got 99999)") {
		t.Errorf("unexpected message %q", msg)
	}
}

func TestConfig_String(t *testing.T) {
	s := DefaultConfig().String()
	if !strings.Contains(s, "spikeflow") || !strings.Contains(s, "memory") {
		t.Errorf("unexpected string representation %q", s)
	}
}

func TestConfig_Conversions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Engine.TickDuration = 250 * time.Millisecond
	cfg.Lane.MaxConcurrency = 3
	cfg.Lane.RateLimit = 7
	cfg.Modules = map[string]map[string]any{"counter": {"start": 3}}
	cfg.App.Debug = true

	ec := cfg.ToEngineConfig()
	if ec.TickDuration != 250*time.Millisecond {
		t.Errorf("expected tick 250ms, got %v", ec.TickDuration)
	}
	if ec.Lane.MaxConcurrency != 3 || ec.Lane.RateLimit != 7 || ec.Lane.Name == "" {
		t.Errorf("unexpected lane config %+v", ec.Lane)
	}
	if ec.Modules["counter"]["start"] != 3 {
		t.Errorf("expected module config to be carried over, got %v", ec.Modules)
	}
	if err := ec.Validate(); err != nil {
		t.Errorf("converted engine config invalid: %v", err)
	}

	if lc := cfg.ToLoggerConfig(); lc.Level.String() != "debug" {
		t.Errorf("debug mode should force debug level, got %s", lc.Level)
	}

	mc := cfg.ToMetricsConfig()
	if mc.Port != cfg.Metrics.Port || mc.Path != cfg.Metrics.Path || len(mc.TickDurationBuckets) == 0 {
		t.Errorf("unexpected metrics config %+v", mc)
	}

	cfg.Ingress.GRPC.Host = "127.0.0.1"
	cfg.Ingress.GRPC.Port = 7000
	gc := cfg.Ingress.GRPC.ToIngressConfig()
	if gc.Address != "127.0.0.1:7000" {
		t.Errorf("expected grpc address 127.0.0.1:7000, got %s", gc.Address)
	}
	if gc.Keepalive == nil || gc.Keepalive.Time != cfg.Ingress.GRPC.Keepalive.Time {
		t.Errorf("expected keepalive to be carried over, got %+v", gc.Keepalive)
	}
	if !gc.EnableHealthCheck || gc.MaxConcurrentStreams != 100 {
		t.Errorf("unexpected grpc config %+v", gc)
	}
}

func TestEnvKey(t *testing.T) {
	tests := []struct {
		env  string
		want string
	}{
		{"SPIKEFLOW_ENGINE_TICK_DURATION", "engine.tick_duration"},
		{"SPIKEFLOW_LOG_LEVEL", "log.level"},
		{"SPIKEFLOW_BOARD_HTTP__READ_TIMEOUT", "board.http.read_timeout"},
		{"SPIKEFLOW_MODULES_COUNTER__START", "modules.counter.start"},
		{"SPIKEFLOW_JOURNAL", "journal"},
	}
	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			if got := envKey(tt.env); got != tt.want {
				t.Errorf("envKey(%s) = %s, want %s", tt.env, got, tt.want)
			}
		})
	}
}

func TestLoader_Defaults(t *testing.T) {
	cfg, err := NewLoader().Load("", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Engine.TickDuration != 100*time.Millisecond {
		t.Errorf("expected default tick duration, got %v", cfg.Engine.TickDuration)
	}
	if len(cfg.Board.CORS.AllowedMethods) != 4 {
		t.Errorf("expected default CORS methods, got %v", cfg.Board.CORS.AllowedMethods)
	}
}

func TestLoader_LoadFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "spikeflow.yaml")
	content := `app:
  name: file-test
engine:
  tick_duration: 50ms
  default_max_age: 2
journal:
  type: sqlite
  sqlite:
    path: ":memory:"
modules:
  counter:
    start: 3
    label: ticks
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	loader := NewLoader()
	cfg, err := loader.Load(configPath, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.App.Name != "file-test" {
		t.Errorf("expected app name from file, got %s", cfg.App.Name)
	}
	if cfg.Engine.TickDuration != 50*time.Millisecond {
		t.Errorf("expected tick duration 50ms, got %v", cfg.Engine.TickDuration)
	}
	if cfg.Engine.DefaultMaxAge != 2 {
		t.Errorf("expected default max age 2, got %v", cfg.Engine.DefaultMaxAge)
	}
	// Keys the file leaves out keep their defaults.
	if cfg.Engine.AcquireParallelism != 8 {
		t.Errorf("expected default parallelism, got %d", cfg.Engine.AcquireParallelism)
	}
	if cfg.Journal.Type != "sqlite" || cfg.Journal.SQLite.Path != ":memory:" {
		t.Errorf("unexpected journal config %+v", cfg.Journal)
	}
	if got := fmt.Sprint(cfg.Module("counter")["start"]); got != "3" {
		t.Errorf("expected modules.counter.start 3, got %s", got)
	}
	if got := loader.GetString("modules.counter.label"); got != "ticks" {
		t.Errorf("expected label 'ticks', got %q", got)
	}
}

func TestLoader_LoadJSONFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "spikeflow.json")
	content := `{"app": {"name": "json-test"}, "lane": {"capacity": 32}}`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(configPath, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.App.Name != "json-test" || cfg.Lane.Capacity != 32 {
		t.Errorf("unexpected config %+v %+v", cfg.App, cfg.Lane)
	}
}

func TestLoader_Errors(t *testing.T) {
	dir := t.TempDir()

	if _, err := NewLoader().Load(filepath.Join(dir, "missing.yaml"), nil); err == nil {
		t.Error("expected error for missing file")
	}

	unsupported := filepath.Join(dir, "spikeflow.toml")
	if err := os.WriteFile(unsupported, []byte("x = 1"), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	if _, err := NewLoader().Load(unsupported, nil); err == nil {
		t.Error("expected error for unsupported format")
	}

	invalid := filepath.Join(dir, "invalid.yaml")
	if err := os.WriteFile(invalid, []byte("engine:\n  tick_duration: 0s\n"), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	_, err := NewLoader().Load(invalid, nil)
	var details ValidationErrors
	if !errors.As(err, &details) {
		t.Errorf("expected validation errors, got %v", err)
	}
}

func TestLoader_EnvAndOverrides(t *testing.T) {
	t.Setenv("SPIKEFLOW_ENGINE_TICK_DURATION", "250ms")
	t.Setenv("SPIKEFLOW_LOG_LEVEL", "debug")
	t.Setenv("SPIKEFLOW_BOARD_HTTP__READ_TIMEOUT", "3s")

	cfg, err := NewLoader().Load("", map[string]interface{}{
		"board.port":   9000,
		"log.level":    "warn",
		"journal.type": "memory",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Engine.TickDuration != 250*time.Millisecond {
		t.Errorf("expected tick duration from env, got %v", cfg.Engine.TickDuration)
	}
	if cfg.Board.HTTP.ReadTimeout != 3*time.Second {
		t.Errorf("expected read timeout from env, got %v", cfg.Board.HTTP.ReadTimeout)
	}
	// Overrides beat the environment.
	if cfg.Log.Level != "warn" {
		t.Errorf("expected override log level, got %s", cfg.Log.Level)
	}
	if cfg.Board.Port != 9000 {
		t.Errorf("expected override port, got %d", cfg.Board.Port)
	}
}

func TestLoader_SetAndGet(t *testing.T) {
	loader := NewLoader()
	if _, err := loader.Load("", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := loader.Set("custom.flag", true); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if !loader.GetBool("custom.flag") {
		t.Error("expected custom.flag to be true")
	}
	if loader.GetInt("board.port") != 8420 {
		t.Errorf("expected board port 8420, got %d", loader.GetInt("board.port"))
	}
	if loader.Get("missing.key") != nil {
		t.Error("expected nil for missing key")
	}
	if loader.Print() == "" {
		t.Error("expected non-empty print output")
	}
}

func TestLoadOrDie_Panic(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for missing file")
		}
	}()
	LoadOrDie("/nonexistent/spikeflow.yaml", nil)
}
