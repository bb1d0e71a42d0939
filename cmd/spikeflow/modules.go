package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/spikeflow/spikeflow/config"
	"github.com/spikeflow/spikeflow/pkg/activation"
	"github.com/spikeflow/spikeflow/pkg/constraint"
	"github.com/spikeflow/spikeflow/pkg/engine"
)

// builtins are the modules the binary can load. A module is loaded when its
// name appears under "modules" in the configuration.
var builtins = map[string]func(conf map[string]any) (*engine.Module, error){
	"echo":      echoModule,
	"heartbeat": heartbeatModule,
}

func registerModules(eng *engine.Engine, cfg *config.Config) error {
	names := make([]string, 0, len(cfg.Modules))
	for name := range cfg.Modules {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		build, ok := builtins[name]
		if !ok {
			// Configuration for modules registered by embedding programs.
			continue
		}
		m, err := build(cfg.Module(name))
		if err != nil {
			return fmt.Errorf("build module %s: %w", name, err)
		}
		if err := eng.AddModule(m); err != nil {
			return err
		}
	}
	return nil
}

// echoModule answers every spike of "listen" with a "reply" spike carrying
// the same payload.
func echoModule(conf map[string]any) (*engine.Module, error) {
	listen := stringConf(conf, "listen", "ping")
	reply := stringConf(conf, "reply", "pong")

	m := engine.NewModule("echo", map[string]any{"listen": "ping", "reply": "pong"})
	_, err := m.State("reply", func(_ context.Context, scope *activation.Scope) activation.Result {
		payload, _ := scope.Payload(listen)
		return activation.Emit(payload)
	},
		activation.When(constraint.S(listen)),
		activation.Emits(constraint.S(reply)),
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// heartbeatModule emits "signal" on startup and then every "interval"
// seconds. Each beat starts its own causal group.
func heartbeatModule(conf map[string]any) (*engine.Module, error) {
	signal := stringConf(conf, "signal", "heartbeat")
	interval := floatConf(conf, "interval", 1.0)
	if interval <= 0 {
		return nil, fmt.Errorf("interval must be > 0, got %v", interval)
	}

	m := engine.NewModule("heartbeat", map[string]any{"signal": "heartbeat", "interval": 1.0})
	beat := func(context.Context, *activation.Scope) activation.Result {
		return activation.Emit(nil)
	}
	if _, err := m.State("start", beat,
		activation.Emits(constraint.S(signal, constraint.Detached())),
	); err != nil {
		return nil, err
	}
	if _, err := m.State("beat", beat,
		activation.When(constraint.S(signal, constraint.WithMinAge(interval), constraint.Unbounded())),
		activation.Emits(constraint.S(signal, constraint.Detached())),
	); err != nil {
		return nil, err
	}
	return m, nil
}

func stringConf(conf map[string]any, key, def string) string {
	if s, ok := conf[key].(string); ok && s != "" {
		return s
	}
	return def
}

func floatConf(conf map[string]any, key string, def float64) float64 {
	switch v := conf[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return def
}
