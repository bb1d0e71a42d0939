// Command spikeflow runs a spike engine with its board, journal and remote
// ingress.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spikeflow/spikeflow/config"
	"github.com/spikeflow/spikeflow/pkg/logger"
	"github.com/spikeflow/spikeflow/pkg/version"
)

var (
	configPath  = flag.String("config", "", "Path to configuration file")
	versionFlag = flag.Bool("version", false, "Print version information")
	helpFlag    = flag.Bool("help", false, "Print help information")

	// CLI overrides
	appName      = flag.String("app-name", "", "Override app name")
	boardPort    = flag.Int("port", 0, "Override board port")
	logLevel     = flag.String("log-level", "", "Override log level")
	journalType  = flag.String("journal", "", "Override journal backend (memory, badger, sqlite)")
	tickDuration = flag.Duration("tick", 0, "Override tick duration")
	noBoard      = flag.Bool("no-board", false, "Disable the board")
	debugMode    = flag.Bool("debug", false, "Enable debug mode")
)

func main() {
	flag.Parse()

	if *helpFlag {
		printHelp()
		os.Exit(0)
	}
	if *versionFlag {
		fmt.Println(version.String())
		os.Exit(0)
	}

	overrides := buildOverrides()
	cfg, err := config.Load(*configPath, overrides)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration:\n%s\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.ToLoggerConfig())
	logger.SetGlobal(log)

	log.Info("Starting spikeflow",
		"version", version.Version,
		"buildTime", version.BuildTime,
		"gitCommit", version.GitCommit,
		"app", cfg.App.Name,
		"environment", cfg.App.Environment,
	)
	log.Debug("Configuration loaded", "config", cfg.String())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		log.Error("Failed to initialize", "error", err)
		os.Exit(1)
	}
	if *configPath != "" {
		a.watchConfig(*configPath, overrides)
	}

	if err := a.run(ctx); err != nil {
		log.Error("spikeflow stopped with error", "error", err)
		_ = log.Close()
		os.Exit(1)
	}
	log.Info("spikeflow stopped gracefully")
	_ = log.Close()
}

func buildOverrides() map[string]interface{} {
	overrides := make(map[string]interface{})

	if *appName != "" {
		overrides["app.name"] = *appName
	}
	if *boardPort != 0 {
		overrides["board.port"] = *boardPort
	}
	if *logLevel != "" {
		overrides["log.level"] = *logLevel
	}
	if *journalType != "" {
		overrides["journal.type"] = *journalType
	}
	if *tickDuration > 0 {
		overrides["engine.tick_duration"] = *tickDuration
	}
	if *noBoard {
		overrides["board.enabled"] = false
	}
	if *debugMode {
		overrides["app.debug"] = true
	}
	return overrides
}

func printHelp() {
	fmt.Printf("spikeflow - tick-driven spike engine\n\n")
	fmt.Printf("Usage: spikeflow [options]\n\n")
	fmt.Printf("Options:\n")
	flag.PrintDefaults()
	fmt.Printf("\nExamples:\n")
	fmt.Printf("  spikeflow                                 # Run with default config\n")
	fmt.Printf("  spikeflow -config spikeflow.yaml          # Use specific config file\n")
	fmt.Printf("  spikeflow -journal sqlite -tick 50ms      # Override specific options\n")
	fmt.Printf("  spikeflow -version                        # Print version info\n")
}
