// Package main provides the Energy Management System (EMS) entry point and CLI interface.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/devskill-org/energy-management-system/internal/config"
	"github.com/devskill-org/energy-management-system/internal/engine"
	"github.com/devskill-org/energy-management-system/internal/persistence"
)

// version is stamped at build time via -ldflags; "dev" is the fallback for
// local/unstamped builds.
var version = "dev"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("ems", flag.ContinueOnError)
	var (
		configFile = fs.String("config", "config.json", "Configuration file path")
		help       = fs.Bool("help", false, "Show help message")
		showVer    = fs.Bool("version", false, "Show version")
	)
	fs.BoolVar(help, "h", false, "Show help message (shorthand)")
	fs.BoolVar(showVer, "v", false, "Show version (shorthand)")

	if err := fs.Parse(args); err != nil {
		return 1
	}

	if *help {
		showHelp(fs)
		return 0
	}
	if *showVer {
		fmt.Printf("ems %s\n", version)
		return 0
	}

	cfg, err := config.LoadConfig(*configFile)
	if errors.Is(err, os.ErrNotExist) {
		cfg = config.DefaultConfig()
	} else if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		return 1
	}
	config.LoadEnvOverlay(cfg)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		return 1
	}

	flags := log.LstdFlags
	if cfg.LogLevel == "debug" {
		flags |= log.Lmicroseconds | log.Lshortfile
	}
	logger := log.New(os.Stdout, "[EMS] ", flags)
	logger.Printf("Starting Energy Management System %s", version)
	logger.Printf("  Location: %s", cfg.Location)
	logger.Printf("  Decision tick interval: %s", cfg.DecisionTickInterval)
	if cfg.DebugModeNoHardwareWrites {
		logger.Printf("  Mode: DEBUG (hardware writes simulated only)")
	}

	e, err := engine.New(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error building engine: %v\n", err)
		return 1
	}
	e.SetConfigPath(*configFile)

	upgraderState, err := persistence.LoadUpgraderState(cfg.UpgraderStatePath)
	if err != nil {
		logger.Printf("Upgrader state unreadable, resetting: %v", err)
		upgraderState = persistence.UpgraderState{}
	}
	upgraderState.CurrentVersion = version
	upgraderState.LastCheck = time.Now().UTC()
	if err := upgraderState.Save(cfg.UpgraderStatePath); err != nil {
		logger.Printf("Failed to record upgrader state: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- e.Run(ctx)
	}()

	logger.Printf("Engine started. Press Ctrl+C to stop...")

	select {
	case <-sigChan:
		logger.Printf("Shutdown signal received, stopping engine...")
	case err := <-errChan:
		if err != nil && err != context.Canceled {
			logger.Printf("Engine exited with error: %v", err)
			return 1
		}
	}

	cancel()
	e.Stop()
	logger.Printf("Engine stopped successfully")
	return 0
}

func showHelp(fs *flag.FlagSet) {
	fmt.Println("Energy Management System (EMS) - autonomous PV/battery decision engine")
	fmt.Println()
	fmt.Println("DESCRIPTION:")
	fmt.Println("  Integrates solar (PV), battery storage, and grid connection. Ingests day-ahead")
	fmt.Println("  spot prices, solar forecasts, and inverter telemetry, evaluates a priority-ordered")
	fmt.Println("  set of economic strategies each decision tick, and dispatches the winning")
	fmt.Println("  operation mode to the battery inverter.")
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  ems [OPTIONS]")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fs.PrintDefaults()
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  # Basic usage with default settings")
	fmt.Println("  ems")
	fmt.Println()
	fmt.Println("  # Custom configuration")
	fmt.Println("  ems --config=config.json")
	fmt.Println()
	fmt.Println("  # Show version")
	fmt.Println("  ems --version")
	fmt.Println()
	fmt.Println("  # Show this help")
	fmt.Println("  ems --help")
}
