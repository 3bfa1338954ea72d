// casetalink connects to a Lutron Caseta Smart Bridge over telnet, logs in,
// and turns Pico remote button presses into events. Events are logged,
// journaled to SQLite, published over MQTT and served by a small REST API.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/casetalink/casetalink/internal/api"
	"github.com/casetalink/casetalink/internal/cli"
	"github.com/casetalink/casetalink/internal/config"
	"github.com/casetalink/casetalink/internal/connector"
	"github.com/casetalink/casetalink/internal/db"
	"github.com/casetalink/casetalink/internal/events"
	"github.com/casetalink/casetalink/internal/protocol"
	"github.com/casetalink/casetalink/internal/telemetry"
	"github.com/casetalink/casetalink/internal/util"
)

const (
	AppName = "casetalink"
	Banner  = `
  casetalink v%s
  Caseta Smart Bridge event listener
`
)

const shutdownTimeout = 15 * time.Second

type options struct {
	configPath string
	logLevel   string
	setup      bool
	noCLI      bool
	version    bool
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func parseFlags(args []string) (options, error) {
	var opts options

	flagSet := pflag.NewFlagSet(AppName, pflag.ContinueOnError)
	flagSet.StringVarP(&opts.configPath, "config", "c",
		filepath.Join(config.DefaultConfigDir, config.DefaultConfigFile),
		"path to the JSON or TOML configuration file")
	flagSet.StringVar(&opts.logLevel, "log-level", "", "override the configured log level (trace, debug, info, warn, error)")
	flagSet.BoolVar(&opts.setup, "setup", false, "run the interactive setup wizard and save the result")
	flagSet.BoolVar(&opts.noCLI, "no-cli", false, "do not start the interactive command line")
	flagSet.BoolVar(&opts.version, "version", false, "print the version and exit")

	if err := flagSet.Parse(args); err != nil {
		return opts, err
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return opts, fmt.Errorf("unexpected argument: %s", rest[0])
	}
	return opts, nil
}

func run(args []string) int {
	opts, err := parseFlags(args)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(os.Stderr, "%s: %v\n", AppName, err)
		return 2
	}
	if opts.version {
		fmt.Printf("%s %s\n", AppName, util.Version)
		return 0
	}

	fmt.Printf(Banner, util.Version)
	fmt.Println()

	// Initialize logger with defaults first (reconfigured after config load)
	if err := util.InitLogger(util.DefaultLogConfig()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		return 1
	}
	defer util.CloseLogger()

	log.Info().
		Str("version", util.Version).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Msg("starting casetalink")

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		log.Error().Err(err).Msg("failed to load configuration")
		return 1
	}

	if opts.setup || cfg.IsFirstRun() {
		log.Info().Msg("launching setup wizard")
		if err := config.RunSetupWizard(cfg, os.Stdin, os.Stdout); err != nil {
			log.Error().Err(err).Msg("setup wizard failed")
			return 1
		}
	}

	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	logging := cfg.GetLogging()
	if err := util.InitLogger(util.LogConfig{
		Level:      logging.Level,
		Directory:  logging.Directory,
		MaxSizeMB:  logging.MaxSizeMB,
		MaxBackups: logging.MaxBackups,
		MaxAgeDays: logging.MaxAgeDays,
		Console:    true,
	}); err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	}

	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		log.Error().Msg("configuration validation failed, please fix the errors above")
		return 1
	}

	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("hostname", sysInfo.Hostname).
		Str("os", sysInfo.OS).
		Int("cores", sysInfo.CPUCores).
		Uint64("memory_mb", sysInfo.TotalMemory).
		Msg("system information")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eventBus := events.NewEventBus()

	shutdownCh := make(chan struct{})
	var shutdownOnce sync.Once
	eventBus.Subscribe(events.EventShutdown, "main.shutdown", func(context.Context, events.Event) error {
		shutdownOnce.Do(func() { close(shutdownCh) })
		return nil
	})

	// Event journal
	var journal *db.Journal
	if jc := cfg.GetJournal(); jc.Enabled {
		journal, err = db.NewJournal(jc.Path, jc.Retain)
		if err != nil {
			log.Error().Err(err).Msg("failed to open event journal")
			return 1
		}
		defer journal.Close()
		journal.Subscribe(eventBus)
	}

	bridge := connector.NewBridgeConnector(cfg, eventBus)

	// Initialize MQTT telemetry
	var mqttHandler *telemetry.MQTTHandler
	if cfg.GetMQTT().Enabled {
		mqttHandler, err = telemetry.NewMQTTHandler(cfg, eventBus)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
		}
	}

	var wg sync.WaitGroup

	if mqttHandler != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Msg("starting MQTT telemetry")
			if err := mqttHandler.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("MQTT telemetry failed")
			}
		}()
	}

	if cfg.GetAPI().Enabled {
		var history api.History
		if journal != nil {
			history = journal
		}
		apiServer := api.NewServer(cfg, bridge, history)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := apiServer.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("REST API server failed (non-fatal)")
			}
		}()
	}

	if !opts.noCLI {
		var history cli.History
		if journal != nil {
			history = journal
		}
		cliHandler := cli.NewCLI(eventBus, bridge, history, os.Stdin, os.Stdout)

		// The CLI blocks on stdin; it is not waited for on shutdown.
		go cliHandler.Start(ctx)
	}

	bridgeDone := make(chan error, 1)
	go func() {
		bridgeDone <- bridge.Run(ctx)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	exitCode := 0
	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case <-shutdownCh:
		log.Info().Msg("shutdown requested")
	case err := <-bridgeDone:
		bridgeDone <- err
		switch {
		case err == nil:
		case errors.Is(err, protocol.ErrEndOfStream):
			log.Info().Msg("bridge closed the connection")
		default:
			log.Error().Err(err).Msg("bridge session failed")
			exitCode = 1
		}
	}

	log.Info().Msg("initiating graceful shutdown...")
	cancel()

	done := make(chan struct{})
	go func() {
		<-bridgeDone
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all tasks stopped gracefully")
	case <-time.After(shutdownTimeout):
		log.Warn().Dur("timeout", shutdownTimeout).Msg("shutdown timed out, forcing exit")
	}

	// Stop the event bus last so session_closed reaches every sink
	eventBus.Stop()

	log.Info().Msg("casetalink stopped")
	return exitCode
}
