// Package util provides logging and host helpers used throughout casetalink.
package util

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogFileName is the active log file inside LogConfig.Directory. Rotated
// files sit next to it with a timestamp suffix.
const LogFileName = "casetalink.log"

// LogConfig holds configuration for the logging system.
type LogConfig struct {
	Level      string
	Directory  string // empty disables the file sink
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Console    bool
}

// DefaultLogConfig returns the default logging configuration.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:      "info",
		Directory:  "logs",
		MaxSizeMB:  10,
		MaxBackups: 5,
		MaxAgeDays: 30,
		Console:    true,
	}
}

var (
	logFileMu sync.Mutex
	logFile   *lumberjack.Logger
)

// InitLogger initializes the zerolog global logger with a rotating JSON file
// and a human-readable console.
func InitLogger(cfg LogConfig) error {
	return initLogger(cfg, os.Stdout)
}

func initLogger(cfg LogConfig, console io.Writer) error {
	// Parse log level
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	zerolog.TimeFieldFormat = time.RFC3339

	var writers []io.Writer
	var logFilePath string

	if cfg.Directory != "" {
		if err := os.MkdirAll(cfg.Directory, 0755); err != nil {
			return fmt.Errorf("failed to create log directory %s: %w", cfg.Directory, err)
		}
		logFilePath = filepath.Join(cfg.Directory, LogFileName)

		// File writer (JSON format for machine parsing), rotated by size
		rotating := &lumberjack.Logger{
			Filename:   logFilePath,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		}
		swapLogFile(rotating)
		writers = append(writers, rotating)
	}

	if cfg.Console {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        console,
			TimeFormat: "15:04:05",
		})
	}

	if len(writers) == 0 {
		writers = append(writers, io.Discard)
	}

	log.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		With().
		Timestamp().
		Str("app", "casetalink").
		Logger()

	log.Info().
		Str("level", level.String()).
		Str("log_file", logFilePath).
		Msg("logger initialized")

	return nil
}

// swapLogFile installs l as the active file sink and closes the previous one.
func swapLogFile(l *lumberjack.Logger) {
	logFileMu.Lock()
	defer logFileMu.Unlock()
	if logFile != nil {
		logFile.Close()
	}
	logFile = l
}

// CloseLogger flushes and closes the log file, if any.
func CloseLogger() error {
	logFileMu.Lock()
	defer logFileMu.Unlock()
	if logFile == nil {
		return nil
	}
	err := logFile.Close()
	logFile = nil
	return err
}

// ComponentLogger creates a logger with a component name field.
func ComponentLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}
