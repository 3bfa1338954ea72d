// Package config handles configuration loading, validation, and persistence
// for casetalink.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog/log"
)

const (
	DefaultConfigDir  = "config"
	DefaultConfigFile = "config.json"
	DefaultBridgePort = 23
	DefaultAPIPort    = 8080
	DefaultMQTTPort   = 1883
)

// Environment variables that override the bridge section.
const (
	EnvHost     = "CASETA_HOST"
	EnvPort     = "CASETA_PORT"
	EnvUsername = "CASETA_USERNAME"
	EnvPassword = "CASETA_PASSWORD"
)

// Config is the root configuration structure for casetalink.
type Config struct {
	mu   sync.RWMutex
	path string

	Bridge  BridgeConfig  `json:"bridge" toml:"bridge"`
	MQTT    MQTTConfig    `json:"mqtt" toml:"mqtt"`
	API     APIConfig     `json:"api" toml:"api"`
	Journal JournalConfig `json:"journal" toml:"journal"`
	Logging LoggingConfig `json:"logging" toml:"logging"`
}

// BridgeConfig describes how to reach and log in to the bridge.
type BridgeConfig struct {
	Host     string `json:"host" toml:"host"`
	Port     int    `json:"port" toml:"port"`
	Username string `json:"username" toml:"username"`
	Password string `json:"password" toml:"password"`

	ConnectTimeoutSec   int `json:"connect_timeout_sec" toml:"connect_timeout_sec"`
	HandshakeTimeoutSec int `json:"handshake_timeout_sec" toml:"handshake_timeout_sec"`
	// IdleTimeoutSec of 0 waits for events forever.
	IdleTimeoutSec  int `json:"idle_timeout_sec" toml:"idle_timeout_sec"`
	WriteTimeoutSec int `json:"write_timeout_sec" toml:"write_timeout_sec"`

	// SkipUnrecognized keeps the session alive when the bridge sends a
	// line that cannot be decoded.
	SkipUnrecognized bool `json:"skip_unrecognized" toml:"skip_unrecognized"`
}

// ConnectTimeout returns the connect timeout as a duration.
func (b BridgeConfig) ConnectTimeout() time.Duration {
	return time.Duration(b.ConnectTimeoutSec) * time.Second
}

// HandshakeTimeout returns the per-read handshake timeout as a duration.
func (b BridgeConfig) HandshakeTimeout() time.Duration {
	return time.Duration(b.HandshakeTimeoutSec) * time.Second
}

// IdleTimeout returns the steady-state read timeout as a duration.
func (b BridgeConfig) IdleTimeout() time.Duration {
	return time.Duration(b.IdleTimeoutSec) * time.Second
}

// WriteTimeout returns the write timeout as a duration.
func (b BridgeConfig) WriteTimeout() time.Duration {
	return time.Duration(b.WriteTimeoutSec) * time.Second
}

// MQTTConfig holds MQTT publishing settings.
type MQTTConfig struct {
	Enabled     bool   `json:"enabled" toml:"enabled"`
	BrokerURL   string `json:"broker_url" toml:"broker_url"`
	Port        int    `json:"port" toml:"port"`
	UseTLS      bool   `json:"use_tls" toml:"use_tls"`
	CertFile    string `json:"cert_file" toml:"cert_file"`
	KeyFile     string `json:"key_file" toml:"key_file"`
	ClientID    string `json:"client_id" toml:"client_id"`
	Username    string `json:"username" toml:"username"`
	Password    string `json:"password" toml:"password"`
	TopicPrefix string `json:"topic_prefix" toml:"topic_prefix"`
}

// APIConfig holds REST API settings.
type APIConfig struct {
	Enabled        bool     `json:"enabled" toml:"enabled"`
	Port           int      `json:"port" toml:"port"`
	AllowedOrigins []string `json:"allowed_origins" toml:"allowed_origins"`
	RateLimitRPS   int      `json:"rate_limit_rps" toml:"rate_limit_rps"`
}

// JournalConfig holds event journal settings.
type JournalConfig struct {
	Enabled bool   `json:"enabled" toml:"enabled"`
	Path    string `json:"path" toml:"path"`
	// Retain is the number of events kept; 0 keeps everything.
	Retain int `json:"retain" toml:"retain"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `json:"level" toml:"level"`
	Directory  string `json:"directory" toml:"directory"`
	MaxSizeMB  int    `json:"max_size_mb" toml:"max_size_mb"`
	MaxBackups int    `json:"max_backups" toml:"max_backups"`
	MaxAgeDays int    `json:"max_age_days" toml:"max_age_days"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Bridge: BridgeConfig{
			Port:                DefaultBridgePort,
			ConnectTimeoutSec:   10,
			HandshakeTimeoutSec: 10,
			IdleTimeoutSec:      0,
			WriteTimeoutSec:     10,
		},
		MQTT: MQTTConfig{
			Enabled:     false,
			Port:        DefaultMQTTPort,
			TopicPrefix: "caseta",
		},
		API: APIConfig{
			Enabled:      false,
			Port:         DefaultAPIPort,
			RateLimitRPS: 20,
		},
		Journal: JournalConfig{
			Enabled: true,
			Path:    filepath.Join("data", "events.db"),
			Retain:  10000,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Directory:  "logs",
			MaxSizeMB:  10,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
	}
}

// Load reads configuration from path, then applies environment overrides.
// A missing JSON file is created with defaults. Paths ending in .toml are
// decoded as TOML and never written back.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig() // Start with defaults, then overlay
	cfg.path = path

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := cfg.decode(data); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
		log.Info().Str("path", path).Msg("configuration loaded")
	case os.IsNotExist(err):
		if isTOML(path) {
			return nil, fmt.Errorf("config file %s not found", path)
		}
		log.Info().Str("path", path).Msg("config file not found, creating default")
		if saveErr := cfg.Save(); saveErr != nil {
			return nil, fmt.Errorf("failed to save default config: %w", saveErr)
		}
	default:
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	if isTOML(c.path) {
		_, err := toml.Decode(string(data), c)
		return err
	}
	return json.Unmarshal(data, c)
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

// applyEnv overlays CASETA_* variables onto the bridge section.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v, ok := lookup(EnvHost); ok && strings.TrimSpace(v) != "" {
		c.Bridge.Host = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvPort); ok && strings.TrimSpace(v) != "" {
		port, err := strconv.ParseUint(strings.TrimSpace(v), 10, 16)
		if err != nil || port == 0 {
			return fmt.Errorf("%s=%q is not a valid port", EnvPort, v)
		}
		c.Bridge.Port = int(port)
	}
	if v, ok := lookup(EnvUsername); ok && v != "" {
		c.Bridge.Username = v
	}
	if v, ok := lookup(EnvPassword); ok && v != "" {
		c.Bridge.Password = v
	}
	return nil
}

// Save writes the current configuration to disk in the format its path implies.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.path == "" {
		return fmt.Errorf("config has no path")
	}

	// Ensure config directory exists
	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var data []byte
	if isTOML(c.path) {
		var sb strings.Builder
		if err := toml.NewEncoder(&sb).Encode(c); err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
		data = []byte(sb.String())
	} else {
		var err error
		data, err = json.MarshalIndent(c, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
	}

	// Credentials live in this file.
	if err := os.WriteFile(c.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// GetBridge returns a copy of the bridge configuration.
func (c *Config) GetBridge() BridgeConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Bridge
}

// SetBridge updates the bridge configuration.
func (c *Config) SetBridge(b BridgeConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Bridge = b
}

// GetMQTT returns a copy of the MQTT configuration.
func (c *Config) GetMQTT() MQTTConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.MQTT
}

// GetAPI returns a copy of the API configuration.
func (c *Config) GetAPI() APIConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.API
}

// GetJournal returns a copy of the journal configuration.
func (c *Config) GetJournal() JournalConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Journal
}

// GetLogging returns a copy of the logging configuration.
func (c *Config) GetLogging() LoggingConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Logging
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}

// SetPath changes where Save writes.
func (c *Config) SetPath(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.path = path
}

// IsFirstRun returns true if the bridge has not been configured yet.
func (c *Config) IsFirstRun() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Bridge.Host == "" || c.Bridge.Username == ""
}
