package config

import (
	"fmt"
	"net"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationResult holds the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// AddError adds a validation error.
func (r *ValidationResult) AddError(field, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning adds a validation warning.
func (r *ValidationResult) AddWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: message})
}

// Validate performs comprehensive validation of the configuration.
func Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	validateBridge(&cfg.Bridge, result)
	validateMQTT(&cfg.MQTT, result)
	validateAPI(&cfg.API, result)
	validateJournal(&cfg.Journal, result)

	return result
}

func validateBridge(b *BridgeConfig, result *ValidationResult) {
	// Required fields
	host := strings.TrimSpace(b.Host)
	if host == "" {
		result.AddError("bridge.host", "bridge host is required")
	} else if !validHost(host) {
		result.AddError("bridge.host", fmt.Sprintf("%s is not a valid host", host))
	}

	validatePort(b.Port, "bridge.port", result)

	if strings.TrimSpace(b.Username) == "" {
		result.AddError("bridge.username", "bridge username is required")
	}
	if b.Password == "" {
		result.AddError("bridge.password", "bridge password is required")
	}

	if b.ConnectTimeoutSec < 0 || b.HandshakeTimeoutSec < 0 || b.IdleTimeoutSec < 0 || b.WriteTimeoutSec < 0 {
		result.AddError("bridge.timeouts", "timeouts cannot be negative")
	}
	if b.HandshakeTimeoutSec == 0 {
		result.AddWarning("bridge.handshake_timeout_sec",
			"handshake reads are unbounded, a silent bridge will hang startup")
	}
	if b.IdleTimeoutSec > 0 && b.IdleTimeoutSec < 60 {
		result.AddWarning("bridge.idle_timeout_sec",
			"idle timeout under a minute will end the session whenever remotes are quiet")
	}
}

func validateMQTT(m *MQTTConfig, result *ValidationResult) {
	if !m.Enabled {
		return
	}
	if strings.TrimSpace(m.BrokerURL) == "" {
		result.AddError("mqtt.broker_url", "MQTT broker URL is required when enabled")
	}
	if m.Port < 1 || m.Port > 65535 {
		result.AddError("mqtt.port", "invalid MQTT port")
	}
	if strings.TrimSpace(m.TopicPrefix) == "" {
		result.AddWarning("mqtt.topic_prefix", "empty topic prefix, publishing at the broker root")
	}
	if (m.CertFile == "") != (m.KeyFile == "") {
		result.AddError("mqtt.cert_file", "cert_file and key_file must be set together")
	}
}

func validateAPI(a *APIConfig, result *ValidationResult) {
	if !a.Enabled {
		return
	}
	validatePort(a.Port, "api.port", result)
	if a.RateLimitRPS < 1 {
		result.AddWarning("api.rate_limit_rps",
			"rate limit is disabled (0 RPS), this may expose the API to abuse")
	}
}

func validateJournal(j *JournalConfig, result *ValidationResult) {
	if !j.Enabled {
		return
	}
	if strings.TrimSpace(j.Path) == "" {
		result.AddError("journal.path", "journal path is required when enabled")
	}
	if j.Retain < 0 {
		result.AddError("journal.retain", "retain cannot be negative")
	}
}

func validatePort(port int, field string, result *ValidationResult) {
	if port < 1 || port > 65535 {
		result.AddError(field, fmt.Sprintf("invalid port number: %d (must be 1-65535)", port))
	}
}

// validHost accepts IP literals and RFC 1123 host names.
func validHost(host string) bool {
	if net.ParseIP(host) != nil {
		return true
	}
	if len(host) > 253 {
		return false
	}
	for _, label := range strings.Split(strings.TrimSuffix(host, "."), ".") {
		if label == "" || len(label) > 63 {
			return false
		}
		if label[0] == '-' || label[len(label)-1] == '-' {
			return false
		}
		for _, r := range label {
			switch {
			case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			default:
				return false
			}
		}
	}
	return true
}
