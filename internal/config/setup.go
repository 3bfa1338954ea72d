package config

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// maxWizardAttempts bounds how often the wizard re-asks after validation fails.
const maxWizardAttempts = 3

// wizard reads answers from in and writes prompts to out.
type wizard struct {
	reader *bufio.Reader
	out    io.Writer
}

// RunSetupWizard guides the user through first-time configuration and saves
// the result to cfg's path.
func RunSetupWizard(cfg *Config, in io.Reader, out io.Writer) error {
	w := &wizard{reader: bufio.NewReader(in), out: out}

	fmt.Fprintln(out, "╔══════════════════════════════════════════════╗")
	fmt.Fprintln(out, "║          casetalink - First Run Setup        ║")
	fmt.Fprintln(out, "╚══════════════════════════════════════════════╝")
	fmt.Fprintln(out)

	for attempt := 1; ; attempt++ {
		w.ask(cfg)

		result := Validate(cfg)
		if result.IsValid() {
			for _, warn := range result.Warnings {
				log.Warn().Str("field", warn.Field).Msg(warn.Message)
			}
			break
		}

		fmt.Fprintln(out, "\n⚠ Configuration has errors:")
		for _, e := range result.Errors {
			fmt.Fprintf(out, "  - [%s] %s\n", e.Field, e.Message)
		}
		if attempt >= maxWizardAttempts {
			return fmt.Errorf("configuration validation failed")
		}
		retry := w.promptString("Would you like to try again? (yes/no)", "yes")
		if strings.ToLower(retry) != "yes" {
			return fmt.Errorf("configuration validation failed")
		}
	}

	if err := cfg.Save(); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "✓ Configuration saved to", cfg.Path())
	fmt.Fprintln(out)
	return nil
}

func (w *wizard) ask(cfg *Config) {
	bridge := cfg.GetBridge()

	fmt.Fprintln(w.out, "── Smart Bridge ──")
	bridge.Host = w.promptString("Bridge host or IP", bridge.Host)
	bridge.Port = w.promptInt("Telnet port", bridge.Port)
	bridge.Username = w.promptString("Integration username", bridge.Username)
	if pw := w.promptPassword("Integration password"); pw != "" {
		bridge.Password = pw
	}
	cfg.SetBridge(bridge)

	cfg.mu.Lock()
	defer cfg.mu.Unlock()

	fmt.Fprintln(w.out)
	fmt.Fprintln(w.out, "── MQTT ──")
	cfg.MQTT.Enabled = w.promptBool("Publish button events to MQTT", cfg.MQTT.Enabled)
	if cfg.MQTT.Enabled {
		cfg.MQTT.BrokerURL = w.promptString("Broker host", cfg.MQTT.BrokerURL)
		cfg.MQTT.Port = w.promptInt("Broker port", cfg.MQTT.Port)
		cfg.MQTT.TopicPrefix = w.promptString("Topic prefix", cfg.MQTT.TopicPrefix)
	}

	fmt.Fprintln(w.out)
	fmt.Fprintln(w.out, "── REST API ──")
	cfg.API.Enabled = w.promptBool("Enable status API", cfg.API.Enabled)
	if cfg.API.Enabled {
		cfg.API.Port = w.promptInt("API port", cfg.API.Port)
	}
}

func (w *wizard) promptString(prompt string, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(w.out, "  %s [%s]: ", prompt, defaultVal)
	} else {
		fmt.Fprintf(w.out, "  %s: ", prompt)
	}

	input, _ := w.reader.ReadString('\n')
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}

func (w *wizard) promptPassword(prompt string) string {
	fmt.Fprintf(w.out, "  %s: ", prompt)
	input, _ := w.reader.ReadString('\n')
	return strings.TrimRight(input, "\r\n")
}

func (w *wizard) promptInt(prompt string, defaultVal int) int {
	fmt.Fprintf(w.out, "  %s [%d]: ", prompt, defaultVal)

	input, _ := w.reader.ReadString('\n')
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}

	val, err := strconv.Atoi(input)
	if err != nil {
		fmt.Fprintf(w.out, "    Invalid number, using default: %d\n", defaultVal)
		return defaultVal
	}
	return val
}

func (w *wizard) promptBool(prompt string, defaultVal bool) bool {
	defaultStr := "no"
	if defaultVal {
		defaultStr = "yes"
	}

	fmt.Fprintf(w.out, "  %s [%s]: ", prompt, defaultStr)

	input, _ := w.reader.ReadString('\n')
	input = strings.TrimSpace(strings.ToLower(input))

	if input == "" {
		return defaultVal
	}

	return input == "yes" || input == "y" || input == "true" || input == "1"
}
