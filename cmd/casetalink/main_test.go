package main

import (
	"path/filepath"
	"testing"
)

func TestParseFlags(t *testing.T) {
	opts, err := parseFlags(nil)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if opts.configPath != filepath.Join("config", "config.json") || opts.setup || opts.noCLI {
		t.Fatalf("unexpected defaults %+v", opts)
	}

	opts, err = parseFlags([]string{"-c", "bridge.toml", "--log-level", "debug", "--no-cli", "--setup"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if opts.configPath != "bridge.toml" || opts.logLevel != "debug" || !opts.noCLI || !opts.setup {
		t.Fatalf("flags not applied: %+v", opts)
	}

	if _, err := parseFlags([]string{"extra"}); err == nil {
		t.Fatalf("expected error for positional argument")
	}
	if _, err := parseFlags([]string{"--bogus"}); err == nil {
		t.Fatalf("expected error for unknown flag")
	}
}

func TestRunVersion(t *testing.T) {
	if code := run([]string{"--version"}); code != 0 {
		t.Fatalf("expected exit 0, got %d", code)
	}
}
