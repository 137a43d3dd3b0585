package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadUserConfigFirstRun(t *testing.T) {
	dataDir := t.TempDir()

	cfg, err := LoadUserConfig(dataDir)
	if err != nil {
		t.Fatalf("first-run load failed: %v", err)
	}

	// Defaults come back and the template lands on disk.
	defaults := DefaultUserConfig()
	if cfg.Runtime.ServerURL != defaults.Runtime.ServerURL {
		t.Errorf("server url: got %q, want %q", cfg.Runtime.ServerURL, defaults.Runtime.ServerURL)
	}
	if !FileExists(filepath.Join(dataDir, "config.toml")) {
		t.Error("config.toml not created on first run")
	}
}

func TestLoadUserConfigParsesFile(t *testing.T) {
	dataDir := t.TempDir()
	content := `
[runtime]
server_url = "ws://example.test:9999/ws"
agent = "reviewer"

[stream]
flush_interval_ms = 250
`
	path := filepath.Join(dataDir, "config.toml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	cfg, err := LoadUserConfig(dataDir)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Runtime.ServerURL != "ws://example.test:9999/ws" {
		t.Errorf("server url: got %q", cfg.Runtime.ServerURL)
	}
	if cfg.Runtime.Agent != "reviewer" {
		t.Errorf("agent: got %q", cfg.Runtime.Agent)
	}
	if cfg.Stream.FlushIntervalMs != 250 {
		t.Errorf("flush interval: got %d", cfg.Stream.FlushIntervalMs)
	}
	// Sections absent from the file keep their defaults.
	if cfg.Preview.ListenAddr != DefaultUserConfig().Preview.ListenAddr {
		t.Errorf("preview addr: got %q", cfg.Preview.ListenAddr)
	}
}

func TestLoadUserConfigRejectsBadToml(t *testing.T) {
	dataDir := t.TempDir()
	path := filepath.Join(dataDir, "config.toml")
	if err := os.WriteFile(path, []byte("[runtime\nbroken"), 0600); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	if _, err := LoadUserConfig(dataDir); err == nil {
		t.Error("expected a parse error")
	}
}

func TestExpandPath(t *testing.T) {
	home := GetHomeDir()

	tests := []struct {
		name     string
		in       string
		expected string
	}{
		{name: "empty", in: "", expected: ""},
		{name: "tilde", in: "~/data", expected: filepath.Join(home, "data")},
		{name: "plain", in: "/var/lib/agtui", expected: "/var/lib/agtui"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExpandPath(tt.in); got != tt.expected {
				t.Errorf("ExpandPath(%q): got %q, want %q", tt.in, got, tt.expected)
			}
		})
	}
}

func TestFlushInterval(t *testing.T) {
	cfg := &Config{FlushIntervalMs: 150}
	if got := cfg.FlushInterval().Milliseconds(); got != 150 {
		t.Errorf("flush interval: got %dms", got)
	}
}
