package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"
)

// SystemConfig is the machine-level config (settings.toml under the config
// dir). It only locates the data directory; everything else lives there.
type SystemConfig struct {
	DataDirectory string `toml:"data_directory"`
}

// RuntimeConfig points the client at the agent runtime.
type RuntimeConfig struct {
	ServerURL    string `toml:"server_url"`
	Agent        string `toml:"agent"`
	AgentMode    string `toml:"agent_mode"`
	DefaultModel string `toml:"default_model"`
}

// PreviewConfig controls the live HTML preview server.
type PreviewConfig struct {
	Enabled    bool   `toml:"enabled"`
	ListenAddr string `toml:"listen_addr"`
}

// StreamConfig tunes the stream assembler.
type StreamConfig struct {
	FlushIntervalMs int    `toml:"flush_interval_ms"`
	HTMLTool        string `toml:"html_tool"`
}

// UserConfig is the per-data-dir config (config.toml inside the data
// directory).
type UserConfig struct {
	Runtime RuntimeConfig `toml:"runtime"`
	Preview PreviewConfig `toml:"preview"`
	Stream  StreamConfig  `toml:"stream"`
}

// Config is the flattened, resolved configuration the rest of the app uses.
type Config struct {
	DataDirectory   string
	ServerURL       string
	Agent           string
	AgentMode       string
	DefaultModel    string
	PreviewEnabled  bool
	PreviewAddr     string
	FlushIntervalMs int
	HTMLTool        string
}

var Debug = false
var DebugLog *log.Logger

func (c *Config) DataDir() string {
	return ExpandPath(c.DataDirectory)
}

// FlushInterval returns the HTML flush debounce as a duration.
func (c *Config) FlushInterval() time.Duration {
	return time.Duration(c.FlushIntervalMs) * time.Millisecond
}

func (c *Config) applyEnvOverrides() {
	if url := os.Getenv("AGTUI_SERVER_URL"); url != "" {
		c.ServerURL = url
	}
	if model := os.Getenv("AGTUI_MODEL"); model != "" {
		c.DefaultModel = model
	}
	if dataDir := os.Getenv("AGTUI_DATA_DIR"); dataDir != "" {
		c.DataDirectory = dataDir
	}
}

func CheckDebug() bool {
	debug := os.Getenv("AGTUI_DEBUG")
	return debug == "true" || debug == "1"
}

// InitDebugLog opens the debug log under the data dir when AGTUI_DEBUG is
// set. DebugLog stays nil otherwise; call sites nil-check.
func InitDebugLog(dataDir string) {
	if !CheckDebug() {
		return
	}

	Debug = true
	logPath := filepath.Join(dataDir, "debug.log")

	// 0600 - the debug log can contain conversation content
	f, err := os.OpenFile(logPath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0600)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not open debug log at %s: %v\n", logPath, err)
		return
	}

	DebugLog = log.New(f, "", log.Ldate|log.Ltime|log.Lmicroseconds|log.Lshortfile)
	DebugLog.Printf("=== Debug logging started (AGTUI_DEBUG=%s) ===", os.Getenv("AGTUI_DEBUG"))
}

// Load resolves the full configuration: the system config locates the data
// dir, the user config inside it supplies the rest, then env vars override.
func Load() (*Config, error) {
	sysCfg, err := LoadSystemConfig()
	if err != nil {
		return nil, err
	}

	cfg := &Config{DataDirectory: sysCfg.DataDirectory}
	if cfg.DataDirectory == "" {
		cfg.DataDirectory = GetDefaultDataDir()
	}

	if err := EnsureDir(cfg.DataDir()); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	userCfg, err := LoadUserConfig(cfg.DataDir())
	if err != nil {
		return nil, err
	}

	cfg.ServerURL = userCfg.Runtime.ServerURL
	cfg.Agent = userCfg.Runtime.Agent
	cfg.AgentMode = userCfg.Runtime.AgentMode
	cfg.DefaultModel = userCfg.Runtime.DefaultModel
	cfg.PreviewEnabled = userCfg.Preview.Enabled
	cfg.PreviewAddr = userCfg.Preview.ListenAddr
	cfg.FlushIntervalMs = userCfg.Stream.FlushIntervalMs
	cfg.HTMLTool = userCfg.Stream.HTMLTool

	cfg.applyEnvOverrides()

	return cfg, nil
}
