package config

func DefaultSystemConfig() *SystemConfig {
	return &SystemConfig{
		DataDirectory: "~/.local/share/agtui",
	}
}

func DefaultUserConfig() *UserConfig {
	return &UserConfig{
		Runtime: RuntimeConfig{
			ServerURL: "ws://localhost:8123/ws",
			Agent:     "coder",
			AgentMode: "build",
		},
		Preview: PreviewConfig{
			Enabled:    true,
			ListenAddr: "127.0.0.1:8787",
		},
		Stream: StreamConfig{
			FlushIntervalMs: 150,
			HTMLTool:        "generate_html_page",
		},
	}
}

func GenerateSystemConfigTemplate() string {
	return `# AGTUI System Configuration
# Location: ~/.config/agtui/settings.toml
# This file uses TOML format: https://toml.io

# Directory where conversation history and user config are stored
data_directory = "~/.local/share/agtui"
`
}

func GenerateUserConfigTemplate() string {
	return `# AGTUI User Configuration
# Location: <data_directory>/config.toml
# This file uses TOML format: https://toml.io

[runtime]
# Agent runtime websocket URL
server_url = "ws://localhost:8123/ws"

# Agent to address and its mode
agent = "coder"
agent_mode = "build"

# Model requested for new turns (empty = runtime default)
default_model = ""

[preview]
# Live HTML preview of the document the agent is generating
enabled = true
listen_addr = "127.0.0.1:8787"

[stream]
# Debounce interval for HTML preview flushes, in milliseconds
flush_interval_ms = 150

# Tool whose string argument streams an HTML document
html_tool = "generate_html_page"
`
}
