// Package config loads the runtime configuration from a JSON file with
// environment variable overrides. Any load failure falls back to literal
// defaults so a broken or missing config never takes down a message cycle.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
)

type LLMConfig struct {
	Provider string `json:"provider" env:"SKIFF_LLM_PROVIDER"`
	Model    string `json:"model" env:"SKIFF_LLM_MODEL"`
	APIKey   string `json:"api_key" env:"SKIFF_LLM_API_KEY"`
	BaseURL  string `json:"base_url" env:"SKIFF_LLM_BASE_URL"`
}

// CompactionOverride carries per-model overrides for the compaction
// settings. Only non-nil fields replace the defaults.
type CompactionOverride struct {
	KeepLast     *int     `json:"keep_last,omitempty"`
	TriggerRatio *float64 `json:"trigger_ratio,omitempty"`
	Silent       *bool    `json:"silent,omitempty"`
}

type AgentDefaults struct {
	Workspace          string  `json:"workspace" env:"SKIFF_AGENTS_DEFAULTS_WORKSPACE"`
	Model              string  `json:"model" env:"SKIFF_AGENTS_DEFAULTS_MODEL"`
	MaxTokens          int     `json:"max_tokens" env:"SKIFF_AGENTS_DEFAULTS_MAX_TOKENS"`
	MaxToolIterations  int     `json:"max_tool_iterations" env:"SKIFF_AGENTS_DEFAULTS_MAX_TOOL_ITERATIONS"`
	HistoryWindow      int     `json:"history_window" env:"SKIFF_AGENTS_DEFAULTS_HISTORY_WINDOW"`
	CompactionEnabled  bool    `json:"compaction_enabled" env:"SKIFF_AGENTS_DEFAULTS_COMPACTION_ENABLED"`
	CompactionKeepLast int     `json:"compaction_keep_last" env:"SKIFF_AGENTS_DEFAULTS_COMPACTION_KEEP_LAST"`
	CompactionTrigger  float64 `json:"compaction_trigger_ratio" env:"SKIFF_AGENTS_DEFAULTS_COMPACTION_TRIGGER_RATIO"`
	CompactionSilent   bool    `json:"compaction_silent" env:"SKIFF_AGENTS_DEFAULTS_COMPACTION_SILENT"`
	TokenCharsPerToken int     `json:"token_chars_per_token" env:"SKIFF_AGENTS_DEFAULTS_TOKEN_CHARS_PER_TOKEN"`

	// CompactionModelOverrides maps a model identifier to settings that
	// replace the defaults above when that model is selected.
	CompactionModelOverrides map[string]CompactionOverride `json:"compaction_model_overrides,omitempty"`
}

type AgentsConfig struct {
	Defaults AgentDefaults `json:"defaults"`
}

type TelegramConfig struct {
	Enabled   bool     `json:"enabled" env:"SKIFF_CHANNELS_TELEGRAM_ENABLED"`
	Token     string   `json:"token" env:"SKIFF_CHANNELS_TELEGRAM_TOKEN"`
	AllowFrom []string `json:"allow_from" env:"SKIFF_CHANNELS_TELEGRAM_ALLOW_FROM"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
}

type RoutingConfig struct {
	Enabled bool `json:"enabled" env:"SKIFF_ROUTING_ENABLED"`
}

type HeartbeatConfig struct {
	Enabled         bool `json:"enabled" env:"SKIFF_HEARTBEAT_ENABLED"`
	IntervalMinutes int  `json:"interval_minutes" env:"SKIFF_HEARTBEAT_INTERVAL_MINUTES"`
}

type WebToolsConfig struct {
	BraveAPIKey string `json:"brave_api_key" env:"SKIFF_TOOLS_WEB_BRAVE_API_KEY"`
	MaxResults  int    `json:"max_results" env:"SKIFF_TOOLS_WEB_MAX_RESULTS"`
}

type ExecToolsConfig struct {
	Enabled bool `json:"enabled" env:"SKIFF_TOOLS_EXEC_ENABLED"`
}

type ToolsConfig struct {
	Web  WebToolsConfig  `json:"web"`
	Exec ExecToolsConfig `json:"exec"`
}

type RateLimitsConfig struct {
	// OutboundPerSecond bounds outbound channel delivery. 0 = unlimited.
	OutboundPerSecond float64 `json:"outbound_per_second" env:"SKIFF_RATE_LIMITS_OUTBOUND_PER_SECOND"`
}

type Config struct {
	LLM        LLMConfig        `json:"llm"`
	Agents     AgentsConfig     `json:"agents"`
	Channels   ChannelsConfig   `json:"channels"`
	Routing    RoutingConfig    `json:"routing"`
	Heartbeat  HeartbeatConfig  `json:"heartbeat"`
	Tools      ToolsConfig      `json:"tools"`
	RateLimits RateLimitsConfig `json:"rate_limits"`
}

func DefaultConfig() *Config {
	return &Config{
		Agents: AgentsConfig{
			Defaults: AgentDefaults{
				Workspace:          "~/.skiff/workspace",
				MaxTokens:          8192,
				MaxToolIterations:  20,
				HistoryWindow:      50,
				CompactionEnabled:  true,
				CompactionKeepLast: 50,
				CompactionTrigger:  0.9,
				CompactionSilent:   true,
				TokenCharsPerToken: 4,
			},
		},
		Routing: RoutingConfig{Enabled: true},
		Heartbeat: HeartbeatConfig{
			Enabled:         false,
			IntervalMinutes: 30,
		},
		Tools: ToolsConfig{
			Web:  WebToolsConfig{MaxResults: 5},
			Exec: ExecToolsConfig{Enabled: true},
		},
	}
}

// LoadConfig reads the config file at path, overlays SKIFF_* environment
// variables, and falls back to DefaultConfig on any failure.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	var loadErr error

	data, err := os.ReadFile(expandHome(path))
	if err != nil {
		if !os.IsNotExist(err) {
			loadErr = fmt.Errorf("read config: %w", err)
		}
	} else if err := json.Unmarshal(data, cfg); err != nil {
		cfg = DefaultConfig()
		loadErr = fmt.Errorf("parse config: %w", err)
	}

	if err := env.Parse(cfg); err != nil && loadErr == nil {
		loadErr = fmt.Errorf("parse env overrides: %w", err)
	}

	cfg.Agents.Defaults.Workspace = expandHome(cfg.Agents.Defaults.Workspace)
	return cfg, loadErr
}

// DefaultConfigPath returns the standard config file location.
func DefaultConfigPath() string {
	return filepath.Join(configDir(), "config.json")
}

// SessionsDir returns the session storage directory.
func SessionsDir() string {
	return filepath.Join(configDir(), "sessions")
}

func configDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".skiff"
	}
	return filepath.Join(home, ".skiff")
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}
