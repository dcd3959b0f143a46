// Package config loads workbench configuration from defaults and
// PROMPTBENCH_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
)

type Config struct {
	Server    ServerConfig
	Anthropic AnthropicConfig
	Storage   StorageConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port     int
	APIToken string
}

type AnthropicConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4400,
		},
		Anthropic: AnthropicConfig{
			Model: "claude-sonnet-4-20250514",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "./data"
		}
		dir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dir, "promptbench")
}

// Load reads configuration from defaults and environment variables.
// The Anthropic API key is required; Load fails without it so a
// misconfigured server never starts half-working.
//
// Environment variables (PROMPTBENCH_*) override defaults.
func Load() (Config, error) {
	cfg := defaults()
	applyEnvOverrides(&cfg)

	if cfg.Anthropic.APIKey == "" {
		return Config{}, fmt.Errorf("missing required config: Anthropic API key. Set it via environment variable PROMPTBENCH_ANTHROPIC_API_KEY")
	}

	return cfg, nil
}

// LoadClient reads configuration for CLI commands that only talk to a
// running server and do not need the API key.
func LoadClient() Config {
	cfg := defaults()
	applyEnvOverrides(&cfg)
	return cfg
}
