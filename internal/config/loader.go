package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kelseyhightower/envconfig"
)

// ConfigPath returns the config file location.
// MAGCLAW_CONFIG overrides; default is ~/.config/magclaw/config.json.
func ConfigPath() (string, error) {
	if p := os.Getenv("MAGCLAW_CONFIG"); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, ".config", "magclaw", "config.json"), nil
}

// Load builds the config: defaults, then config file, then env overrides.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	path, err := ConfigPath()
	if err != nil {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	// Override with environment variables for each group
	envconfig.Process("MAGCLAW_PATHS", &cfg.Paths)
	envconfig.Process("MAGCLAW_MODEL", &cfg.Model)
	envconfig.Process("MAGCLAW_OPENAI", &cfg.Providers.OpenAI)
	envconfig.Process("MAGCLAW_OPENROUTER", &cfg.Providers.OpenRouter)
	envconfig.Process("MAGCLAW_ORCHESTRATOR", &cfg.Orchestrator)
	envconfig.Process("MAGCLAW_APPROVAL", &cfg.Approval)
	envconfig.Process("MAGCLAW_HUMAN", &cfg.Human)
	envconfig.Process("MAGCLAW_TRACE", &cfg.Trace)

	if cfg.Paths.Workspace == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.Paths.Workspace = filepath.Join(home, "magclaw")
		}
	}
	if cfg.Paths.StateDir == "" && cfg.Paths.Workspace != "" {
		cfg.Paths.StateDir = filepath.Join(cfg.Paths.Workspace, "state")
	}
	if cfg.Trace.DBPath == "" && cfg.Paths.Workspace != "" {
		cfg.Trace.DBPath = filepath.Join(cfg.Paths.Workspace, "trace.db")
	}

	return cfg, nil
}

// Save writes the config to the config file location.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
