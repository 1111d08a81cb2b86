// Package config loads wshd's settings from, in ascending priority, a YAML
// file, environment variables, and CLI flags, and optionally watches the
// file for hot-reloadable settings.
package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is wshd's full settings set. Fields not settable by flag or env
// are only ever populated from the YAML file.
type Config struct {
	Addr            string `yaml:"addr"`
	Name            string `yaml:"name"`
	Shell           string `yaml:"shell"`
	ScrollbackLimit int    `yaml:"scrollback"`
	QuiescenceMS    int    `yaml:"quiescence_ms"`
	LogLevel        string `yaml:"log_level"`
	LogFile         string `yaml:"log_file"`
}

// Default returns the built-in defaults, used when no file, env var, or
// flag overrides them.
func Default() Config {
	return Config{
		Addr:            ":7670",
		Name:            "default",
		Shell:           "",
		ScrollbackLimit: 10000,
		QuiescenceMS:    500,
		LogLevel:        "info",
	}
}

// Load reads path (if non-empty and it exists) over the defaults, then
// applies environment variable overrides. A missing file is not an error:
// callers typically pass an optional --config flag.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return applyEnv(cfg), nil
			}
			return Config{}, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, err
		}
	}
	return applyEnv(cfg), nil
}

func applyEnv(cfg Config) Config {
	if v := os.Getenv("WSH_ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := os.Getenv("WSH_NAME"); v != "" {
		cfg.Name = v
	}
	if v := os.Getenv("SHELL"); v != "" && cfg.Shell == "" {
		cfg.Shell = v
	}
	if v := os.Getenv("WSH_LOG"); v != "" {
		cfg.LogLevel = v
	}
	return cfg
}

// Save writes cfg as YAML to path, creating parent directories as needed.
func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// ConfigPath resolves the config file path: $WSH_CONFIG if set, else the
// explicit flag value (which may be empty, meaning "no file").
func ConfigPath(flagValue string) string {
	if v := os.Getenv("WSH_CONFIG"); v != "" {
		return v
	}
	return flagValue
}
