package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadYAMLConfig reads a YAML configuration file over the defaults.
// Environment variables referenced as ${VAR_NAME} are expanded before
// parsing.
func LoadYAMLConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	content := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(content), cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	cfg.ResolvePaths()
	return cfg, nil
}

// WriteDefaultConfig writes the default configuration to a YAML file. The
// file may later hold admin credentials, so it is owner-only.
func WriteDefaultConfig(path string) error {
	cfg := Default()
	cfg.DataDir = ""
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
