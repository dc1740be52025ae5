package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Candidate file names, tried in order inside the config directory.
var configFileNames = []string{"config.yml", "config.yaml"}

// Initialize loads, validates, and returns ready-to-use configuration.
// A missing config file is not an error; the built-in defaults apply.
func Initialize(configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}

	log.Info("Configuration initialized",
		"app", cfg.App.Name,
		"schedule_enabled", cfg.Schedule.Enabled,
		"timezone", cfg.Schedule.Timezone)
	return cfg, nil
}

func load(configDir string) (*Config, error) {
	cfg := DefaultConfig()

	data, path, err := readConfigFile(configDir)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Info("No configuration file found, using defaults", "config_dir", configDir)
			return cfg, nil
		}
		return nil, err
	}

	data = ExpandEnv(data)

	var user Config
	if err := yaml.Unmarshal(data, &user); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidYAML, path, err)
	}

	if err := mergo.Merge(cfg, user, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("failed to merge configuration: %w", err)
	}

	// mergo treats false as unset, so an explicit "enabled: false" for a
	// default-true field would be lost. Re-probe those fields directly.
	var probe struct {
		Schedule struct {
			Enabled *bool `yaml:"enabled"`
		} `yaml:"schedule"`
	}
	if err := yaml.Unmarshal(data, &probe); err == nil && probe.Schedule.Enabled != nil {
		cfg.Schedule.Enabled = *probe.Schedule.Enabled
	}

	slog.Info("Configuration file loaded", "path", path)
	return cfg, nil
}

func readConfigFile(configDir string) ([]byte, string, error) {
	var lastErr error = os.ErrNotExist
	for _, name := range configFileNames {
		path := filepath.Join(configDir, name)
		data, err := os.ReadFile(path)
		if err == nil {
			return data, path, nil
		}
		if !os.IsNotExist(err) {
			return nil, "", err
		}
		lastErr = err
	}
	return nil, "", lastErr
}
