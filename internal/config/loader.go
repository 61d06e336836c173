package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Load returns the effective configuration. Load order, later sources
// overriding earlier:
//  1. Built-in defaults
//  2. System config (/etc/waverunner/config.yaml), optional
//  3. User config (~/.waverunner/config.yaml), optional
//  4. Project config (<repo>/.waverunner/config.yaml), optional
//  5. WAVERUNNER_* environment variables
//
// Unreadable system and user files are logged and skipped; a broken project
// file is fatal.
func Load(repoPath string) (*Config, error) {
	cfg := Default()

	systemPath := filepath.Join("/etc", "waverunner", FileName)
	if _, err := os.Stat(systemPath); err == nil {
		if err := mergeFromFile(cfg, systemPath); err != nil {
			slog.Warn("skipping system config", "path", systemPath, "error", err)
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		userPath := filepath.Join(home, Dir, FileName)
		if _, err := os.Stat(userPath); err == nil {
			if err := mergeFromFile(cfg, userPath); err != nil {
				slog.Warn("skipping user config", "path", userPath, "error", err)
			}
		}
	}
	projectPath := filepath.Join(repoPath, Dir, FileName)
	if _, err := os.Stat(projectPath); err == nil {
		if err := mergeFromFile(cfg, projectPath); err != nil {
			return nil, err
		}
	}

	applyEnvVars(cfg)

	if cfg.RepoPath == "" {
		cfg.RepoPath = repoPath
	}
	if !filepath.IsAbs(cfg.StateDir) {
		cfg.StateDir = filepath.Join(cfg.RepoPath, cfg.StateDir)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// mergeFromFile overlays one YAML file onto cfg. yaml.v3 leaves fields the
// file does not mention untouched, which is exactly the layering we want.
func mergeFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}
