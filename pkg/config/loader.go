package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// configFileName is the single YAML file loaded from the config directory.
const configFileName = "tableflow.yaml"

// Initialize loads, validates, and returns ready-to-use configuration.
//
// Steps performed:
//  1. Read tableflow.yaml from configDir (missing file → defaults only)
//  2. Expand environment variables
//  3. Parse YAML into section structs
//  4. Merge user sections over built-in defaults
//  5. Resolve filesystem paths to absolute
//  6. Validate all sections
func Initialize(configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg := Default()
	cfg.configDir = configDir

	path := filepath.Join(configDir, configFileName)
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		log.Info("No configuration file found, using defaults", "path", path)
	case err != nil:
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	default:
		var yamlCfg TableflowYAMLConfig
		if err := yaml.Unmarshal(ExpandEnv(data), &yamlCfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		if err := mergeSections(cfg, &yamlCfg); err != nil {
			return nil, fmt.Errorf("failed to merge configuration: %w", err)
		}
		log.Info("Configuration file loaded", "path", path)
	}

	if err := resolvePaths(cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// mergeSections overlays non-zero user values onto the defaults.
func mergeSections(dst *Config, src *TableflowYAMLConfig) error {
	merge := func(dstSection, srcSection any) error {
		if srcSection == nil {
			return nil
		}
		return mergo.Merge(dstSection, srcSection, mergo.WithOverride)
	}

	if src.Server != nil {
		if err := merge(dst.Server, *src.Server); err != nil {
			return err
		}
	}
	if src.Storage != nil {
		if err := merge(dst.Storage, *src.Storage); err != nil {
			return err
		}
	}
	if src.Database != nil {
		if err := merge(dst.Database, *src.Database); err != nil {
			return err
		}
	}
	if src.Partition != nil {
		if err := merge(dst.Partition, *src.Partition); err != nil {
			return err
		}
	}
	if src.Jobs != nil {
		if err := merge(dst.Jobs, *src.Jobs); err != nil {
			return err
		}
	}
	if src.Execution != nil {
		if err := merge(dst.Execution, *src.Execution); err != nil {
			return err
		}
	}
	if src.Context != nil {
		if err := merge(dst.Context, *src.Context); err != nil {
			return err
		}
	}
	if src.Slack != nil {
		if err := merge(dst.Slack, *src.Slack); err != nil {
			return err
		}
	}
	return nil
}

// resolvePaths converts configured filesystem paths to absolute form so later
// path construction is immune to working-directory changes.
func resolvePaths(cfg *Config) error {
	base, err := filepath.Abs(cfg.Storage.BaseDir)
	if err != nil {
		return fmt.Errorf("failed to resolve storage base_dir: %w", err)
	}
	cfg.Storage.BaseDir = base

	dbPath, err := filepath.Abs(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to resolve database path: %w", err)
	}
	cfg.Database.Path = dbPath
	return nil
}
