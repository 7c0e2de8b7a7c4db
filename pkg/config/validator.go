package config

import (
	"fmt"
	"time"
)

// ValidationError describes an invalid configuration field with enough
// context to locate it in the YAML file.
type ValidationError struct {
	Section string
	Field   string
	Err     error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config %s.%s: %v", e.Section, e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// NewValidationError creates a validation error for a section field.
func NewValidationError(section, field string, err error) error {
	return &ValidationError{Section: section, Field: field, Err: err}
}

// Validate performs comprehensive validation (fail-fast, stops at first error).
func Validate(cfg *Config) error {
	if cfg.Server.MaxWSConnections <= 0 {
		return NewValidationError("server", "max_ws_connections", fmt.Errorf("must be positive, got %d", cfg.Server.MaxWSConnections))
	}
	if cfg.Server.WSWriteTimeout <= 0 {
		return NewValidationError("server", "ws_write_timeout", fmt.Errorf("must be positive, got %v", cfg.Server.WSWriteTimeout))
	}
	if cfg.Server.MaxUploadBytes <= 0 {
		return NewValidationError("server", "max_upload_bytes", fmt.Errorf("must be positive, got %d", cfg.Server.MaxUploadBytes))
	}

	if cfg.Storage.BaseDir == "" {
		return NewValidationError("storage", "base_dir", fmt.Errorf("required"))
	}
	if cfg.Database.Path == "" {
		return NewValidationError("database", "path", fmt.Errorf("required"))
	}

	if !cfg.Partition.Strategy.IsValid() {
		return NewValidationError("partition", "strategy", fmt.Errorf("must be %q or %q, got %q", PartitionTimeBased, PartitionHashBased, cfg.Partition.Strategy))
	}
	if cfg.Partition.Strategy == PartitionTimeBased && cfg.Partition.TimeFormat == "" {
		return NewValidationError("partition", "time_format", fmt.Errorf("required for time-based partitioning"))
	}

	if cfg.Jobs.MaxWorkers <= 0 {
		return NewValidationError("jobs", "max_workers", fmt.Errorf("must be positive, got %d", cfg.Jobs.MaxWorkers))
	}
	if cfg.Jobs.QueueSize <= 0 {
		return NewValidationError("jobs", "queue_size", fmt.Errorf("must be positive, got %d", cfg.Jobs.QueueSize))
	}
	if cfg.Jobs.MaxAge <= 0 {
		return NewValidationError("jobs", "max_age", fmt.Errorf("must be positive, got %v", cfg.Jobs.MaxAge))
	}

	if cfg.Execution.StepTimeout <= 0 {
		return NewValidationError("execution", "step_timeout", fmt.Errorf("must be positive, got %v", cfg.Execution.StepTimeout))
	}
	if cfg.Execution.ProgressInterval < 0 {
		return NewValidationError("execution", "progress_interval", fmt.Errorf("must be non-negative, got %v", cfg.Execution.ProgressInterval))
	}

	if cfg.Context.IdleTTL < time.Second {
		return NewValidationError("context", "idle_ttl", fmt.Errorf("must be at least 1s, got %v", cfg.Context.IdleTTL))
	}

	if cfg.Slack.Enabled && cfg.Slack.Channel == "" {
		return NewValidationError("slack", "channel", fmt.Errorf("required when slack is enabled"))
	}

	return nil
}
