package config

import "time"

// DefaultServerConfig returns the built-in server defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		MaxWSConnections: 10,
		WSWriteTimeout:   10 * time.Second,
		WSPingInterval:   30 * time.Second,
		WSPingTimeout:    10 * time.Second,
		MaxUploadBytes:   50 << 20, // 50 MiB
	}
}

// DefaultStorageConfig returns the built-in storage defaults.
func DefaultStorageConfig() *StorageConfig {
	return &StorageConfig{
		BaseDir: "./data",
	}
}

// DefaultDatabaseConfig returns the built-in database defaults.
func DefaultDatabaseConfig() *DatabaseConfig {
	return &DatabaseConfig{
		Path:        "./data/sqlite/chat.db",
		BusyTimeout: 5 * time.Second,
	}
}

// DefaultPartitionConfig returns the built-in partition defaults.
func DefaultPartitionConfig() *PartitionConfig {
	return &PartitionConfig{
		Strategy:   PartitionTimeBased,
		TimeFormat: "2006/01",
	}
}

// DefaultJobsConfig returns the built-in job manager defaults.
func DefaultJobsConfig() *JobsConfig {
	return &JobsConfig{
		MaxWorkers:              5,
		QueueSize:               100,
		MaxAge:                  time.Hour,
		GracefulShutdownTimeout: 5 * time.Minute,
	}
}

// DefaultExecutionConfig returns the built-in executor defaults.
func DefaultExecutionConfig() *ExecutionConfig {
	return &ExecutionConfig{
		StepTimeout:      300 * time.Second,
		ProgressInterval: 100 * time.Millisecond,
	}
}

// DefaultContextConfig returns the built-in context defaults.
func DefaultContextConfig() *ContextConfig {
	return &ContextConfig{
		IdleTTL: 3600 * time.Second,
	}
}

// DefaultSlackConfig returns the built-in Slack defaults (disabled).
func DefaultSlackConfig() *SlackConfig {
	return &SlackConfig{
		Enabled:  false,
		TokenEnv: "SLACK_BOT_TOKEN",
	}
}
