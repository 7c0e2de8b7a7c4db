// Package config loads and validates tableflow configuration from YAML files
// with environment variable expansion.
package config

// Config is the umbrella configuration object returned by Initialize() and
// passed through construction to every component.
type Config struct {
	configDir string // Configuration directory path (for reference)

	Server    *ServerConfig
	Storage   *StorageConfig
	Database  *DatabaseConfig
	Partition *PartitionConfig
	Jobs      *JobsConfig
	Execution *ExecutionConfig
	Context   *ContextConfig
	Slack     *SlackConfig
}

// ConfigDir returns the configuration directory path.
func (c *Config) ConfigDir() string {
	return c.configDir
}

// Default returns a Config populated entirely from built-in defaults.
// Used by tests and by Initialize when no YAML file is present.
func Default() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Storage:   DefaultStorageConfig(),
		Database:  DefaultDatabaseConfig(),
		Partition: DefaultPartitionConfig(),
		Jobs:      DefaultJobsConfig(),
		Execution: DefaultExecutionConfig(),
		Context:   DefaultContextConfig(),
		Slack:     DefaultSlackConfig(),
	}
}
