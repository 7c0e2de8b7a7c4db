package config

import "time"

// TableflowYAMLConfig represents the complete tableflow.yaml file structure.
type TableflowYAMLConfig struct {
	Server    *ServerConfig    `yaml:"server"`
	Storage   *StorageConfig   `yaml:"storage"`
	Database  *DatabaseConfig  `yaml:"database"`
	Partition *PartitionConfig `yaml:"partition"`
	Jobs      *JobsConfig      `yaml:"jobs"`
	Execution *ExecutionConfig `yaml:"execution"`
	Context   *ContextConfig   `yaml:"context"`
	Slack     *SlackConfig     `yaml:"slack"`
}

// ServerConfig groups HTTP and WebSocket server settings.
type ServerConfig struct {
	// MaxWSConnections caps the number of concurrent WebSocket subscribers.
	// Connections beyond the cap receive a rejection frame and are closed.
	MaxWSConnections int `yaml:"max_ws_connections"`

	// WSWriteTimeout bounds a single WebSocket send. Subscribers that cannot
	// be written to within this window are dropped.
	WSWriteTimeout time.Duration `yaml:"ws_write_timeout"`

	// WSPingInterval is the server-side keepalive ping cadence.
	WSPingInterval time.Duration `yaml:"ws_ping_interval"`

	// WSPingTimeout is how long to wait for a pong before closing.
	WSPingTimeout time.Duration `yaml:"ws_ping_timeout"`

	// MaxUploadBytes caps a single multipart file upload.
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`
}

// StorageConfig holds on-disk layout settings.
type StorageConfig struct {
	// BaseDir is the root of the partitioned conversation tree. Resolved to
	// an absolute path during validation.
	BaseDir string `yaml:"base_dir"`
}

// DatabaseConfig holds SQLite settings.
type DatabaseConfig struct {
	// Path is the SQLite database file. Resolved to an absolute path during
	// validation. Snapshots land in <dir(Path)>/snapshots/.
	Path string `yaml:"path"`

	// BusyTimeout is SQLite's busy handler timeout.
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// PartitionStrategy selects how conversations are grouped on disk.
type PartitionStrategy string

// Partition strategy values.
const (
	PartitionTimeBased PartitionStrategy = "time-based"
	PartitionHashBased PartitionStrategy = "hash-based"
)

// IsValid reports whether the strategy is a known value.
func (s PartitionStrategy) IsValid() bool {
	return s == PartitionTimeBased || s == PartitionHashBased
}

// PartitionConfig controls the frozen-at-creation partition key.
type PartitionConfig struct {
	// Strategy is "time-based" (YYYY/MM from creation instant) or
	// "hash-based" (first two + next two chars of the chat id).
	Strategy PartitionStrategy `yaml:"strategy"`

	// TimeFormat is the Go reference layout for time-based partitioning.
	TimeFormat string `yaml:"time_format"`
}

// JobsConfig contains background job manager configuration.
type JobsConfig struct {
	// MaxWorkers is the number of background workers servicing submissions.
	MaxWorkers int `yaml:"max_workers"`

	// QueueSize bounds the submission queue. Submit blocks briefly when full.
	QueueSize int `yaml:"queue_size"`

	// MaxAge is the retention threshold for terminal job records; Cleanup
	// drops terminal jobs older than this.
	MaxAge time.Duration `yaml:"max_age"`

	// GracefulShutdownTimeout is the max time to wait for in-flight jobs
	// during shutdown.
	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout"`
}

// ExecutionConfig contains workflow executor configuration.
type ExecutionConfig struct {
	// StepTimeout is the wall-clock limit for a single workflow step.
	StepTimeout time.Duration `yaml:"step_timeout"`

	// ProgressInterval is the minimum spacing between progress events
	// emitted for a single step (coalescing window).
	ProgressInterval time.Duration `yaml:"progress_interval"`
}

// ContextConfig contains in-memory conversation context settings.
type ContextConfig struct {
	// IdleTTL is how long an untouched ConversationContext survives before
	// eviction. Evicted contexts rebuild from the repository on next access.
	IdleTTL time.Duration `yaml:"idle_ttl"`
}

// SlackConfig holds optional Slack notification settings.
type SlackConfig struct {
	Enabled  bool   `yaml:"enabled"`
	TokenEnv string `yaml:"token_env"` // Defaults to "SLACK_BOT_TOKEN" if omitted
	Channel  string `yaml:"channel"`
}
