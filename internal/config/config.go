package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	AllocatorHeap = "heap"
	AllocatorDisk = "disk"

	EngineMemory   = "memory"
	EngineRedis    = "redis"
	EnginePostgres = "postgres"
)

// NodeConfig identifies the process
type NodeConfig struct {
	NodeID          string        `yaml:"node_id"`
	DataDir         string        `yaml:"data_dir"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// AllocatorConfig selects and sizes the page allocator
type AllocatorConfig struct {
	Kind       string `yaml:"kind"`
	PageSize   int    `yaml:"page_size"`
	Version    int16  `yaml:"version"`
	DataFile   string `yaml:"data_file"`
	SyncWrites bool   `yaml:"sync_writes"`
	// CachePages sizes the read cache of the disk allocator; negative disables it
	CachePages int `yaml:"cache_pages"`
}

// DiskConfig holds free space guard thresholds, in percent used
type DiskConfig struct {
	CheckInterval    time.Duration `yaml:"check_interval"`
	WarningThreshold float64       `yaml:"warning_threshold"`
	RefuseThreshold  float64       `yaml:"refuse_threshold"`
}

// TimeSeriesConfig holds rotating buffer configuration
type TimeSeriesConfig struct {
	ChunkSize     int     `yaml:"chunk_size"`
	BloomFilterFP float64 `yaml:"bloom_filter_fp"`
}

// ArchiveConfig holds segment archival configuration
type ArchiveConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Workers     int           `yaml:"workers"`
	QueueSize   int           `yaml:"queue_size"`
	StopTimeout time.Duration `yaml:"stop_timeout"`
}

// RedisConfig holds Redis engine settings
type RedisConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// PostgresConfig holds PostgreSQL engine settings
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
	Table    string `yaml:"table"`
}

// EngineConfig selects the backing engine of persistent tables
type EngineConfig struct {
	Kind     string         `yaml:"kind"`
	Redis    RedisConfig    `yaml:"redis"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// GRPCConfig holds the gRPC health endpoint configuration
type GRPCConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config represents the complete configuration
type Config struct {
	Node       NodeConfig       `yaml:"node"`
	Allocator  AllocatorConfig  `yaml:"allocator"`
	Disk       DiskConfig       `yaml:"disk"`
	TimeSeries TimeSeriesConfig `yaml:"timeseries"`
	Archive    ArchiveConfig    `yaml:"archive"`
	Engine     EngineConfig     `yaml:"engine"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	GRPC       GRPCConfig       `yaml:"grpc"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// LoadConfig loads configuration from a file
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML, applies environment overrides and defaults, and
// validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnv(&cfg)
	setDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PAGEDB_DATA_DIR"); v != "" {
		cfg.Node.DataDir = v
	}
	if v := os.Getenv("PAGEDB_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// setDefaults sets default values for unspecified configuration
func setDefaults(cfg *Config) {
	if cfg.Node.NodeID == "" {
		if host, err := os.Hostname(); err == nil {
			cfg.Node.NodeID = host
		}
	}
	if cfg.Node.DataDir == "" {
		cfg.Node.DataDir = "/var/lib/pagedb"
	}
	if cfg.Node.ShutdownTimeout == 0 {
		cfg.Node.ShutdownTimeout = 30 * time.Second
	}

	if cfg.Allocator.Kind == "" {
		cfg.Allocator.Kind = AllocatorDisk
	}
	if cfg.Allocator.PageSize == 0 {
		cfg.Allocator.PageSize = 4096
	}
	if cfg.Allocator.Version == 0 {
		cfg.Allocator.Version = 1
	}
	if cfg.Allocator.DataFile == "" {
		cfg.Allocator.DataFile = filepath.Join(cfg.Node.DataDir, fmt.Sprintf("disk.%d.data", cfg.Allocator.Version))
	}

	if cfg.Allocator.CachePages == 0 {
		cfg.Allocator.CachePages = 256
	}

	if cfg.Disk.CheckInterval == 0 {
		cfg.Disk.CheckInterval = 10 * time.Second
	}
	if cfg.Disk.WarningThreshold == 0 {
		cfg.Disk.WarningThreshold = 80
	}
	if cfg.Disk.RefuseThreshold == 0 {
		cfg.Disk.RefuseThreshold = 95
	}

	if cfg.TimeSeries.ChunkSize == 0 {
		cfg.TimeSeries.ChunkSize = 1024
	}
	if cfg.TimeSeries.BloomFilterFP == 0 {
		cfg.TimeSeries.BloomFilterFP = 0.01
	}

	if cfg.Archive.Workers == 0 {
		cfg.Archive.Workers = 2
	}
	if cfg.Archive.QueueSize == 0 {
		cfg.Archive.QueueSize = 64
	}
	if cfg.Archive.StopTimeout == 0 {
		cfg.Archive.StopTimeout = 30 * time.Second
	}

	if cfg.Engine.Kind == "" {
		cfg.Engine.Kind = EngineMemory
	}
	if cfg.Engine.Redis.Port == 0 {
		cfg.Engine.Redis.Port = 6379
	}
	if cfg.Engine.Postgres.Port == 0 {
		cfg.Engine.Postgres.Port = 5432
	}
	if cfg.Engine.Postgres.MaxConns == 0 {
		cfg.Engine.Postgres.MaxConns = 10
	}
	if cfg.Engine.Postgres.MinConns == 0 {
		cfg.Engine.Postgres.MinConns = 1
	}

	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9090
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.GRPC.Port == 0 {
		cfg.GRPC.Port = 50052
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Node.NodeID == "" {
		return fmt.Errorf("node.node_id is required")
	}
	switch c.Allocator.Kind {
	case AllocatorHeap, AllocatorDisk:
	default:
		return fmt.Errorf("allocator.kind must be %q or %q, got %q", AllocatorHeap, AllocatorDisk, c.Allocator.Kind)
	}
	if c.Allocator.PageSize < 64 {
		return fmt.Errorf("allocator.page_size must be at least 64")
	}
	if c.Disk.WarningThreshold <= 0 || c.Disk.RefuseThreshold > 100 || c.Disk.WarningThreshold > c.Disk.RefuseThreshold {
		return fmt.Errorf("disk thresholds must satisfy 0 < warning_threshold <= refuse_threshold <= 100")
	}
	if c.TimeSeries.ChunkSize < 1 {
		return fmt.Errorf("timeseries.chunk_size must be positive")
	}
	if c.TimeSeries.BloomFilterFP <= 0 || c.TimeSeries.BloomFilterFP >= 1 {
		return fmt.Errorf("timeseries.bloom_filter_fp must be between 0 and 1")
	}
	switch c.Engine.Kind {
	case EngineMemory, EngineRedis, EnginePostgres:
	default:
		return fmt.Errorf("engine.kind must be one of memory, redis, postgres, got %q", c.Engine.Kind)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}
	for name, port := range map[string]int{"metrics.port": c.Metrics.Port, "grpc.port": c.GRPC.Port} {
		if port < 1 || port > 65535 {
			return fmt.Errorf("%s must be between 1 and 65535", name)
		}
	}
	return nil
}
