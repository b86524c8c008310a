// Package config provides the configuration system for orbit.
// It defines a single Config structure loaded from YAML, organized into
// logical sections:
//   - Service and Logging: identity and log output
//   - Engine: batch sizes, concurrency, timeouts, retry policies
//   - Scheduler and Stats: recurring syncs and aggregation behavior
//   - Store, Canonical and Archive: where jobs, records and history live
//   - API, Metrics and Tracing: outer surfaces and observability
//   - Connectors and Schedules: declarative bootstrap data
//
// Example usage:
//
//	cfg := config.Default()
//	cfg.Engine.DefaultBatchSize = 500
//
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
package config

import (
	"fmt"
	"time"

	"github.com/ajitpratap0/orbit/pkg/logger"
	"github.com/ajitpratap0/orbit/pkg/models"
)

// Config is the root configuration structure.
type Config struct {
	// Service identifies this deployment
	Service ServiceConfig `yaml:"service" json:"service"`

	// Logging configures the global zap logger
	Logging logger.Config `yaml:"logging" json:"logging"`

	// Engine controls how sync jobs run
	Engine EngineConfig `yaml:"engine" json:"engine"`

	// Scheduler controls recurring syncs
	Scheduler SchedulerConfig `yaml:"scheduler" json:"scheduler"`

	// Stats controls aggregation behavior
	Stats StatsConfig `yaml:"stats" json:"stats"`

	// Health controls background connector probes
	Health HealthConfig `yaml:"health" json:"health"`

	// Store selects the durable job store
	Store StoreConfig `yaml:"store" json:"store"`

	// Canonical selects where canonical records are written and read
	Canonical CanonicalConfig `yaml:"canonical" json:"canonical"`

	// API configures the HTTP surface
	API APIConfig `yaml:"api" json:"api"`

	// Metrics configures Prometheus exposition
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`

	// Tracing configures OpenTelemetry
	Tracing TracingConfig `yaml:"tracing" json:"tracing"`

	// Archive configures job history export
	Archive ArchiveConfig `yaml:"archive" json:"archive"`

	// Connectors are registered at startup
	Connectors []models.ConnectorDescriptor `yaml:"connectors" json:"connectors"`

	// Schedules are created at startup
	Schedules []models.ScheduleDefinition `yaml:"schedules" json:"schedules"`
}

// ServiceConfig identifies the running service.
type ServiceConfig struct {
	Name        string `yaml:"name" json:"name"`
	Environment string `yaml:"environment" json:"environment"`
}

// RetryConfig describes an exponential backoff policy.
type RetryConfig struct {
	// MaxRetries is the number of retries after the first attempt
	MaxRetries int `yaml:"max_retries" json:"max_retries"`
	// InitialDelay is the delay before the first retry
	InitialDelay time.Duration `yaml:"initial_delay" json:"initial_delay"`
	// MaxDelay caps any single delay
	MaxDelay time.Duration `yaml:"max_delay" json:"max_delay"`
	// Multiplier grows the delay after each retry
	Multiplier float64 `yaml:"multiplier" json:"multiplier"`
}

// EngineConfig controls the sync engine.
type EngineConfig struct {
	// DefaultBatchSize applies when a request does not set one
	DefaultBatchSize int `yaml:"default_batch_size" json:"default_batch_size"`
	// MaxConcurrentCategories bounds category fan-out within one job
	MaxConcurrentCategories int `yaml:"max_concurrent_categories" json:"max_concurrent_categories"`
	// CallTimeout applies to connector calls when the descriptor sets none
	CallTimeout time.Duration `yaml:"call_timeout" json:"call_timeout"`
	// IncrementalLookback bounds how far back incremental syncs look for checkpoints
	IncrementalLookback time.Duration `yaml:"incremental_lookback" json:"incremental_lookback"`
	// Retry is the policy for transient connector failures
	Retry RetryConfig `yaml:"retry" json:"retry"`
	// StoreSave is the policy for saving job records
	StoreSave RetryConfig `yaml:"store_save" json:"store_save"`
}

// SchedulerConfig controls the recurring sync scheduler.
type SchedulerConfig struct {
	Enabled      bool          `yaml:"enabled" json:"enabled"`
	PollInterval time.Duration `yaml:"poll_interval" json:"poll_interval"`
	// Timezone interprets schedule times of day, an IANA name
	Timezone string `yaml:"timezone" json:"timezone"`
}

// Location resolves the scheduler timezone.
func (s SchedulerConfig) Location() (*time.Location, error) {
	if s.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(s.Timezone)
}

// StatsConfig controls summary aggregation.
type StatsConfig struct {
	// DistinguishEmpty makes an empty window a no_data error instead of zero counts
	DistinguishEmpty bool `yaml:"distinguish_empty" json:"distinguish_empty"`
}

// HealthConfig controls periodic connection tests of active connectors.
type HealthConfig struct {
	Enabled  bool          `yaml:"enabled" json:"enabled"`
	Interval time.Duration `yaml:"interval" json:"interval"`
	// Timeout bounds one probe
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
	// UnhealthyAfter is the number of consecutive failures before a
	// degraded connector is reported unhealthy
	UnhealthyAfter int `yaml:"unhealthy_after" json:"unhealthy_after"`
}

// StoreConfig selects the durable job store.
type StoreConfig struct {
	// Driver is memory, postgres or mongo
	Driver   string         `yaml:"driver" json:"driver"`
	Postgres PostgresConfig `yaml:"postgres" json:"postgres"`
	Mongo    MongoConfig    `yaml:"mongo" json:"mongo"`
}

// PostgresConfig configures the PostgreSQL store.
type PostgresConfig struct {
	DSN            string `yaml:"dsn" json:"-"`
	MaxConns       int32  `yaml:"max_conns" json:"max_conns"`
	MigrateOnStart bool   `yaml:"migrate_on_start" json:"migrate_on_start"`
}

// MongoConfig configures the MongoDB store.
type MongoConfig struct {
	URI      string        `yaml:"uri" json:"-"`
	Database string        `yaml:"database" json:"database"`
	Timeout  time.Duration `yaml:"timeout" json:"timeout"`
}

// CanonicalConfig selects the canonical record store.
type CanonicalConfig struct {
	// Driver is memory or kafka
	Driver string               `yaml:"driver" json:"driver"`
	Kafka  CanonicalKafkaConfig `yaml:"kafka" json:"kafka"`
}

// CanonicalKafkaConfig configures the Kafka canonical sink.
type CanonicalKafkaConfig struct {
	Brokers      []string `yaml:"brokers" json:"brokers"`
	TopicPrefix  string   `yaml:"topic_prefix" json:"topic_prefix"`
	ClientID     string   `yaml:"client_id" json:"client_id"`
	ProducerAcks string   `yaml:"producer_acks" json:"producer_acks"`
	Compression  string   `yaml:"compression" json:"compression"`
}

// APIConfig configures the HTTP API.
type APIConfig struct {
	Enabled         bool          `yaml:"enabled" json:"enabled"`
	Listen          string        `yaml:"listen" json:"listen"`
	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// MetricsConfig configures Prometheus exposition.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled" json:"enabled"`
	ServiceName string  `yaml:"service_name" json:"service_name"`
	SampleRate  float64 `yaml:"sample_rate" json:"sample_rate"`
}

// ArchiveConfig configures job history export to S3-compatible storage.
type ArchiveConfig struct {
	Bucket       string `yaml:"bucket" json:"bucket"`
	Prefix       string `yaml:"prefix" json:"prefix"`
	Region       string `yaml:"region" json:"region"`
	Endpoint     string `yaml:"endpoint" json:"endpoint"`
	UsePathStyle bool   `yaml:"use_path_style" json:"use_path_style"`
	// CompressionLevel is the zstd level, 1 (fastest) to 4 (best)
	CompressionLevel int `yaml:"compression_level" json:"compression_level"`
}

// Default returns a Config with production-ready defaults. Every section
// is populated so a minimal YAML file only overrides what it needs.
func Default() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:        "orbit",
			Environment: "development",
		},
		Logging: logger.Config{
			Level:    "info",
			Encoding: "json",
		},
		Engine: EngineConfig{
			DefaultBatchSize:        100,
			MaxConcurrentCategories: 4,
			CallTimeout:             30 * time.Second,
			IncrementalLookback:     30 * 24 * time.Hour,
			Retry: RetryConfig{
				MaxRetries:   3,
				InitialDelay: time.Second,
				MaxDelay:     30 * time.Second,
				Multiplier:   2.0,
			},
			StoreSave: RetryConfig{
				MaxRetries:   3,
				InitialDelay: 100 * time.Millisecond,
				MaxDelay:     2 * time.Second,
				Multiplier:   2.0,
			},
		},
		Scheduler: SchedulerConfig{
			Enabled:      true,
			PollInterval: time.Minute,
			Timezone:     "UTC",
		},
		Health: HealthConfig{
			Enabled:        false,
			Interval:       5 * time.Minute,
			Timeout:        10 * time.Second,
			UnhealthyAfter: 3,
		},
		Store: StoreConfig{
			Driver: "memory",
			Postgres: PostgresConfig{
				MaxConns:       10,
				MigrateOnStart: true,
			},
			Mongo: MongoConfig{
				Database: "orbit",
				Timeout:  10 * time.Second,
			},
		},
		Canonical: CanonicalConfig{
			Driver: "memory",
			Kafka: CanonicalKafkaConfig{
				TopicPrefix:  "canonical.",
				ClientID:     "orbit-canonical",
				ProducerAcks: "all",
				Compression:  "none",
			},
		},
		API: APIConfig{
			Enabled:         true,
			Listen:          ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "orbit",
			SampleRate:  0.1,
		},
		Archive: ArchiveConfig{
			Prefix:           "orbit",
			Region:           "us-east-1",
			CompressionLevel: 2,
		},
	}
}

// Validate checks every section and returns the first problem found.
func (c *Config) Validate() error {
	validators := []struct {
		section string
		check   func() error
	}{
		{"engine", c.Engine.Validate},
		{"scheduler", c.Scheduler.Validate},
		{"health", c.Health.Validate},
		{"store", c.Store.Validate},
		{"canonical", c.Canonical.Validate},
		{"api", c.API.Validate},
		{"tracing", c.Tracing.Validate},
		{"archive", c.Archive.Validate},
		{"connectors", c.validateConnectors},
		{"schedules", c.validateSchedules},
	}
	for _, v := range validators {
		if err := v.check(); err != nil {
			return fmt.Errorf("%s: %w", v.section, err)
		}
	}
	return nil
}

// Validate checks the engine section.
func (e EngineConfig) Validate() error {
	if e.DefaultBatchSize <= 0 {
		return fmt.Errorf("default_batch_size must be positive")
	}
	if e.MaxConcurrentCategories <= 0 {
		return fmt.Errorf("max_concurrent_categories must be positive")
	}
	if e.CallTimeout <= 0 {
		return fmt.Errorf("call_timeout must be positive")
	}
	if e.IncrementalLookback < 0 {
		return fmt.Errorf("incremental_lookback cannot be negative")
	}
	if err := e.Retry.Validate(); err != nil {
		return fmt.Errorf("retry: %w", err)
	}
	if err := e.StoreSave.Validate(); err != nil {
		return fmt.Errorf("store_save: %w", err)
	}
	return nil
}

// Validate checks a retry policy.
func (r RetryConfig) Validate() error {
	if r.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative")
	}
	if r.MaxRetries > 0 && r.InitialDelay <= 0 {
		return fmt.Errorf("initial_delay must be positive")
	}
	if r.MaxDelay > 0 && r.MaxDelay < r.InitialDelay {
		return fmt.Errorf("max_delay must not be below initial_delay")
	}
	if r.Multiplier != 0 && r.Multiplier < 1 {
		return fmt.Errorf("multiplier must be at least 1")
	}
	return nil
}

// Validate checks the scheduler section.
func (s SchedulerConfig) Validate() error {
	if s.Enabled && s.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive")
	}
	if _, err := s.Location(); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", s.Timezone, err)
	}
	return nil
}

// Validate checks the health section.
func (h HealthConfig) Validate() error {
	if !h.Enabled {
		return nil
	}
	if h.Interval <= 0 || h.Timeout <= 0 {
		return fmt.Errorf("interval and timeout must be positive")
	}
	if h.UnhealthyAfter < 1 {
		return fmt.Errorf("unhealthy_after must be at least 1")
	}
	return nil
}

// Validate checks the store section.
func (s StoreConfig) Validate() error {
	switch s.Driver {
	case "", "memory":
	case "postgres":
		if s.Postgres.DSN == "" {
			return fmt.Errorf("postgres.dsn is required")
		}
	case "mongo":
		if s.Mongo.URI == "" {
			return fmt.Errorf("mongo.uri is required")
		}
		if s.Mongo.Database == "" {
			return fmt.Errorf("mongo.database is required")
		}
	default:
		return fmt.Errorf("unknown driver %q", s.Driver)
	}
	return nil
}

// Validate checks the canonical section.
func (c CanonicalConfig) Validate() error {
	switch c.Driver {
	case "", "memory":
	case "kafka":
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka.brokers is required")
		}
	default:
		return fmt.Errorf("unknown driver %q", c.Driver)
	}
	return nil
}

// Validate checks the api section.
func (a APIConfig) Validate() error {
	if a.Enabled && a.Listen == "" {
		return fmt.Errorf("listen address is required")
	}
	return nil
}

// Validate checks the tracing section.
func (t TracingConfig) Validate() error {
	if t.SampleRate < 0 || t.SampleRate > 1 {
		return fmt.Errorf("sample_rate must be within [0, 1]")
	}
	return nil
}

// Validate checks the archive section. An empty bucket disables archiving.
func (a ArchiveConfig) Validate() error {
	if a.CompressionLevel < 0 || a.CompressionLevel > 4 {
		return fmt.Errorf("compression_level must be within [1, 4]")
	}
	return nil
}
