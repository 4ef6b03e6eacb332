// Package config provides configuration management for vidgate using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultQueueSize            = 300
	defaultFeedTimeout          = 60 * time.Second
	defaultCloseGracePeriod     = 5 * time.Second
	defaultSpatialGridNumber    = 10
	defaultTemporalBufferFrames = 10
	defaultMinFramesTrigger     = 5
	defaultMinEventLength       = 10 * time.Second
	defaultLookbackWindow       = 3 * time.Second
	defaultFrameTimeout         = 30 * time.Second
	defaultMaxOpenConns         = 10
	defaultMaxIdleConns         = 5
	defaultConnMaxIdleTime      = 30 * time.Minute
	defaultNATSConnectTimeout   = 5 * time.Second
	defaultUploadTimeout        = 2 * time.Minute
	defaultMetricsListen        = ":9464"
)

// Config holds all configuration for the application.
type Config struct {
	Logging  LoggingConfig  `mapstructure:"logging"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Motion   MotionConfig   `mapstructure:"motion"`
	Output   OutputConfig   `mapstructure:"output"`
	Database DatabaseConfig `mapstructure:"database"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Minio    MinioConfig    `mapstructure:"minio"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// PipelineConfig holds media pipeline adapter configuration.
type PipelineConfig struct {
	QueueSize        int           `mapstructure:"queue_size"`
	FeedTimeout      time.Duration `mapstructure:"feed_timeout"`
	CloseGracePeriod time.Duration `mapstructure:"close_grace_period"`
}

// MotionConfig holds the motion event filter settings. Out of range values are
// reset to their defaults by the filter rather than rejected here.
type MotionConfig struct {
	SpatialGridNumber      int           `mapstructure:"spatial_grid_number"`
	TemporalBufferFrames   int           `mapstructure:"temporal_buffer_frames"`
	Sensitivity            string        `mapstructure:"sensitivity"` // high, medium, low
	MinFramesTriggerMotion int           `mapstructure:"min_frames_trigger_motion"`
	MinEventLength         time.Duration `mapstructure:"min_event_length"`
	CoolDownPeriod         time.Duration `mapstructure:"cool_down_period"`
	LookbackWindow         time.Duration `mapstructure:"lookback_window"`
	FrameTimeout           time.Duration `mapstructure:"frame_timeout"`
}

// OutputConfig holds event clip output configuration.
type OutputConfig struct {
	Dir    string `mapstructure:"dir"`
	Stream string `mapstructure:"stream"`
	// RetainLocally keeps clips on disk after a successful upload.
	RetainLocally bool `mapstructure:"retain_locally"`
}

// DatabaseConfig holds event catalog database configuration.
type DatabaseConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Driver          string        `mapstructure:"driver"` // sqlite, postgres, mysql
	DSN             string        `mapstructure:"dsn" masq:"secret"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// NATSConfig holds event notification configuration.
type NATSConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	URL            string        `mapstructure:"url"`
	SubjectPrefix  string        `mapstructure:"subject_prefix"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// MinioConfig holds clip upload configuration.
type MinioConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Endpoint  string        `mapstructure:"endpoint"`
	AccessKey string        `mapstructure:"access_key"`
	SecretKey string        `mapstructure:"secret_key" masq:"secret"`
	Bucket    string        `mapstructure:"bucket"`
	Region    string        `mapstructure:"region"`
	UseSSL    bool          `mapstructure:"use_ssl"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// MetricsConfig holds Prometheus exporter configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with VIDGATE_ and use underscores for nesting.
// Example: VIDGATE_MOTION_SENSITIVITY=high.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/vidgate")
		v.AddConfigPath("$HOME/.vidgate")
	}

	v.SetEnvPrefix("VIDGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	v.SetDefault("pipeline.queue_size", defaultQueueSize)
	v.SetDefault("pipeline.feed_timeout", defaultFeedTimeout)
	v.SetDefault("pipeline.close_grace_period", defaultCloseGracePeriod)

	v.SetDefault("motion.spatial_grid_number", defaultSpatialGridNumber)
	v.SetDefault("motion.temporal_buffer_frames", defaultTemporalBufferFrames)
	v.SetDefault("motion.sensitivity", "medium")
	v.SetDefault("motion.min_frames_trigger_motion", defaultMinFramesTrigger)
	v.SetDefault("motion.min_event_length", defaultMinEventLength)
	v.SetDefault("motion.cool_down_period", 0)
	v.SetDefault("motion.lookback_window", defaultLookbackWindow)
	v.SetDefault("motion.frame_timeout", defaultFrameTimeout)

	v.SetDefault("output.dir", "./events")
	v.SetDefault("output.stream", "default")
	v.SetDefault("output.retain_locally", true)

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "vidgate.db")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", defaultConnMaxIdleTime)
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("nats.subject_prefix", "vidgate.motion")
	v.SetDefault("nats.connect_timeout", defaultNATSConnectTimeout)

	v.SetDefault("minio.enabled", false)
	v.SetDefault("minio.endpoint", "127.0.0.1:9000")
	v.SetDefault("minio.access_key", "")
	v.SetDefault("minio.secret_key", "")
	v.SetDefault("minio.bucket", "vidgate-events")
	v.SetDefault("minio.region", "us-east-1")
	v.SetDefault("minio.use_ssl", false)
	v.SetDefault("minio.timeout", defaultUploadTimeout)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", defaultMetricsListen)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if c.Pipeline.QueueSize < 1 {
		return fmt.Errorf("pipeline.queue_size must be at least 1")
	}
	if c.Pipeline.FeedTimeout < 0 {
		return fmt.Errorf("pipeline.feed_timeout must not be negative")
	}

	if c.Output.Dir == "" {
		return fmt.Errorf("output.dir is required")
	}
	if c.Output.Stream == "" || strings.ContainsAny(c.Output.Stream, " ./*>") {
		return fmt.Errorf("output.stream must be a non-empty token without spaces, dots, slashes or wildcards")
	}

	if c.Database.Enabled {
		validDrivers := map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
		if !validDrivers[c.Database.Driver] {
			return fmt.Errorf("database.driver must be one of: sqlite, postgres, mysql")
		}
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required")
		}
	}

	if c.NATS.Enabled && c.NATS.URL == "" {
		return fmt.Errorf("nats.url is required when nats is enabled")
	}

	if c.Minio.Enabled {
		if c.Minio.Endpoint == "" {
			return fmt.Errorf("minio.endpoint is required when minio is enabled")
		}
		if c.Minio.Bucket == "" {
			return fmt.Errorf("minio.bucket is required when minio is enabled")
		}
	}

	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		return fmt.Errorf("metrics.listen is required when metrics are enabled")
	}

	return nil
}
