package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validTestConfig() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Pipeline: PipelineConfig{
			QueueSize:   300,
			FeedTimeout: time.Minute,
		},
		Output: OutputConfig{Dir: "./events", Stream: "front-door"},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "test.db",
		},
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)

	assert.Equal(t, 300, cfg.Pipeline.QueueSize)
	assert.Equal(t, 60*time.Second, cfg.Pipeline.FeedTimeout)
	assert.Equal(t, 5*time.Second, cfg.Pipeline.CloseGracePeriod)

	assert.Equal(t, 10, cfg.Motion.SpatialGridNumber)
	assert.Equal(t, 10, cfg.Motion.TemporalBufferFrames)
	assert.Equal(t, "medium", cfg.Motion.Sensitivity)
	assert.Equal(t, 5, cfg.Motion.MinFramesTriggerMotion)
	assert.Equal(t, 10*time.Second, cfg.Motion.MinEventLength)
	assert.Zero(t, cfg.Motion.CoolDownPeriod)
	assert.Equal(t, 3*time.Second, cfg.Motion.LookbackWindow)
	assert.Equal(t, 30*time.Second, cfg.Motion.FrameTimeout)

	assert.Equal(t, "./events", cfg.Output.Dir)
	assert.Equal(t, "default", cfg.Output.Stream)

	assert.False(t, cfg.Database.Enabled)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.False(t, cfg.NATS.Enabled)
	assert.Equal(t, "vidgate.motion", cfg.NATS.SubjectPrefix)
	assert.False(t, cfg.Minio.Enabled)
	assert.Equal(t, "vidgate-events", cfg.Minio.Bucket)
	assert.False(t, cfg.Metrics.Enabled)
	assert.Equal(t, ":9464", cfg.Metrics.Listen)
}

func TestLoad_FromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
logging:
  level: debug
  format: text
pipeline:
  queue_size: 16
  feed_timeout: 2s
motion:
  sensitivity: high
  min_frames_trigger_motion: 3
  cool_down_period: 15s
output:
  dir: /var/lib/vidgate
  stream: garage
nats:
  enabled: true
  url: nats://nats:4222
`
	err := os.WriteFile(configPath, []byte(configContent), 0o600)
	require.NoError(t, err)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, 16, cfg.Pipeline.QueueSize)
	assert.Equal(t, 2*time.Second, cfg.Pipeline.FeedTimeout)
	assert.Equal(t, "high", cfg.Motion.Sensitivity)
	assert.Equal(t, 3, cfg.Motion.MinFramesTriggerMotion)
	assert.Equal(t, 15*time.Second, cfg.Motion.CoolDownPeriod)
	assert.Equal(t, "/var/lib/vidgate", cfg.Output.Dir)
	assert.Equal(t, "garage", cfg.Output.Stream)
	assert.True(t, cfg.NATS.Enabled)
	assert.Equal(t, "nats://nats:4222", cfg.NATS.URL)
	// Untouched sections keep their defaults.
	assert.Equal(t, 10*time.Second, cfg.Motion.MinEventLength)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("VIDGATE_MOTION_SENSITIVITY", "low")
	t.Setenv("VIDGATE_PIPELINE_QUEUE_SIZE", "42")
	t.Setenv("VIDGATE_OUTPUT_STREAM", "porch")
	t.Setenv("VIDGATE_MOTION_LOOKBACK_WINDOW", "5s")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "low", cfg.Motion.Sensitivity)
	assert.Equal(t, 42, cfg.Pipeline.QueueSize)
	assert.Equal(t, "porch", cfg.Output.Stream)
	assert.Equal(t, 5*time.Second, cfg.Motion.LookbackWindow)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
output:
  stream: garage
logging:
  level: warn
`
	err := os.WriteFile(configPath, []byte(configContent), 0o600)
	require.NoError(t, err)

	t.Setenv("VIDGATE_OUTPUT_STREAM", "driveway")

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, "driveway", cfg.Output.Stream)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoad_InvalidConfigFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	err := os.WriteFile(configPath, []byte("logging: [unclosed"), 0o600)
	require.NoError(t, err)

	_, err = Load(configPath)
	assert.Error(t, err)
}

func TestLoad_NonExistentFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	assert.Error(t, err)
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := validTestConfig()
	assert.NoError(t, cfg.Validate())
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantKey string
	}{
		{"invalid log level", func(c *Config) { c.Logging.Level = "trace" }, "logging.level"},
		{"invalid log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"zero queue size", func(c *Config) { c.Pipeline.QueueSize = 0 }, "pipeline.queue_size"},
		{"negative feed timeout", func(c *Config) { c.Pipeline.FeedTimeout = -time.Second }, "pipeline.feed_timeout"},
		{"empty output dir", func(c *Config) { c.Output.Dir = "" }, "output.dir"},
		{"stream with dot", func(c *Config) { c.Output.Stream = "a.b" }, "output.stream"},
		{"empty stream", func(c *Config) { c.Output.Stream = "" }, "output.stream"},
		{"invalid driver", func(c *Config) {
			c.Database.Enabled = true
			c.Database.Driver = "oracle"
		}, "database.driver"},
		{"empty dsn", func(c *Config) {
			c.Database.Enabled = true
			c.Database.DSN = ""
		}, "database.dsn"},
		{"nats without url", func(c *Config) { c.NATS.Enabled = true }, "nats.url"},
		{"minio without endpoint", func(c *Config) {
			c.Minio.Enabled = true
			c.Minio.Bucket = "b"
		}, "minio.endpoint"},
		{"minio without bucket", func(c *Config) {
			c.Minio.Enabled = true
			c.Minio.Endpoint = "localhost:9000"
		}, "minio.bucket"},
		{"metrics without listen", func(c *Config) { c.Metrics.Enabled = true }, "metrics.listen"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validTestConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantKey)
		})
	}
}

func TestValidate_DisabledSectionsIgnored(t *testing.T) {
	cfg := validTestConfig()
	cfg.Database.Driver = "oracle"
	cfg.Minio.Bucket = ""
	assert.NoError(t, cfg.Validate())
}

func TestConfig_AllDrivers(t *testing.T) {
	for _, driver := range []string{"sqlite", "postgres", "mysql"} {
		t.Run(driver, func(t *testing.T) {
			cfg := validTestConfig()
			cfg.Database.Enabled = true
			cfg.Database.Driver = driver
			assert.NoError(t, cfg.Validate())
		})
	}
}
