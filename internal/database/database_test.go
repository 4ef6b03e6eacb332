package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"

	"github.com/jmylchreest/vidgate/internal/config"
	"github.com/jmylchreest/vidgate/internal/models"
)

func testConfig(dsn string) config.DatabaseConfig {
	return config.DatabaseConfig{
		Enabled:         true,
		Driver:          "sqlite",
		DSN:             dsn,
		MaxOpenConns:    4,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: time.Minute,
		LogLevel:        "silent",
	}
}

func TestNew_SQLiteFile(t *testing.T) {
	db, err := New(testConfig(filepath.Join(t.TempDir(), "catalog.db")), nil)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Ping(context.Background()))
	assert.Equal(t, "sqlite", db.Driver())

	var journalMode string
	require.NoError(t, db.Raw("PRAGMA journal_mode").Scan(&journalMode).Error)
	assert.Equal(t, "wal", journalMode)
}

func TestNew_MemoryUsesSingleConnection(t *testing.T) {
	db, err := New(testConfig(":memory:"), nil)
	require.NoError(t, err)
	defer db.Close()

	sqlDB, err := db.DB.DB()
	require.NoError(t, err)
	assert.Equal(t, 1, sqlDB.Stats().MaxOpenConnections)
}

func TestNew_InvalidDriver(t *testing.T) {
	cfg := testConfig(":memory:")
	cfg.Driver = "oracle"
	db, err := New(cfg, nil)
	assert.Nil(t, db)
	assert.ErrorContains(t, err, "unsupported database driver")
}

func TestDB_Migrate(t *testing.T) {
	db, err := New(testConfig(filepath.Join(t.TempDir(), "catalog.db")), nil)
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	require.NoError(t, db.Migrate(ctx))
	require.NoError(t, db.Migrate(ctx), "migrations are applied once")

	assert.True(t, db.Migrator().HasTable(&models.MotionEvent{}))
	assert.True(t, db.Migrator().HasIndex(&models.MotionEvent{}, "idx_motion_events_status"))

	var applied int64
	require.NoError(t, db.Table("schema_migrations").Count(&applied).Error)
	assert.Equal(t, int64(2), applied)
}

func TestDB_CloseStopsPing(t *testing.T) {
	db, err := New(testConfig(":memory:"), nil)
	require.NoError(t, err)
	require.NoError(t, db.Close())
	assert.Error(t, db.Ping(context.Background()))
}

func TestGormLogLevel(t *testing.T) {
	tests := []struct {
		level    string
		expected logger.LogLevel
	}{
		{"silent", logger.Silent},
		{"error", logger.Error},
		{"warn", logger.Warn},
		{"info", logger.Info},
		{"", logger.Warn},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			assert.Equal(t, tt.expected, gormLogLevel(tt.level))
		})
	}
}

func TestTruncateSQL(t *testing.T) {
	short := "SELECT 1"
	assert.Equal(t, short, truncateSQL(short))

	long := make([]byte, maxSQLLogLength+10)
	for i := range long {
		long[i] = 'x'
	}
	got := truncateSQL(string(long))
	assert.Len(t, got, maxSQLLogLength+len("... (truncated)"))
}
