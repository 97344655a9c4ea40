package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/cgmsim/internal/cgm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cgmsim.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "CGM Simulator", cfg.DeviceName)
	assert.Equal(t, time.Second, cfg.NotifyPeriod)
	assert.Equal(t, time.Second, cfg.CommInterval)
	assert.Equal(t, 16, cfg.QueueSize)
	assert.Equal(t, 64, cfg.HistorySize)
	assert.False(t, cfg.ReplyUnsupported)
	assert.Equal(t, uint32(0x003001), cfg.Feature)
	assert.Equal(t, uint16(0x1234), cfg.StatusOffset)
	assert.Equal(t, uint32(0x567890), cfg.Status)
	assert.Equal(t, uint16(0x1234), cfg.RunTime)
	assert.Equal(t, int8(-20), cfg.TimeZone)
	assert.Equal(t, uint8(95), cfg.BatteryLevel)
	assert.Empty(t, cfg.MetricsAddr)
	assert.NoError(t, cfg.Validate())
}

func TestDefaultConfig_MatchesServiceDefaults(t *testing.T) {
	opts, err := DefaultConfig().ServiceOptions()
	require.NoError(t, err)

	assert.Equal(t, cgm.DefaultOptions(), opts)
}

func TestConfig_NewLogger(t *testing.T) {
	tests := []struct {
		name     string
		logLevel string
		expected logrus.Level
	}{
		{name: "creates logger with debug level", logLevel: "debug", expected: logrus.DebugLevel},
		{name: "creates logger with info level", logLevel: "info", expected: logrus.InfoLevel},
		{name: "creates logger with warn level", logLevel: "warn", expected: logrus.WarnLevel},
		{name: "creates logger with error level", logLevel: "error", expected: logrus.ErrorLevel},
		{name: "falls back to info on garbage", logLevel: "loud", expected: logrus.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{LogLevel: tt.logLevel}

			logger := cfg.NewLogger()

			assert.NotNil(t, logger)
			assert.Equal(t, tt.expected, logger.GetLevel())

			formatter, ok := logger.Formatter.(*logrus.TextFormatter)
			assert.True(t, ok)
			assert.True(t, formatter.FullTimestamp)
			assert.Equal(t, time.RFC3339, formatter.TimestampFormat)
		})
	}
}

func TestLoad(t *testing.T) {
	t.Run("empty path yields defaults", func(t *testing.T) {
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, DefaultConfig(), cfg)
	})

	t.Run("file values override defaults", func(t *testing.T) {
		path := writeConfig(t, `
log_level: debug
device_name: Bench CGM
comm_interval: 5s
queue_size: 4
reply_unsupported: true
time_zone: 0
start_time: "2024-02-29T12:00:00"
metrics_addr: ":9100"
`)
		cfg, err := Load(path)
		require.NoError(t, err)

		assert.Equal(t, "debug", cfg.LogLevel)
		assert.Equal(t, "Bench CGM", cfg.DeviceName)
		assert.Equal(t, 5*time.Second, cfg.CommInterval)
		assert.Equal(t, 4, cfg.QueueSize)
		assert.True(t, cfg.ReplyUnsupported)
		assert.Equal(t, int8(0), cfg.TimeZone)
		assert.Equal(t, ":9100", cfg.MetricsAddr)
		// untouched keys keep their defaults
		assert.Equal(t, 64, cfg.HistorySize)
		assert.Equal(t, time.Second, cfg.NotifyPeriod)

		opts, err := cfg.ServiceOptions()
		require.NoError(t, err)
		assert.Equal(t, cgm.SessionStartTime{Year: 2024, Month: 2, Day: 29, Hour: 12}, opts.StartTime)
		assert.Equal(t, 5*time.Second, opts.Interval)
		assert.True(t, opts.ReplyUnsupported)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read config")
	})

	t.Run("malformed yaml", func(t *testing.T) {
		_, err := Load(writeConfig(t, "queue_size: [1, 2"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse config")
	})

	t.Run("invalid values", func(t *testing.T) {
		_, err := Load(writeConfig(t, "queue_size: 0\n"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "queue_size must be > 0")
	})
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "paused interval is allowed", mutate: func(c *Config) { c.CommInterval = 0 }},
		{name: "unknown time zone is allowed", mutate: func(c *Config) { c.TimeZone = cgm.TimeZoneUnknown }},
		{name: "interval below minimum", mutate: func(c *Config) { c.CommInterval = 500 * time.Millisecond }, wantErr: "comm_interval"},
		{name: "bad log level", mutate: func(c *Config) { c.LogLevel = "loud" }, wantErr: "log_level"},
		{name: "empty device name", mutate: func(c *Config) { c.DeviceName = "" }, wantErr: "device_name"},
		{name: "battery over 100", mutate: func(c *Config) { c.BatteryLevel = 101 }, wantErr: "battery_level"},
		{name: "zero notify period", mutate: func(c *Config) { c.NotifyPeriod = 0 }, wantErr: "default_notify_period"},
		{name: "negative history", mutate: func(c *Config) { c.HistorySize = -1 }, wantErr: "history_size"},
		{name: "feature too wide", mutate: func(c *Config) { c.Feature = 0x1000000 }, wantErr: "feature"},
		{name: "status too wide", mutate: func(c *Config) { c.Status = 0x1000000 }, wantErr: "status"},
		{name: "cgm type too wide", mutate: func(c *Config) { c.CGMType = 0x10 }, wantErr: "cgm_type"},
		{name: "time zone out of range", mutate: func(c *Config) { c.TimeZone = 57 }, wantErr: "time_zone"},
		{name: "unparsable start time", mutate: func(c *Config) { c.StartTime = "yesterday" }, wantErr: "start_time"},
		{name: "start year out of range", mutate: func(c *Config) { c.StartTime = "1999-12-31T00:00:00" }, wantErr: "start_time"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_DeviceInfo(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Manufacturer = "Acme"
	cfg.Model = "G7"
	cfg.BatteryLevel = 42

	info := cfg.DeviceInfo()

	assert.Equal(t, "Acme", info.Manufacturer)
	assert.Equal(t, "G7", info.Model)
	assert.Equal(t, uint8(42), info.BatteryLevel)
}
