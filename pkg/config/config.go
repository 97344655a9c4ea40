package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/cgmsim/internal/cgm"
	"github.com/srg/cgmsim/internal/gattserver"
	"gopkg.in/yaml.v3"
)

// StartTimeLayout is the layout of the start_time setting.
const StartTimeLayout = "2006-01-02T15:04:05"

// Config holds application configuration
type Config struct {
	LogLevel string `yaml:"log_level" default:"info"`

	DeviceName   string `yaml:"device_name" default:"CGM Simulator"`
	Manufacturer string `yaml:"manufacturer" default:"cgmsim"`
	Model        string `yaml:"model" default:"CGM-SIM-1"`
	BatteryLevel uint8  `yaml:"battery_level" default:"95"`

	NotifyPeriod     time.Duration `yaml:"default_notify_period" default:"1s"`
	CommInterval     time.Duration `yaml:"comm_interval" default:"1s"`
	QueueSize        int           `yaml:"queue_size" default:"16"`
	HistorySize      int           `yaml:"history_size" default:"64"`
	ReplyUnsupported bool          `yaml:"reply_unsupported"`

	Feature        uint32 `yaml:"feature" default:"12289"`
	CGMType        uint8  `yaml:"cgm_type" default:"9"`
	SampleLocation uint8  `yaml:"sample_location" default:"5"`
	StatusOffset   uint16 `yaml:"status_offset" default:"4660"`
	Status         uint32 `yaml:"status" default:"5666960"`
	RunTime        uint16 `yaml:"run_time" default:"4660"`
	StartTime      string `yaml:"start_time" default:"2015-02-09T03:03:20"`
	TimeZone       int8   `yaml:"time_zone" default:"-20"`
	DSTOffset      uint8  `yaml:"dst_offset"`

	// MetricsAddr enables the Prometheus endpoint when non-empty.
	MetricsAddr string `yaml:"metrics_addr"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML file over the defaults. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(content, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks value ranges that the YAML types do not enforce.
func (c *Config) Validate() error {
	var errs []error

	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	if c.DeviceName == "" {
		errs = append(errs, errors.New("device_name must not be empty"))
	}
	if c.BatteryLevel > 100 {
		errs = append(errs, fmt.Errorf("battery_level must be <= 100, got %d", c.BatteryLevel))
	}
	if c.NotifyPeriod <= 0 {
		errs = append(errs, fmt.Errorf("default_notify_period must be > 0, got %s", c.NotifyPeriod))
	}
	if c.CommInterval != 0 && c.CommInterval < time.Duration(cgm.MinIntervalMs)*time.Millisecond {
		errs = append(errs, fmt.Errorf("comm_interval must be 0 or >= %dms, got %s", cgm.MinIntervalMs, c.CommInterval))
	}
	if c.QueueSize <= 0 {
		errs = append(errs, fmt.Errorf("queue_size must be > 0, got %d", c.QueueSize))
	}
	if c.HistorySize < 0 {
		errs = append(errs, fmt.Errorf("history_size must be >= 0, got %d", c.HistorySize))
	}
	if c.Feature > 0xFFFFFF {
		errs = append(errs, fmt.Errorf("feature must fit in 24 bits, got 0x%X", c.Feature))
	}
	if c.Status > 0xFFFFFF {
		errs = append(errs, fmt.Errorf("status must fit in 24 bits, got 0x%X", c.Status))
	}
	if c.CGMType > 0xF || c.SampleLocation > 0xF {
		errs = append(errs, fmt.Errorf("cgm_type and sample_location must fit in 4 bits, got %d/%d", c.CGMType, c.SampleLocation))
	}
	if c.TimeZone != cgm.TimeZoneUnknown && (c.TimeZone < -48 || c.TimeZone > 56) {
		errs = append(errs, fmt.Errorf("time_zone must be in -48..56, got %d", c.TimeZone))
	}
	if st, err := c.startTime(); err != nil {
		errs = append(errs, err)
	} else if err := st.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("start_time: %w", err))
	}

	return errors.Join(errs...)
}

// Level returns the configured log level, falling back to info.
func (c *Config) Level() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.Level())

	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}

// ServiceOptions builds the core options. Call Validate first.
func (c *Config) ServiceOptions() (cgm.Options, error) {
	st, err := c.startTime()
	if err != nil {
		return cgm.Options{}, err
	}

	opts := cgm.DefaultOptions()
	opts.Feature = cgm.Feature{
		Bitmask:    c.Feature,
		TypeSample: cgm.PackTypeSample(c.CGMType, c.SampleLocation),
	}
	opts.Status = cgm.Status{TimeOffset: c.StatusOffset, Bitmask: c.Status}
	opts.StartTime = st
	opts.RunTime = cgm.RunTime(c.RunTime)
	opts.Interval = c.CommInterval
	opts.NotifyPeriod = c.NotifyPeriod
	opts.QueueSize = c.QueueSize
	opts.HistorySize = c.HistorySize
	opts.ReplyUnsupported = c.ReplyUnsupported
	return opts, nil
}

// DeviceInfo returns the static Device Information and Battery values.
func (c *Config) DeviceInfo() gattserver.DeviceInfo {
	return gattserver.DeviceInfo{
		Manufacturer: c.Manufacturer,
		Model:        c.Model,
		BatteryLevel: c.BatteryLevel,
	}
}

func (c *Config) startTime() (cgm.SessionStartTime, error) {
	t, err := time.Parse(StartTimeLayout, c.StartTime)
	if err != nil {
		return cgm.SessionStartTime{}, fmt.Errorf("start_time: %w", err)
	}
	return cgm.SessionStartTime{
		Year:      uint16(t.Year()),
		Month:     uint8(t.Month()),
		Day:       uint8(t.Day()),
		Hour:      uint8(t.Hour()),
		Minute:    uint8(t.Minute()),
		Second:    uint8(t.Second()),
		TimeZone:  c.TimeZone,
		DSTOffset: c.DSTOffset,
	}, nil
}
