package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

const (
	minCollectionIntervalSeconds = 1
	maxCollectionIntervalSeconds = 3600
	minTopProcesses              = 1
	maxTopProcesses              = 500
	minWallClockJumpSeconds      = 1
	maxWallClockJumpSeconds      = 3600
	minFlushIntervalSeconds      = 1
	maxFlushIntervalSeconds      = 600
	minBatchSize                 = 1
	maxBatchSize                 = 10000
	minRetentionDays             = 1
	maxRetentionDays             = 3650
	minCleanupIntervalHours      = 1
	maxCleanupIntervalHours      = 720
	minQueueSize                 = 1
	maxQueueSize                 = 100000
)

// Voltage source selection modes.
const (
	VoltageSourceAuto    = "auto"
	VoltageSourcePrimary = "primary"
	VoltageSourceCharger = "charger"
)

// D-Bus buses the service can be exported on.
const (
	BusSystem  = "system"
	BusSession = "session"
)

// Config is the daemon configuration file.
type Config struct {
	Storage    StorageConfig    `toml:"storage"`
	Collection CollectionConfig `toml:"collection"`
	Cleanup    CleanupConfig    `toml:"cleanup"`
	Sensors    SensorsConfig    `toml:"sensors"`
	MQTT       MQTTConfig       `toml:"mqtt"`
	DBus       DBusConfig       `toml:"dbus"`
}

// StorageConfig locates the database and the calibration model.
type StorageConfig struct {
	DBPath    string `toml:"db_path"`
	ModelPath string `toml:"model_path"`
}

// CollectionConfig sets sampling intervals and database batching.
type CollectionConfig struct {
	IntervalSeconds               int `toml:"interval_seconds"`
	BatteryIntervalSeconds        int `toml:"battery_interval_seconds"`
	TopProcesses                  int `toml:"top_processes"`
	WallClockJumpThresholdSeconds int `toml:"wall_clock_jump_threshold_seconds"`
	FlushIntervalSeconds          int `toml:"flush_interval_seconds"`
	BatchSize                     int `toml:"batch_size"`
}

// CleanupConfig controls deletion of old rows.
type CleanupConfig struct {
	RetentionDays int `toml:"retention_days"`
	IntervalHours int `toml:"interval_hours"`
}

// SensorsConfig locates the backing files for each sensor. Roots are absolute;
// every other path is relative to SysfsRoot and may contain a glob, in which
// case the first match is used.
type SensorsConfig struct {
	SysfsRoot             string `toml:"sysfs_root"`
	ProcRoot              string `toml:"proc_root"`
	CPUDir                string `toml:"cpu_dir"`
	CoreFrequencyTemplate string `toml:"core_frequency_template"`
	CurrentPath           string `toml:"current_path"`
	VoltagePath           string `toml:"voltage_path"`
	ChargerVoltagePath    string `toml:"charger_voltage_path"`
	CapacityPath          string `toml:"capacity_path"`
	BacklightPath         string `toml:"backlight_path"`
	VoltageSource         string `toml:"voltage_source"`
}

// MQTTConfig configures optional publishing of samples to a broker.
type MQTTConfig struct {
	Enabled   bool   `toml:"enabled"`
	Broker    string `toml:"broker"`
	Topic     string `toml:"topic"`
	ClientID  string `toml:"client_id"`
	QoS       int    `toml:"qos"`
	QueueSize int    `toml:"queue_size"`
}

// DBusConfig selects the bus the service is exported on.
type DBusConfig struct {
	Bus string `toml:"bus"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			DBPath:    "/var/lib/power-monitor/data.db",
			ModelPath: "/var/lib/power-monitor/model.toml",
		},
		Collection: CollectionConfig{
			IntervalSeconds:               5,
			BatteryIntervalSeconds:        60,
			TopProcesses:                  10,
			WallClockJumpThresholdSeconds: 15,
			FlushIntervalSeconds:          30,
			BatchSize:                     64,
		},
		Cleanup: CleanupConfig{
			RetentionDays: 30,
			IntervalHours: 24,
		},
		Sensors: SensorsConfig{
			SysfsRoot:             "/sys",
			ProcRoot:              "/proc",
			CPUDir:                "devices/system/cpu",
			CoreFrequencyTemplate: "devices/system/cpu/cpu%d/cpufreq/scaling_cur_freq",
			CurrentPath:           "class/power_supply/BAT*/current_now",
			VoltagePath:           "class/power_supply/BAT*/voltage_now",
			ChargerVoltagePath:    "class/power_supply/battery/batt_vol",
			CapacityPath:          "class/power_supply/BAT*/capacity",
			BacklightPath:         "class/backlight/*",
			VoltageSource:         VoltageSourceAuto,
		},
		MQTT: MQTTConfig{
			Enabled:   false,
			Broker:    "tcp://localhost:1883",
			Topic:     "power-monitor/samples",
			ClientID:  "power-monitor",
			QoS:       0,
			QueueSize: 256,
		},
		DBus: DBusConfig{
			Bus: BusSystem,
		},
	}
}

// Load reads path over the defaults and validates the result.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return NormalizeAndValidate(cfg)
}

// LoadOrDefault behaves like Load but falls back to DefaultConfig when the
// file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if os.IsNotExist(err) {
		return NormalizeAndValidate(DefaultConfig())
	}
	return cfg, err
}

// NormalizeAndValidate returns a trimmed copy of cfg, or an error naming the
// first setting the daemon cannot run with.
func NormalizeAndValidate(cfg *Config) (*Config, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}

	sanitized := *cfg

	var err error
	sanitized.Storage.DBPath, err = sanitizePath("storage.db_path", sanitized.Storage.DBPath)
	if err != nil {
		return nil, err
	}
	sanitized.Storage.ModelPath, err = sanitizePath("storage.model_path", sanitized.Storage.ModelPath)
	if err != nil {
		return nil, err
	}

	ranges := []struct {
		name     string
		value    int
		min, max int
	}{
		{"collection.interval_seconds", sanitized.Collection.IntervalSeconds, minCollectionIntervalSeconds, maxCollectionIntervalSeconds},
		{"collection.battery_interval_seconds", sanitized.Collection.BatteryIntervalSeconds, minCollectionIntervalSeconds, maxCollectionIntervalSeconds},
		{"collection.top_processes", sanitized.Collection.TopProcesses, minTopProcesses, maxTopProcesses},
		{"collection.wall_clock_jump_threshold_seconds", sanitized.Collection.WallClockJumpThresholdSeconds, minWallClockJumpSeconds, maxWallClockJumpSeconds},
		{"collection.flush_interval_seconds", sanitized.Collection.FlushIntervalSeconds, minFlushIntervalSeconds, maxFlushIntervalSeconds},
		{"collection.batch_size", sanitized.Collection.BatchSize, minBatchSize, maxBatchSize},
		{"cleanup.retention_days", sanitized.Cleanup.RetentionDays, minRetentionDays, maxRetentionDays},
		{"cleanup.interval_hours", sanitized.Cleanup.IntervalHours, minCleanupIntervalHours, maxCleanupIntervalHours},
	}
	for _, r := range ranges {
		if err := validateRange(r.name, r.value, r.min, r.max); err != nil {
			return nil, err
		}
	}

	if err := normalizeSensors(&sanitized.Sensors); err != nil {
		return nil, err
	}
	if err := normalizeMQTT(&sanitized.MQTT); err != nil {
		return nil, err
	}

	switch sanitized.DBus.Bus {
	case BusSystem, BusSession:
	default:
		return nil, fmt.Errorf("dbus.bus must be %q or %q, got %q", BusSystem, BusSession, sanitized.DBus.Bus)
	}

	return &sanitized, nil
}

func normalizeSensors(s *SensorsConfig) error {
	var err error
	s.SysfsRoot, err = sanitizePath("sensors.sysfs_root", s.SysfsRoot)
	if err != nil {
		return err
	}
	s.ProcRoot, err = sanitizePath("sensors.proc_root", s.ProcRoot)
	if err != nil {
		return err
	}

	rel := []struct {
		name  string
		value *string
	}{
		{"sensors.cpu_dir", &s.CPUDir},
		{"sensors.core_frequency_template", &s.CoreFrequencyTemplate},
		{"sensors.current_path", &s.CurrentPath},
		{"sensors.voltage_path", &s.VoltagePath},
		{"sensors.charger_voltage_path", &s.ChargerVoltagePath},
		{"sensors.capacity_path", &s.CapacityPath},
		{"sensors.backlight_path", &s.BacklightPath},
	}
	for _, r := range rel {
		*r.value, err = sanitizeRelPath(r.name, *r.value)
		if err != nil {
			return err
		}
	}

	if strings.Count(s.CoreFrequencyTemplate, "%d") != 1 {
		return fmt.Errorf("sensors.core_frequency_template must contain exactly one %%d, got %q", s.CoreFrequencyTemplate)
	}

	s.VoltageSource = strings.ToLower(strings.TrimSpace(s.VoltageSource))
	switch s.VoltageSource {
	case VoltageSourceAuto, VoltageSourcePrimary, VoltageSourceCharger:
	default:
		return fmt.Errorf("sensors.voltage_source must be one of auto, primary, charger, got %q", s.VoltageSource)
	}
	return nil
}

func normalizeMQTT(m *MQTTConfig) error {
	if err := validateRange("mqtt.qos", m.QoS, 0, 2); err != nil {
		return err
	}
	if err := validateRange("mqtt.queue_size", m.QueueSize, minQueueSize, maxQueueSize); err != nil {
		return err
	}
	if !m.Enabled {
		return nil
	}
	m.Broker = strings.TrimSpace(m.Broker)
	if m.Broker == "" {
		return fmt.Errorf("mqtt.broker must not be empty when mqtt is enabled")
	}
	m.Topic = strings.TrimSpace(m.Topic)
	if m.Topic == "" {
		return fmt.Errorf("mqtt.topic must not be empty when mqtt is enabled")
	}
	return nil
}

// Save writes cfg to path as TOML.
func Save(path string, cfg *Config) error {
	trimmedPath := strings.TrimSpace(path)
	if trimmedPath == "" {
		return fmt.Errorf("config path must not be empty")
	}

	sanitized, err := NormalizeAndValidate(cfg)
	if err != nil {
		return err
	}

	var data bytes.Buffer
	if err := toml.NewEncoder(&data).Encode(sanitized); err != nil {
		return fmt.Errorf("encode config TOML: %w", err)
	}

	dir := filepath.Dir(trimmedPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, ".config-*.toml")
	if err != nil {
		return fmt.Errorf("create temp config file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		if tmpPath != "" {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data.Bytes()); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("write temp config file: %w", err)
	}
	if err := tmpFile.Chmod(0o644); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("chmod temp config file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp config file: %w", err)
	}
	if err := os.Rename(tmpPath, trimmedPath); err != nil {
		return fmt.Errorf("replace config file: %w", err)
	}
	tmpPath = ""

	return nil
}

func sanitizePath(name, value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", fmt.Errorf("%s must not be empty", name)
	}
	cleaned := filepath.Clean(trimmed)
	if !filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("%s must be an absolute path, got %q", name, value)
	}
	return cleaned, nil
}

func sanitizeRelPath(name, value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", fmt.Errorf("%s must not be empty", name)
	}
	cleaned := filepath.Clean(trimmed)
	if filepath.IsAbs(cleaned) || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%s must be relative to sensors.sysfs_root, got %q", name, value)
	}
	return cleaned, nil
}

func validateRange(name string, value, min, max int) error {
	if value < min || value > max {
		return fmt.Errorf("%s must be between %d and %d, got %d", name, min, max, value)
	}

	return nil
}
