package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chaz8081/hr-relay/internal/ble"
	"gopkg.in/yaml.v3"
)

// ErrNoTarget is returned by Validate when no source device is selected.
// The built-in defaults carry no address, so it is what a first run without
// a config file reports.
var ErrNoTarget = errors.New("target.address must be set unless target.match_service is true")

// Config holds all application configuration.
type Config struct {
	Backend    string           `yaml:"backend"` // "tinygo" or "hci"
	HCI        HCIConfig        `yaml:"hci"`
	Target     TargetConfig     `yaml:"target"`
	Peripheral PeripheralConfig `yaml:"peripheral"`
	Relay      RelayConfig      `yaml:"relay"`
	LogLevel   string           `yaml:"log_level"`
}

// HCIConfig holds raw HCI backend settings. Ignored by the tinygo backend.
type HCIConfig struct {
	DeviceID     int           `yaml:"device_id"`
	ScanInterval time.Duration `yaml:"scan_interval"`
	ScanWindow   time.Duration `yaml:"scan_window"`
	ActiveScan   bool          `yaml:"active_scan"`
}

// TargetConfig selects the heart-rate source device.
type TargetConfig struct {
	Address      string `yaml:"address"` // MAC, or CoreBluetooth UUID on macOS
	ServiceUUID  string `yaml:"service_uuid"`
	MatchService bool   `yaml:"match_service"`
}

// PeripheralConfig holds settings for the re-broadcast side.
type PeripheralConfig struct {
	Name string `yaml:"name"`
}

// RelayConfig holds orchestrator timing.
type RelayConfig struct {
	ScanDuration      time.Duration `yaml:"scan_duration"`
	ConnectTimeout    time.Duration `yaml:"connect_timeout"`
	TickInterval      time.Duration `yaml:"tick_interval"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	QueueSize         int           `yaml:"queue_size"`
	EnableRetryMax    time.Duration `yaml:"enable_retry_max"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "hr-relay")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Backend: "tinygo",
		HCI: HCIConfig{
			ScanInterval: 1349 * time.Millisecond,
			ScanWindow:   449 * time.Millisecond,
			ActiveScan:   true,
		},
		Target: TargetConfig{
			ServiceUUID: "180D",
		},
		Peripheral: PeripheralConfig{
			Name: "Pixel-HR-Repeater",
		},
		Relay: RelayConfig{
			ScanDuration:      5 * time.Second,
			ConnectTimeout:    10 * time.Second,
			TickInterval:      10 * time.Millisecond,
			HeartbeatInterval: 2 * time.Second,
			QueueSize:         256,
			EnableRetryMax:    30 * time.Second,
		},
		LogLevel: "info",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(expandTilde(path))
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.Target.Address = strings.TrimSpace(cfg.Target.Address)

	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	switch c.Backend {
	case "tinygo", "hci":
	default:
		return fmt.Errorf("backend must be \"tinygo\" or \"hci\", got %q", c.Backend)
	}

	if c.Backend == "hci" {
		if c.HCI.DeviceID < 0 {
			return fmt.Errorf("hci.device_id must be >= 0")
		}
		if c.HCI.ScanInterval <= 0 || c.HCI.ScanWindow <= 0 {
			return fmt.Errorf("hci.scan_interval and hci.scan_window must be > 0")
		}
		if c.HCI.ScanWindow > c.HCI.ScanInterval {
			return fmt.Errorf("hci.scan_window (%s) must not exceed hci.scan_interval (%s)", c.HCI.ScanWindow, c.HCI.ScanInterval)
		}
	}

	if c.Target.Address == "" && !c.Target.MatchService {
		return ErrNoTarget
	}
	if c.Target.Address != "" {
		if _, err := ble.NormalizeAddress(c.Target.Address); err != nil {
			return fmt.Errorf("target.address: %w", err)
		}
	}
	if _, err := ble.ParseUUID(c.Target.ServiceUUID); err != nil {
		return fmt.Errorf("target.service_uuid: %w", err)
	}

	if c.Peripheral.Name == "" {
		return fmt.Errorf("peripheral.name must not be empty")
	}

	durations := []struct {
		name string
		d    time.Duration
	}{
		{"relay.scan_duration", c.Relay.ScanDuration},
		{"relay.connect_timeout", c.Relay.ConnectTimeout},
		{"relay.tick_interval", c.Relay.TickInterval},
		{"relay.heartbeat_interval", c.Relay.HeartbeatInterval},
		{"relay.enable_retry_max", c.Relay.EnableRetryMax},
	}
	for _, d := range durations {
		if d.d <= 0 {
			return fmt.Errorf("%s must be > 0, got %s", d.name, d.d)
		}
	}
	if c.Relay.QueueSize <= 0 {
		return fmt.Errorf("relay.queue_size must be > 0")
	}

	if _, err := c.SlogLevel(); err != nil {
		return err
	}

	return nil
}

// SlogLevel maps log_level to a slog.Level.
func (c *Config) SlogLevel() (slog.Level, error) {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}
}

const defaultHeader = `# hr-relay configuration
#
# backend: tinygo uses BlueZ over D-Bus (Linux) or CoreBluetooth (macOS).
#          hci drives hciN directly and needs CAP_NET_ADMIN with bluetoothd
#          stopped or the device detached from it.
# target.address is the source device's MAC (a CoreBluetooth UUID on macOS).

`

// WriteDefault writes the default config to DefaultConfigPath. It returns
// ("", nil) without touching anything if a config file already exists.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}
	if err := os.WriteFile(path, append([]byte(defaultHeader), data...), 0644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
