package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Backend != "tinygo" {
		t.Errorf("Backend = %q, want %q", cfg.Backend, "tinygo")
	}
	if cfg.Target.ServiceUUID != "180D" {
		t.Errorf("Target.ServiceUUID = %q, want %q", cfg.Target.ServiceUUID, "180D")
	}
	if cfg.Target.MatchService {
		t.Error("Target.MatchService should default to false")
	}
	if cfg.Peripheral.Name != "Pixel-HR-Repeater" {
		t.Errorf("Peripheral.Name = %q, want %q", cfg.Peripheral.Name, "Pixel-HR-Repeater")
	}
	if cfg.Relay.ScanDuration != 5*time.Second {
		t.Errorf("Relay.ScanDuration = %s, want 5s", cfg.Relay.ScanDuration)
	}
	if cfg.Relay.TickInterval != 10*time.Millisecond {
		t.Errorf("Relay.TickInterval = %s, want 10ms", cfg.Relay.TickInterval)
	}
	if cfg.Relay.QueueSize != 256 {
		t.Errorf("Relay.QueueSize = %d, want 256", cfg.Relay.QueueSize)
	}
	if cfg.HCI.ScanInterval != 1349*time.Millisecond || cfg.HCI.ScanWindow != 449*time.Millisecond {
		t.Errorf("HCI scan timing = %s/%s, want 1.349s/449ms", cfg.HCI.ScanInterval, cfg.HCI.ScanWindow)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
}

func TestDefaultRequiresTarget(t *testing.T) {
	err := Default().Validate()
	if !errors.Is(err, ErrNoTarget) {
		t.Fatalf("Default().Validate() error = %v, want ErrNoTarget", err)
	}
	if !strings.Contains(err.Error(), "target.address") {
		t.Errorf("error %q should name target.address", err)
	}

	cfg := Default()
	cfg.Target.Address = "AA:BB:CC:DD:EE:FF"
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults plus an address should validate, got %v", err)
	}
}

func TestLoad(t *testing.T) {
	yamlContent := `
backend: hci
hci:
  device_id: 1
  scan_interval: 100ms
  scan_window: 50ms
  active_scan: false
target:
  address: "20:f0:94:4c:01:d5"
peripheral:
  name: Bike-HR
relay:
  scan_duration: 3s
  connect_timeout: 8s
log_level: debug
`
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Backend != "hci" {
		t.Errorf("Backend = %q, want %q", cfg.Backend, "hci")
	}
	if cfg.HCI.DeviceID != 1 {
		t.Errorf("HCI.DeviceID = %d, want 1", cfg.HCI.DeviceID)
	}
	if cfg.HCI.ScanInterval != 100*time.Millisecond || cfg.HCI.ScanWindow != 50*time.Millisecond {
		t.Errorf("HCI scan timing = %s/%s, want 100ms/50ms", cfg.HCI.ScanInterval, cfg.HCI.ScanWindow)
	}
	if cfg.HCI.ActiveScan {
		t.Error("HCI.ActiveScan = true, want false")
	}
	if cfg.Target.Address != "20:f0:94:4c:01:d5" {
		t.Errorf("Target.Address = %q", cfg.Target.Address)
	}
	if cfg.Peripheral.Name != "Bike-HR" {
		t.Errorf("Peripheral.Name = %q, want %q", cfg.Peripheral.Name, "Bike-HR")
	}
	if cfg.Relay.ScanDuration != 3*time.Second {
		t.Errorf("Relay.ScanDuration = %s, want 3s", cfg.Relay.ScanDuration)
	}
	if cfg.Relay.ConnectTimeout != 8*time.Second {
		t.Errorf("Relay.ConnectTimeout = %s, want 8s", cfg.Relay.ConnectTimeout)
	}
	// unset fields keep their defaults
	if cfg.Relay.QueueSize != 256 {
		t.Errorf("Relay.QueueSize = %d, want 256", cfg.Relay.QueueSize)
	}
	if cfg.Target.ServiceUUID != "180D" {
		t.Errorf("Target.ServiceUUID = %q, want %q", cfg.Target.ServiceUUID, "180D")
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "debug")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoadExpandsTilde(t *testing.T) {
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	if err := os.WriteFile(filepath.Join(tmpHome, "relay.yaml"), []byte("log_level: warn\n"), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load("~/relay.yaml")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "warn")
	}
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("Load() should return error for nonexistent file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("relay: [unclosed\n"), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	if _, err := Load(cfgPath); err == nil {
		t.Error("Load() should return error for malformed YAML")
	}
}

func validConfig() *Config {
	cfg := Default()
	cfg.Target.Address = "AA:BB:CC:DD:EE:FF"
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "default config has no target",
			modify:  func(c *Config) { c.Target.Address = "" },
			wantErr: true,
		},
		{
			name: "service matching without address",
			modify: func(c *Config) {
				c.Target.Address = ""
				c.Target.MatchService = true
			},
			wantErr: false,
		},
		{
			name:    "macOS device uuid",
			modify:  func(c *Config) { c.Target.Address = "5f2a1c3e-8b7d-4e6f-9a0b-1c2d3e4f5a6b" },
			wantErr: false,
		},
		{
			name:    "malformed address",
			modify:  func(c *Config) { c.Target.Address = "AA:BB:CC" },
			wantErr: true,
		},
		{
			name:    "malformed service uuid",
			modify:  func(c *Config) { c.Target.ServiceUUID = "heart" },
			wantErr: true,
		},
		{
			name:    "128-bit service uuid",
			modify:  func(c *Config) { c.Target.ServiceUUID = "0000180d-0000-1000-8000-00805f9b34fb" },
			wantErr: false,
		},
		{
			name:    "unknown backend",
			modify:  func(c *Config) { c.Backend = "bluez" },
			wantErr: true,
		},
		{
			name:    "empty peripheral name",
			modify:  func(c *Config) { c.Peripheral.Name = "" },
			wantErr: true,
		},
		{
			name:    "zero scan duration",
			modify:  func(c *Config) { c.Relay.ScanDuration = 0 },
			wantErr: true,
		},
		{
			name:    "negative connect timeout",
			modify:  func(c *Config) { c.Relay.ConnectTimeout = -time.Second },
			wantErr: true,
		},
		{
			name:    "zero tick interval",
			modify:  func(c *Config) { c.Relay.TickInterval = 0 },
			wantErr: true,
		},
		{
			name:    "zero queue size",
			modify:  func(c *Config) { c.Relay.QueueSize = 0 },
			wantErr: true,
		},
		{
			name: "hci scan window larger than interval",
			modify: func(c *Config) {
				c.Backend = "hci"
				c.HCI.ScanWindow = 2 * c.HCI.ScanInterval
			},
			wantErr: true,
		},
		{
			name: "hci timing ignored for tinygo",
			modify: func(c *Config) {
				c.HCI.ScanWindow = 2 * c.HCI.ScanInterval
			},
			wantErr: false,
		},
		{
			name:    "negative hci device",
			modify:  func(c *Config) { c.Backend = "hci"; c.HCI.DeviceID = -1 },
			wantErr: true,
		},
		{
			name:    "invalid log level",
			modify:  func(c *Config) { c.LogLevel = "invalid" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSlogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	}
	for name, want := range tests {
		cfg := Default()
		cfg.LogLevel = name
		got, err := cfg.SlogLevel()
		if err != nil {
			t.Errorf("SlogLevel(%q) error = %v", name, err)
			continue
		}
		if got != want {
			t.Errorf("SlogLevel(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestWriteDefault_CreatesFile(t *testing.T) {
	// Use a temp dir as fake home to avoid touching real config
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	path, err := WriteDefault()
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}

	expectedPath := filepath.Join(tmpHome, ".config", "hr-relay", "config.yaml")
	if path != expectedPath {
		t.Errorf("WriteDefault() path = %q, want %q", path, expectedPath)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read written config: %v", err)
	}

	if !strings.HasPrefix(string(data), "# hr-relay") {
		t.Error("written config should start with header comment")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("written config is not valid YAML: %v", err)
	}
	if cfg.Relay.ScanDuration != 5*time.Second {
		t.Errorf("written config Relay.ScanDuration = %s, want 5s", cfg.Relay.ScanDuration)
	}
	if cfg.Peripheral.Name != "Pixel-HR-Repeater" {
		t.Errorf("written config Peripheral.Name = %q", cfg.Peripheral.Name)
	}
	if !strings.Contains(string(data), "scan_duration: 5s") {
		t.Error("durations should be written in human-readable form")
	}
}

func TestWriteDefault_NoOpIfExists(t *testing.T) {
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	configDir := filepath.Join(tmpHome, ".config", "hr-relay")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("failed to create config dir: %v", err)
	}
	existingContent := []byte("target:\n  address: AA:BB:CC:DD:EE:FF\n")
	configPath := filepath.Join(configDir, "config.yaml")
	if err := os.WriteFile(configPath, existingContent, 0644); err != nil {
		t.Fatalf("failed to write existing config: %v", err)
	}

	// WriteDefault should return ("", nil) without overwriting
	path, err := WriteDefault()
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}
	if path != "" {
		t.Errorf("WriteDefault() path = %q, want empty string for existing file", path)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("failed to read config: %v", err)
	}
	if string(data) != string(existingContent) {
		t.Error("WriteDefault() should not overwrite existing config file")
	}
}
