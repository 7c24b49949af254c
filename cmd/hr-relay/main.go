package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/chaz8081/hr-relay/internal/ble"
	"github.com/chaz8081/hr-relay/internal/config"
	"github.com/chaz8081/hr-relay/internal/relay"
)

// backend is what the relay needs from a BLE stack: both roles plus
// adapter bring-up.
type backend interface {
	ble.Adapter
	ble.Server
}

func main() {
	// CLI flags
	configPath := flag.String("config", "", "path to config file (default: ~/.config/hr-relay/config.yaml)")
	writeConfig := flag.Bool("write-config", false, "write the default config file and exit")
	flag.Parse()

	if *writeConfig {
		path, err := config.WriteDefault()
		if err != nil {
			log.Fatalf("write config: %v", err)
		}
		if path == "" {
			fmt.Printf("Config already exists at %s, leaving it alone\n", config.DefaultConfigPath())
			return
		}
		fmt.Printf("Default config written to %s\n", path)
		return
	}

	// Load configuration
	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		if errors.Is(err, config.ErrNoTarget) {
			log.Fatalf("config validation: %v\n\nRun 'hr-relay -write-config' to create %s, then set target.address to the source device.", err, config.DefaultConfigPath())
		}
		log.Fatalf("config validation: %v", err)
	}

	level, _ := cfg.SlogLevel()
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	printBanner(cfg)

	serviceUUID, _ := ble.ParseUUID(cfg.Target.ServiceUUID)
	selector, err := relay.NewSelector(cfg.Target.Address, serviceUUID, cfg.Target.MatchService)
	if err != nil {
		log.Fatalf("target: %v", err)
	}

	stack := newBackend(cfg)
	if c, ok := stack.(io.Closer); ok {
		defer c.Close()
	}

	// Signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := ble.EnableWithRetry(ctx, stack, cfg.Relay.EnableRetryMax); err != nil {
		slog.Error("[BLE] adapter unavailable", "backend", cfg.Backend, "error", err)
		return
	}
	slog.Info("[BLE] adapter ready", "backend", cfg.Backend)

	r := relay.New(stack, stack, selector, relay.Options{
		ScanDuration:      cfg.Relay.ScanDuration,
		ConnectTimeout:    cfg.Relay.ConnectTimeout,
		TickInterval:      cfg.Relay.TickInterval,
		HeartbeatInterval: cfg.Relay.HeartbeatInterval,
		QueueSize:         cfg.Relay.QueueSize,
		PeripheralName:    cfg.Peripheral.Name,
	})

	if err := r.Run(ctx); err != nil {
		slog.Error("[RELAY] stopped with error", "error", err)
		return
	}

	s := r.Stats()
	slog.Info("[RELAY] goodbye",
		"relayed", s.FramesRelayed,
		"dropped", s.FramesDropped,
		"short", s.ShortFrames,
		"connects", s.ConnectAttempts,
		"disconnects", s.Disconnects,
	)
}

func newBackend(cfg *config.Config) backend {
	if cfg.Backend == "hci" {
		return ble.NewHCIAdapter(ble.HCIOptions{
			DeviceID:     cfg.HCI.DeviceID,
			DialTimeout:  cfg.Relay.ConnectTimeout,
			ScanInterval: cfg.HCI.ScanInterval,
			ScanWindow:   cfg.HCI.ScanWindow,
			ActiveScan:   cfg.HCI.ActiveScan,
		})
	}
	return ble.NewTinyGoAdapter()
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	// Try default config path
	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		log.Printf("Config loaded from %s", defaultPath)
		return cfg, nil
	}

	// No config file, use defaults. They select no source device, so
	// Validate will ask for target.address.
	log.Printf("No config file found at %s, using defaults", defaultPath)
	return config.Default(), nil
}

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config) {
	target := cfg.Target.Address
	if target == "" {
		target = "any device advertising " + cfg.Target.ServiceUUID
	}
	fmt.Println("=== hr-relay ===")
	fmt.Printf("  Backend:    %s\n", cfg.Backend)
	fmt.Printf("  Source:     %s\n", target)
	fmt.Printf("  Advertise:  %s\n", cfg.Peripheral.Name)
	fmt.Printf("  Scan:       %s every pass, connect timeout %s\n", cfg.Relay.ScanDuration, cfg.Relay.ConnectTimeout)
	fmt.Printf("  Log:        %s\n", cfg.LogLevel)
	fmt.Println("================")
}
