package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mil-ad/blemanager/internal/gateway"
	"github.com/mil-ad/blemanager/internal/logger"
	"github.com/mil-ad/blemanager/internal/picker"
	"github.com/mil-ad/blemanager/internal/platform/sim"
	"github.com/mil-ad/blemanager/internal/tracer"
	"github.com/mil-ad/blemanager/internal/watchdog"
)

const (
	backendBlueZ  = "bluez"
	backendTinyGo = "tinygo"
	backendSim    = "sim"
)

// DeviceConfig is a named shortcut for a peripheral address.
type DeviceConfig struct {
	Name    string `yaml:"name"`
	Address string `yaml:"address"`
}

// ScanConfig tunes the automatic picker used by the daemon.
type ScanConfig struct {
	Window     time.Duration `yaml:"window"`
	NamePrefix string        `yaml:"name_prefix"`
}

// Config is the YAML configuration file.
type Config struct {
	Backend   string          `yaml:"backend"`
	Adapter   string          `yaml:"adapter"`
	OpTimeout time.Duration   `yaml:"op_timeout"`
	Scan      ScanConfig      `yaml:"scan"`
	Devices   []DeviceConfig  `yaml:"devices"`
	Logger    logger.Config   `yaml:"logger"`
	Tracer    tracer.Config   `yaml:"tracer"`
	Gateway   gateway.Config  `yaml:"gateway"`
	Watchdog  watchdog.Config `yaml:"watchdog"`
	Sim       sim.Config      `yaml:"sim"`
}

func configPath() string {
	if p := os.Getenv("BLEMANAGER_CONFIG"); p != "" {
		return p
	}
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		dir = filepath.Join(os.Getenv("HOME"), ".config")
	}
	return filepath.Join(dir, "blemanager", "config.yaml")
}

func defaultConfig() Config {
	return Config{
		Backend:   backendBlueZ,
		Adapter:   "hci0",
		OpTimeout: 30 * time.Second,
		Scan:      ScanConfig{Window: picker.DefaultWindow},
		Logger:    logger.Config{Level: "info", Format: "text", Output: "stderr"},
		Tracer:    tracer.Config{Exporter: "stdout"},
		Gateway: gateway.Config{
			Enabled:        true,
			Addr:           ":8099",
			RequestsPerMin: 120,
			Burst:          20,
			MDNSName:       "blemanager",
		},
		Watchdog: watchdog.Config{Enabled: true, Schedule: watchdog.DefaultSchedule},
		Sim: sim.Config{
			ConnectDelay: 500 * time.Millisecond,
			Peripherals: []sim.Peripheral{
				{ID: "AA:BB:CC:00:00:01", Name: "Thermometer", RSSI: -48},
				{ID: "AA:BB:CC:00:00:02", RSSI: -70},
				{ID: "AA:BB:CC:00:00:03", Name: "Flaky Tag", RSSI: -80, FailConnect: true},
			},
		},
	}
}

// loadConfig reads the config file over the defaults. A missing file is
// not an error.
func loadConfig() (Config, error) {
	cfg := defaultConfig()
	data, err := os.ReadFile(configPath())
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c Config) validate() error {
	var errs []error
	switch c.Backend {
	case backendBlueZ, backendTinyGo, backendSim:
	default:
		errs = append(errs, fmt.Errorf("backend %q: want bluez, tinygo or sim", c.Backend))
	}
	if c.OpTimeout < 0 {
		errs = append(errs, fmt.Errorf("op_timeout must not be negative"))
	}
	if c.Scan.Window < 0 {
		errs = append(errs, fmt.Errorf("scan.window must not be negative"))
	}
	if c.Gateway.Enabled {
		if c.Gateway.Addr == "" {
			errs = append(errs, fmt.Errorf("gateway.addr is required when the gateway is enabled"))
		}
		if c.Gateway.RequestsPerMin < 0 || c.Gateway.Burst < 0 {
			errs = append(errs, fmt.Errorf("gateway rate limits must not be negative"))
		}
	}
	seen := make(map[string]bool)
	for i, d := range c.Devices {
		if d.Name == "" || d.Address == "" {
			errs = append(errs, fmt.Errorf("devices[%d]: name and address are required", i))
			continue
		}
		if seen[d.Name] {
			errs = append(errs, fmt.Errorf("devices[%d]: duplicate name %q", i, d.Name))
		}
		seen[d.Name] = true
	}
	if c.Backend == backendSim {
		ids := make(map[string]bool)
		for i, p := range c.Sim.Peripherals {
			if p.ID == "" {
				errs = append(errs, fmt.Errorf("sim.peripherals[%d]: id is required", i))
			}
			if ids[p.ID] {
				errs = append(errs, fmt.Errorf("sim.peripherals[%d]: duplicate id %q", i, p.ID))
			}
			ids[p.ID] = true
		}
	}
	return errors.Join(errs...)
}

// resolveDevice picks a device reference. A configured name maps to its
// address, anything else is passed through. With no argument the first
// configured device is used.
func resolveDevice(cfg Config, ref string) (string, error) {
	if ref == "" {
		if len(cfg.Devices) == 0 {
			return "", fmt.Errorf("no device specified and config has no devices")
		}
		return cfg.Devices[0].Address, nil
	}
	for _, d := range cfg.Devices {
		if strings.EqualFold(d.Name, ref) {
			return d.Address, nil
		}
	}
	return ref, nil
}
