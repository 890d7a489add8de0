package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.bug.st/serial"
	"gopkg.in/yaml.v3"

	"zigbeeween/internal/bridge"
	"zigbeeween/internal/mesh"
	"zigbeeween/internal/store"
)

var version = "dev"

type Config struct {
	Mesh struct {
		Port string `yaml:"port"`
		Baud int    `yaml:"baud"`
	} `yaml:"mesh"`
	Uplink struct {
		Port string `yaml:"port"`
		Baud int    `yaml:"baud"`
	} `yaml:"uplink"`
	Network struct {
		Channel uint8  `yaml:"channel"`
		PanID   uint16 `yaml:"pan_id"`
	} `yaml:"network"`
	Store struct {
		Path string `yaml:"path"`
	} `yaml:"store"`
	// Devices maps IEEE addresses to prop kinds (tombstone, scarecrow).
	Devices map[string]string `yaml:"devices"`
	Names   map[string]string `yaml:"names"`
	Log     struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

func (c *Config) validate() error {
	if c.Mesh.Port == "" {
		return fmt.Errorf("mesh.port is required")
	}
	if c.Uplink.Port == "" {
		return fmt.Errorf("uplink.port is required")
	}
	if c.Network.Channel < 11 || c.Network.Channel > 26 {
		return fmt.Errorf("network.channel must be 11-26, got %d", c.Network.Channel)
	}
	if c.Network.PanID == 0 || c.Network.PanID == 0xFFFF {
		return fmt.Errorf("network.pan_id must not be 0 or 0xFFFF")
	}
	for ieee, kind := range c.Devices {
		if _, err := deviceCode(kind); err != nil {
			return fmt.Errorf("devices[%s]: %w", ieee, err)
		}
	}
	return nil
}

func deviceCode(kind string) (uint8, error) {
	switch kind {
	case "tombstone":
		return 1, nil
	case "scarecrow":
		return 2, nil
	default:
		return 0, fmt.Errorf("unknown device kind %q", kind)
	}
}

func main() {
	bootLogger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfgPath := "coordinator.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		bootLogger.Error("load config", "err", err)
		os.Exit(1)
	}

	if err := cfg.validate(); err != nil {
		bootLogger.Error("invalid config", "err", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)
	logger.Info("coordinator starting", "version", version)

	st, err := store.NewBoltStore(cfg.Store.Path)
	if err != nil {
		logger.Error("open store", "path", cfg.Store.Path, "err", err)
		os.Exit(1)
	}
	defer st.Close()

	radio, err := mesh.OpenSerialRadio(cfg.Mesh.Port, cfg.Mesh.Baud, logger)
	if err != nil {
		logger.Error("open mesh radio", "port", cfg.Mesh.Port, "err", err)
		os.Exit(1)
	}
	defer radio.Close()

	uplink, err := serial.Open(cfg.Uplink.Port, &serial.Mode{BaudRate: cfg.Uplink.Baud})
	if err != nil {
		logger.Error("open uplink", "port", cfg.Uplink.Port, "err", err)
		os.Exit(1)
	}
	defer uplink.Close()

	devices := make(map[string]uint8, len(cfg.Devices))
	for ieee, kind := range cfg.Devices {
		code, _ := deviceCode(kind)
		devices[ieee] = code
	}

	br := bridge.New(bridge.Config{
		Channel: cfg.Network.Channel,
		PanID:   cfg.Network.PanID,
		Devices: devices,
		Names:   cfg.Names,
	}, radio, uplink, st, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := br.Start(ctx); err != nil {
		logger.Error("start bridge", "err", err)
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	signal.Stop(sigCh)
	logger.Info("shutting down", "signal", sig)

	cancel()
	br.Stop()

	logger.Info("goodbye")
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Mesh.Baud == 0 {
		cfg.Mesh.Baud = 115200
	}
	if cfg.Uplink.Baud == 0 {
		cfg.Uplink.Baud = 115200
	}
	if cfg.Network.Channel == 0 {
		cfg.Network.Channel = 15
	}
	if cfg.Network.PanID == 0 {
		cfg.Network.PanID = 0x1031
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "coordinator.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	return &cfg, nil
}

func newLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
