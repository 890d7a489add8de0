package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"zigbeeween/internal/actuator"
	"zigbeeween/internal/hw"
	"zigbeeween/internal/mesh"
)

var version = "dev"

type Config struct {
	Variant string `yaml:"variant"`
	Serial  struct {
		Port string `yaml:"port"`
		Baud int    `yaml:"baud"`
	} `yaml:"serial"`
	Network struct {
		Channel uint8 `yaml:"channel"`
	} `yaml:"network"`
	GPIO struct {
		Relay int `yaml:"relay"`
		LED   int `yaml:"led"`
	} `yaml:"gpio"`
	Hold     string `yaml:"hold"`
	Cooldown string `yaml:"cooldown"`
	Schedule struct {
		SleepStart *int `yaml:"sleep_start"`
		SleepEnd   *int `yaml:"sleep_end"`
	} `yaml:"schedule"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

func (c *Config) validate() error {
	switch actuator.Variant(c.Variant) {
	case actuator.VariantTombstone, actuator.VariantScarecrow:
	default:
		return fmt.Errorf("variant must be tombstone or scarecrow, got %q", c.Variant)
	}
	if c.Serial.Port == "" {
		return fmt.Errorf("serial.port is required")
	}
	if c.GPIO.Relay <= 0 {
		return fmt.Errorf("gpio.relay is required")
	}
	if c.Network.Channel != 0 && (c.Network.Channel < 11 || c.Network.Channel > 26) {
		return fmt.Errorf("network.channel must be 11-26, got %d", c.Network.Channel)
	}
	return nil
}

func main() {
	bootLogger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfgPath := "actuator.yaml"
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
	logger.Info("actuator starting", "version", version, "variant", cfg.Variant)

	radio, err := mesh.OpenSerialRadio(cfg.Serial.Port, cfg.Serial.Baud, logger)
	if err != nil {
		logger.Error("open mesh radio", "port", cfg.Serial.Port, "err", err)
		os.Exit(1)
	}
	defer radio.Close()

	relay := hw.NewGPIOPin(cfg.GPIO.Relay)
	var led hw.DigitalOutput
	if cfg.GPIO.LED > 0 {
		led = hw.NewGPIOPin(cfg.GPIO.LED)
	}

	devCfg := actuator.Config{
		Variant:  actuator.Variant(cfg.Variant),
		Channel:  cfg.Network.Channel,
		Hold:     parseDuration(cfg.Hold, logger, "hold"),
		Cooldown: parseDuration(cfg.Cooldown, logger, "cooldown"),
	}
	if cfg.Schedule.SleepStart != nil && cfg.Schedule.SleepEnd != nil {
		devCfg.Schedule = actuator.Schedule{
			SleepStart: *cfg.Schedule.SleepStart,
			SleepEnd:   *cfg.Schedule.SleepEnd,
		}
	}

	// Only the tombstone carries an RTC; the scarecrow takes its clock
	// from the mesh.
	var rtc hw.RTC
	if devCfg.Variant == actuator.VariantTombstone {
		rtc = &hw.SystemRTC{}
	}

	dev := actuator.New(devCfg, radio, relay, led, rtc, actuator.ProcessSuspender{}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("shutting down", "signal", sig)
		cancel()
	}()

	if err := dev.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("actuator stopped", "err", err)
		os.Exit(1)
	}

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
	if cfg.Serial.Baud == 0 {
		cfg.Serial.Baud = 115200
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	return &cfg, nil
}

func parseDuration(s string, logger *slog.Logger, field string) time.Duration {
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		logger.Warn("invalid duration, using variant default", "field", field, "value", s)
		return 0
	}
	return d
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
