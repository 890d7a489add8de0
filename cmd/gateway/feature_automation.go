//go:build !no_automation

package main

import (
	"log/slog"
	"time"

	"zigbeeween/internal/automation"
	"zigbeeween/internal/gateway"
	"zigbeeween/internal/web"
)

type autoStopper interface {
	Stop()
}

type noopAuto struct{}

func (noopAuto) Stop() {}

func initAutomation(gw *gateway.Gateway, cfg *Config, logger *slog.Logger) (autoStopper, []web.ServerOption) {
	mgr, err := automation.NewManager(cfg.ScriptsDir)
	if err != nil {
		logger.Error("automation manager init failed, continuing without scripts", "err", err)
		return noopAuto{}, nil
	}

	execTimeout := 10 * time.Second
	if cfg.Exec.Timeout != "" {
		if d, err := time.ParseDuration(cfg.Exec.Timeout); err == nil {
			execTimeout = d
		} else {
			logger.Warn("invalid exec.timeout, using default", "value", cfg.Exec.Timeout)
		}
	}

	engine := automation.NewEngine(gw, mgr, logger,
		automation.SystemConfig{
			ExecAllowlist: cfg.Exec.Allowlist,
			ExecTimeout:   execTimeout,
		},
		automation.TelegramConfig{
			BotToken: cfg.Telegram.BotToken,
			ChatIDs:  cfg.Telegram.ChatIDs,
		})
	engine.Start()
	logger.Info("automation engine started", "scripts_dir", cfg.ScriptsDir)

	return engine, []web.ServerOption{web.WithAutomation(mgr, engine)}
}
