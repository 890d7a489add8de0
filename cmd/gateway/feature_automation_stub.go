//go:build no_automation

package main

import (
	"log/slog"

	"zigbeeween/internal/gateway"
	"zigbeeween/internal/web"
)

type autoStopper interface {
	Stop()
}

type noopAuto struct{}

func (noopAuto) Stop() {}

func initAutomation(_ *gateway.Gateway, _ *Config, logger *slog.Logger) (autoStopper, []web.ServerOption) {
	logger.Info("automation excluded from this build")
	return noopAuto{}, nil
}
