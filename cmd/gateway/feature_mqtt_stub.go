//go:build no_mqtt

package main

import (
	"log/slog"

	"zigbeeween/internal/gateway"
)

type mqttStopper interface {
	Stop()
}

type noopMQTT struct{}

func (noopMQTT) Stop() {}

func initMQTT(_ *gateway.Gateway, cfg *Config, logger *slog.Logger) mqttStopper {
	if cfg.MQTT.Enabled {
		logger.Warn("mqtt requested but this build excludes it")
	}
	return noopMQTT{}
}
