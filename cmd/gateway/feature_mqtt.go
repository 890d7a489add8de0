//go:build !no_mqtt

package main

import (
	"log/slog"

	"zigbeeween/internal/gateway"
	"zigbeeween/internal/mqtt"
)

type mqttStopper interface {
	Stop()
}

type noopMQTT struct{}

func (noopMQTT) Stop() {}

func initMQTT(gw *gateway.Gateway, cfg *Config, logger *slog.Logger) mqttStopper {
	if !cfg.MQTT.Enabled {
		return noopMQTT{}
	}
	bridge, err := mqtt.NewBridge(gw, mqtt.Config{
		Broker:      cfg.MQTT.Broker,
		Username:    cfg.MQTT.Username,
		Password:    cfg.MQTT.Password,
		TopicPrefix: cfg.MQTT.TopicPrefix,
	}, logger)
	if err != nil {
		logger.Error("mqtt bridge init failed, continuing without it", "err", err)
		return noopMQTT{}
	}
	bridge.Start()
	logger.Info("mqtt bridge started", "broker", cfg.MQTT.Broker)
	return bridge
}
