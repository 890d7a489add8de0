//go:build !no_mqtt

// Package mqtt mirrors gateway state to an MQTT broker with Home
// Assistant autodiscovery, and accepts prop triggers over MQTT.
package mqtt

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"zigbeeween/internal/gateway"
)

// Config holds MQTT bridge configuration.
type Config struct {
	Broker      string
	Username    string
	Password    string
	TopicPrefix string
}

// Bridge connects the gateway to an MQTT broker.
type Bridge struct {
	client pahomqtt.Client
	gw     *gateway.Gateway
	prefix string
	logger *slog.Logger
	unsub  func()
}

// NewBridge creates and connects an MQTT bridge.
func NewBridge(gw *gateway.Gateway, cfg Config, logger *slog.Logger) (*Bridge, error) {
	b := &Bridge{
		gw:     gw,
		prefix: cfg.TopicPrefix,
		logger: logger.With("component", "mqtt"),
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID("zigbeeween").
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetWill(cfg.TopicPrefix+"/bridge/state", "offline", 1, true).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			b.logger.Info("MQTT connected")
			b.publishBridgeState("online")
			b.publishDiscovery()
			b.publishStatus()
			b.subscribeTrigger()
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			b.logger.Warn("MQTT connection lost", "err", err)
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}

	b.client = client
	return b, nil
}

// Start subscribes to gateway events and begins MQTT publishing.
func (b *Bridge) Start() {
	b.unsub = b.gw.Bus().OnAll(b.handleEvent)
	b.logger.Info("MQTT bridge started", "prefix", b.prefix)
}

// Stop publishes offline state, unsubscribes, and disconnects.
func (b *Bridge) Stop() {
	if b.unsub != nil {
		b.unsub()
	}
	b.publishBridgeState("offline")
	b.client.Disconnect(1000)
	b.logger.Info("MQTT bridge stopped")
}

func (b *Bridge) handleEvent(event gateway.Event) {
	// Every event goes to the event topic; state-bearing events also
	// refresh the retained status document the HA entities read from.
	b.publish(b.prefix+"/event", mustJSON(event), false)

	switch event.Type {
	case gateway.EventStatusUpdate,
		gateway.EventMotionDetected,
		gateway.EventMotionStopped,
		gateway.EventDeviceJoined,
		gateway.EventDeviceLeft:
		b.publishStatus()
	}
}

func (b *Bridge) publishStatus() {
	b.publish(b.prefix+"/status", mustJSON(b.gw.Snapshot()), true)
}

func (b *Bridge) publishBridgeState(state string) {
	b.publish(b.prefix+"/bridge/state", []byte(state), true)
}

func (b *Bridge) publishDiscovery() {
	for _, msg := range buildDiscovery(b.prefix) {
		b.publish(msg.Topic, msg.Payload, true)
	}
	b.logger.Info("published HA discovery")
}

func (b *Bridge) subscribeTrigger() {
	topic := b.prefix + "/trigger/set"
	b.client.Subscribe(topic, 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		b.handleTrigger(msg.Payload())
	})
}

func (b *Bridge) handleTrigger(payload []byte) {
	name := strings.TrimSpace(string(payload))
	target, err := gateway.ParseTarget(name)
	if err != nil {
		b.logger.Warn("invalid trigger payload", "payload", name)
		return
	}
	if err := b.gw.Trigger(target); err != nil {
		b.logger.Error("mqtt trigger", "target", name, "err", err)
	}
}

func (b *Bridge) publish(topic string, payload []byte, retained bool) {
	token := b.client.Publish(topic, 1, retained, payload)
	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			b.logger.Warn("MQTT publish timeout", "topic", topic)
		} else if err := token.Error(); err != nil {
			b.logger.Warn("MQTT publish error", "topic", topic, "err", err)
		}
	}()
}
