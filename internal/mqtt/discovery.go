//go:build !no_mqtt

package mqtt

import (
	"encoding/json"
	"fmt"
)

// discoveryMsg is a Home Assistant MQTT discovery payload.
type discoveryMsg struct {
	Topic   string // e.g. "homeassistant/binary_sensor/zigbeeween_gateway/motion/config"
	Payload []byte // JSON, empty means delete
}

// haDevice is the "device" block in HA discovery.
type haDevice struct {
	Identifiers  []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Name         string   `json:"name"`
}

// haDiscovery is a generic HA discovery payload.
type haDiscovery struct {
	Name              string   `json:"name"`
	UniqueID          string   `json:"unique_id"`
	StateTopic        string   `json:"state_topic,omitempty"`
	CommandTopic      string   `json:"command_topic,omitempty"`
	AvailabilityTopic string   `json:"availability_topic"`
	ValueTemplate     string   `json:"value_template,omitempty"`
	DeviceClass       string   `json:"device_class,omitempty"`
	PayloadOn         string   `json:"payload_on,omitempty"`
	PayloadOff        string   `json:"payload_off,omitempty"`
	PayloadPress      string   `json:"payload_press,omitempty"`
	Device            haDevice `json:"device"`
}

const nodeID = "zigbeeween_gateway"

// buildDiscovery generates the HA discovery messages for the gateway.
// The device set is fixed: a PIR motion sensor, two props with
// connectivity and cooldown state, and trigger buttons.
func buildDiscovery(prefix string) []discoveryMsg {
	avail := prefix + "/bridge/state"
	statusTopic := prefix + "/status"

	haDev := haDevice{
		Identifiers:  []string{nodeID},
		Manufacturer: "zigbeeween",
		Name:         "Halloween Gateway",
	}

	var msgs []discoveryMsg

	msgs = append(msgs, buildBinarySensor(avail, statusTopic, haDev,
		"motion", "Motion", "motion",
		"{{ 'ON' if value_json.pir_motion else 'OFF' }}"))

	props := []struct {
		key    string // JSON key in the status payload
		target string // trigger target name
		label  string
	}{
		{"rip_tombstone", "tombstone", "Tombstone"},
		{"halloween_trigger", "scarecrow", "Scarecrow"},
	}

	for _, p := range props {
		msgs = append(msgs, buildBinarySensor(avail, statusTopic, haDev,
			p.target+"_connected", p.label+" Connected", "connectivity",
			fmt.Sprintf("{{ 'ON' if value_json.%s.connected else 'OFF' }}", p.key)))
		msgs = append(msgs, buildBinarySensor(avail, statusTopic, haDev,
			p.target+"_cooldown", p.label+" Cooldown", "",
			fmt.Sprintf("{{ 'ON' if value_json.%s.in_cooldown else 'OFF' }}", p.key)))
	}

	for _, target := range []struct{ name, label string }{
		{"tombstone", "Trigger Tombstone"},
		{"scarecrow", "Trigger Scarecrow"},
		{"both", "Trigger Both"},
	} {
		msgs = append(msgs, buildButton(avail, prefix, haDev, target.name, target.label))
	}

	return msgs
}

func buildBinarySensor(avail, stateTopic string, haDev haDevice,
	objectID, name, deviceClass, valueTmpl string) discoveryMsg {

	topic := fmt.Sprintf("homeassistant/binary_sensor/%s/%s/config", nodeID, objectID)
	payload := haDiscovery{
		Name:              name,
		UniqueID:          nodeID + "_" + objectID,
		StateTopic:        stateTopic,
		AvailabilityTopic: avail,
		ValueTemplate:     valueTmpl,
		DeviceClass:       deviceClass,
		PayloadOn:         "ON",
		PayloadOff:        "OFF",
		Device:            haDev,
	}
	return discoveryMsg{Topic: topic, Payload: mustJSON(payload)}
}

func buildButton(avail, prefix string, haDev haDevice, target, name string) discoveryMsg {
	topic := fmt.Sprintf("homeassistant/button/%s/trigger_%s/config", nodeID, target)
	payload := haDiscovery{
		Name:              name,
		UniqueID:          nodeID + "_trigger_" + target,
		CommandTopic:      prefix + "/trigger/set",
		AvailabilityTopic: avail,
		PayloadPress:      target,
		Device:            haDev,
	}
	return discoveryMsg{Topic: topic, Payload: mustJSON(payload)}
}

func mustJSON(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
