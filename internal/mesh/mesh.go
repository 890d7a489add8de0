// Package mesh talks to the 802.15.4 radio module attached over a
// serial port. The same module firmware serves both roles: the
// coordinator bridge drives it through Radio, the actuators through
// DeviceRadio.
package mesh

import "context"

// Broadcast is the short address that reaches every joined device.
const Broadcast uint16 = 0xFFFF

// Well-known clusters and attributes.
const (
	ClusterOnOff  uint16 = 0x0006
	AttrOnOff     uint16 = 0x0000

	// Manufacturer cluster for prop housekeeping. The coordinator
	// writes the timestamp; devices report the two flags back.
	ClusterHaunt   uint16 = 0xFC00
	AttrTimestamp  uint16 = 0x0000
	AttrTimeSynced uint16 = 0x0001
	AttrInCooldown uint16 = 0x0002
)

// DeviceJoinedEvent signals a device joining or rejoining the network.
type DeviceJoinedEvent struct {
	ShortAddr uint16
	IEEEAddr  [8]byte
}

// DeviceLeftEvent signals a device leaving the network.
type DeviceLeftEvent struct {
	ShortAddr uint16
	IEEEAddr  [8]byte
}

// AttributeReportEvent is an unsolicited attribute report from a device.
type AttributeReportEvent struct {
	SrcAddr   uint16
	ClusterID uint16
	AttrID    uint16
	Value     []byte
}

// AttributeWriteEvent is an attribute write delivered to an end device.
type AttributeWriteEvent struct {
	ClusterID uint16
	AttrID    uint16
	Value     []byte
}

// NetworkState reports the end device's view of its network membership.
type NetworkState uint8

const (
	StateJoined NetworkState = iota
	StateSteeringFailed
	StateLeft
)

func (s NetworkState) String() string {
	switch s {
	case StateJoined:
		return "joined"
	case StateSteeringFailed:
		return "steering_failed"
	case StateLeft:
		return "left"
	default:
		return "unknown"
	}
}

// Radio is the coordinator-side radio contract. Indication callbacks
// run on the driver's read loop and must not block.
type Radio interface {
	Reset(ctx context.Context) error
	FormNetwork(ctx context.Context, channel uint8, panID uint16) error
	PermitJoin(ctx context.Context, duration uint8) error
	// WriteAttribute writes a raw attribute value to dst, which may be
	// Broadcast.
	WriteAttribute(ctx context.Context, dst uint16, clusterID, attrID uint16, value []byte) error

	OnDeviceJoined(func(DeviceJoinedEvent))
	OnDeviceLeft(func(DeviceLeftEvent))
	OnAttributeReport(func(AttributeReportEvent))

	Close() error
}

// DeviceRadio is the end-device-side radio contract.
type DeviceRadio interface {
	Reset(ctx context.Context) error
	JoinNetwork(ctx context.Context, channel uint8) error
	ReportAttribute(ctx context.Context, clusterID, attrID uint16, value []byte) error

	OnAttributeWrite(func(AttributeWriteEvent))
	OnNetworkState(func(NetworkState))

	Close() error
}
