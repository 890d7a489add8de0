package store

import "time"

// Device is a known actuator on the mesh.
type Device struct {
	IEEEAddress  string    `json:"ieee_address"`
	ShortAddress uint16    `json:"short_address"`
	Code         uint8     `json:"code"` // 1 = tombstone, 2 = scarecrow
	FriendlyName string    `json:"friendly_name,omitempty"`
	JoinedAt     time.Time `json:"joined_at"`
	LastSeen     time.Time `json:"last_seen"`
}

// NetworkState holds persisted network configuration.
type NetworkState struct {
	Channel uint8  `json:"channel"`
	PanID   uint16 `json:"pan_id"`
	Formed  bool   `json:"formed"`
}
