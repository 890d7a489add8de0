// Package status tracks the operational state of the two actuators as
// seen by the coordinator and mirrored on the gateway. Both ends share
// the same 16-bit bitmask layout carried in StatusResponse frames.
package status

import "sync"

// DeviceID is the one-byte device identity used on the serial link.
type DeviceID byte

const (
	Tombstone DeviceID = 1
	Scarecrow DeviceID = 2
)

func (id DeviceID) String() string {
	switch id {
	case Tombstone:
		return "tombstone"
	case Scarecrow:
		return "scarecrow"
	default:
		return "unknown"
	}
}

// Valid reports whether id is one of the two known devices.
func (id DeviceID) Valid() bool {
	return id == Tombstone || id == Scarecrow
}

// DeviceStatus is a point-in-time snapshot of one actuator's flags.
type DeviceStatus struct {
	Connected  bool `json:"connected"`
	TimeSynced bool `json:"time_synced"`
	InCooldown bool `json:"in_cooldown"`
}

// Bitmask layout, low byte:
//
//	bit 0  tombstone time_synced
//	bit 1  scarecrow time_synced
//	bit 2  tombstone connected
//	bit 3  scarecrow connected
//	bit 4  tombstone in_cooldown
//	bit 5  scarecrow in_cooldown
//
// The high byte is reserved and always zero.
const (
	bitTombstoneSynced   = 1 << 0
	bitScarecrowSynced   = 1 << 1
	bitTombstoneConn     = 1 << 2
	bitScarecrowConn     = 1 << 3
	bitTombstoneCooldown = 1 << 4
	bitScarecrowCooldown = 1 << 5
)

// Registry holds the status flags for the fixed device set. All access
// goes through the mutex; callers never see interior state.
type Registry struct {
	mu      sync.RWMutex
	devices map[DeviceID]DeviceStatus
}

func NewRegistry() *Registry {
	return &Registry{
		devices: map[DeviceID]DeviceStatus{
			Tombstone: {},
			Scarecrow: {},
		},
	}
}

// SetConnected updates the connected flag. Clearing it also clears
// time_synced and in_cooldown: a device that left the network carries
// no live state.
func (r *Registry) SetConnected(id DeviceID, v bool) {
	if !id.Valid() {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.devices[id]
	s.Connected = v
	if !v {
		s.TimeSynced = false
		s.InCooldown = false
	}
	r.devices[id] = s
}

func (r *Registry) SetTimeSynced(id DeviceID, v bool) {
	if !id.Valid() {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.devices[id]
	s.TimeSynced = v
	r.devices[id] = s
}

func (r *Registry) SetInCooldown(id DeviceID, v bool) {
	if !id.Valid() {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.devices[id]
	s.InCooldown = v
	r.devices[id] = s
}

// Get returns the current snapshot for one device.
func (r *Registry) Get(id DeviceID) DeviceStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.devices[id]
}

// Snapshot returns a copy of all device states.
func (r *Registry) Snapshot() map[DeviceID]DeviceStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[DeviceID]DeviceStatus, len(r.devices))
	for id, s := range r.devices {
		out[id] = s
	}
	return out
}

// Bitmask packs the registry into the wire layout.
func (r *Registry) Bitmask() uint16 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var m uint16
	ts := r.devices[Tombstone]
	sc := r.devices[Scarecrow]
	if ts.TimeSynced {
		m |= bitTombstoneSynced
	}
	if sc.TimeSynced {
		m |= bitScarecrowSynced
	}
	if ts.Connected {
		m |= bitTombstoneConn
	}
	if sc.Connected {
		m |= bitScarecrowConn
	}
	if ts.InCooldown {
		m |= bitTombstoneCooldown
	}
	if sc.InCooldown {
		m |= bitScarecrowCooldown
	}
	return m
}

// ApplyBitmask overwrites the registry from a received bitmask. Unknown
// high bits are ignored.
func (r *Registry) ApplyBitmask(m uint16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices[Tombstone] = DeviceStatus{
		TimeSynced: m&bitTombstoneSynced != 0,
		Connected:  m&bitTombstoneConn != 0,
		InCooldown: m&bitTombstoneCooldown != 0,
	}
	r.devices[Scarecrow] = DeviceStatus{
		TimeSynced: m&bitScarecrowSynced != 0,
		Connected:  m&bitScarecrowConn != 0,
		InCooldown: m&bitScarecrowCooldown != 0,
	}
}
