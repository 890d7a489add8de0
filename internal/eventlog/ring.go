// Package eventlog keeps a small in-memory history of gateway events
// for the status page. Once full, the oldest entry is overwritten.
package eventlog

import (
	"sync"
	"time"
)

// Type classifies a logged event.
type Type string

const (
	MotionDetected   Type = "motion_detected"
	MotionStopped    Type = "motion_stopped"
	TriggerTombstone Type = "trigger_tombstone"
	TriggerScarecrow Type = "trigger_scarecrow"
	TriggerBoth      Type = "trigger_both"
	DeviceJoined     Type = "device_joined"
	DeviceLeft       Type = "device_left"
)

// Entry is one logged event. Device is set only for join/leave entries.
type Entry struct {
	Time   time.Time `json:"time"`
	Type   Type      `json:"type"`
	Device string    `json:"device,omitempty"`
}

const DefaultCapacity = 50

// Ring is a fixed-capacity overwrite-oldest event buffer.
type Ring struct {
	mu      sync.Mutex
	entries []Entry
	next    int
	full    bool
}

func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ring{entries: make([]Entry, capacity)}
}

// Add records an event stamped with now.
func (r *Ring) Add(typ Type, device string) {
	r.AddAt(time.Now(), typ, device)
}

func (r *Ring) AddAt(t time.Time, typ Type, device string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[r.next] = Entry{Time: t, Type: typ, Device: device}
	r.next++
	if r.next == len(r.entries) {
		r.next = 0
		r.full = true
	}
}

// Len returns the number of stored entries.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.full {
		return len(r.entries)
	}
	return r.next
}

// Recent returns up to n entries, newest first. n <= 0 means all.
func (r *Ring) Recent(n int) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := r.next
	if r.full {
		count = len(r.entries)
	}
	if n <= 0 || n > count {
		n = count
	}
	out := make([]Entry, 0, n)
	for i := 0; i < n; i++ {
		idx := (r.next - 1 - i + len(r.entries)) % len(r.entries)
		out = append(out, r.entries[idx])
	}
	return out
}
