// Package hw abstracts the handful of peripherals the nodes touch: a
// PIR motion sensor, relay and LED outputs, a small status display, and
// the tombstone prop's battery-backed RTC. Everything is an interface
// so the control loops can run against fakes.
package hw

import "time"

// DigitalInput is a single input line, active high.
type DigitalInput interface {
	Read() (bool, error)
}

// DigitalOutput is a single output line.
type DigitalOutput interface {
	Set(high bool) error
}

// Display is a small two-line status display.
type Display interface {
	// Show replaces both lines. Empty strings blank a line.
	Show(line1, line2 string) error
}

// RTC is a battery-backed real-time clock.
type RTC interface {
	ReadTime() (time.Time, error)
	SetTime(t time.Time) error
}
