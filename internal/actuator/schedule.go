// Package actuator runs the end-device side of the haunt: join the
// mesh, fire the prop on command, respect the cooldown, and sleep
// through the small hours.
package actuator

import "time"

// Schedule is the nightly sleep window in local hours. The window is
// [SleepStart, SleepEnd): a prop asleep from 0 to 6 wakes at exactly
// 06:00:00.
type Schedule struct {
	SleepStart int
	SleepEnd   int
}

// InSleepWindow reports whether t falls inside the window. Windows may
// wrap midnight.
func (s Schedule) InSleepWindow(t time.Time) bool {
	h := t.Hour()
	if s.SleepStart == s.SleepEnd {
		return false
	}
	if s.SleepStart < s.SleepEnd {
		return h >= s.SleepStart && h < s.SleepEnd
	}
	return h >= s.SleepStart || h < s.SleepEnd
}

// WakeIn returns how long to sleep from t until the window ends.
func (s Schedule) WakeIn(t time.Time) time.Duration {
	hours := (s.SleepEnd - t.Hour() + 24) % 24
	secs := hours*3600 - t.Minute()*60 - t.Second()
	return time.Duration(secs) * time.Second
}
