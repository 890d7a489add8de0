package actuator

import (
	"testing"
	"time"
)

func at(hour, min, sec int) time.Time {
	return time.Date(2025, 10, 31, hour, min, sec, 0, time.UTC)
}

func TestInSleepWindow(t *testing.T) {
	s := Schedule{SleepStart: 0, SleepEnd: 6}

	tests := []struct {
		name string
		t    time.Time
		want bool
	}{
		{"midnight start", at(0, 0, 0), true},
		{"middle of night", at(3, 30, 0), true},
		{"last sleeping second", at(5, 59, 59), true},
		{"window end exclusive", at(6, 0, 0), false},
		{"evening", at(22, 0, 0), false},
		{"just before midnight", at(23, 59, 59), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.InSleepWindow(tt.t); got != tt.want {
				t.Errorf("InSleepWindow(%v) = %v, want %v", tt.t, got, tt.want)
			}
		})
	}
}

func TestInSleepWindowWrapsMidnight(t *testing.T) {
	s := Schedule{SleepStart: 22, SleepEnd: 6}
	if !s.InSleepWindow(at(23, 0, 0)) || !s.InSleepWindow(at(2, 0, 0)) {
		t.Error("wrapped window missed sleeping hours")
	}
	if s.InSleepWindow(at(12, 0, 0)) {
		t.Error("wrapped window claimed noon")
	}
}

func TestEmptyWindowNeverSleeps(t *testing.T) {
	s := Schedule{SleepStart: 0, SleepEnd: 0}
	if s.InSleepWindow(at(0, 0, 0)) {
		t.Error("empty window slept")
	}
}

func TestWakeIn(t *testing.T) {
	s := Schedule{SleepStart: 0, SleepEnd: 6}

	tests := []struct {
		name string
		t    time.Time
		want time.Duration
	}{
		{"exactly midnight", at(0, 0, 0), 6 * time.Hour},
		{"half past two", at(2, 30, 0), 3*time.Hour + 30*time.Minute},
		{"with seconds", at(5, 59, 30), 30 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.WakeIn(tt.t); got != tt.want {
				t.Errorf("WakeIn(%v) = %v, want %v", tt.t, got, tt.want)
			}
		})
	}
}

func TestWakeLandsOnWindowEnd(t *testing.T) {
	s := Schedule{SleepStart: 0, SleepEnd: 6}
	start := at(1, 17, 42)
	woke := start.Add(s.WakeIn(start))
	if woke.Hour() != 6 || woke.Minute() != 0 || woke.Second() != 0 {
		t.Errorf("woke at %v, want 06:00:00", woke)
	}
}
