package hw

import (
	"log/slog"
	"sync"
	"time"
)

// LogDisplay writes display lines to the log. Used when no physical
// display is attached.
type LogDisplay struct {
	Logger *slog.Logger
}

func (d *LogDisplay) Show(line1, line2 string) error {
	d.Logger.Info("display", "line1", line1, "line2", line2)
	return nil
}

// NullOutput discards writes. Stands in for absent relay or LED pins.
type NullOutput struct{}

func (NullOutput) Set(bool) error { return nil }

// SystemRTC keeps time as the host clock plus a correction recorded by
// SetTime. The real tombstone prop carries a DS3231 whose registers the
// time sync rewrites; the host clock is not writable from here, so the
// correction is held in memory instead of being dropped.
type SystemRTC struct {
	mu     sync.Mutex
	offset time.Duration
}

func (r *SystemRTC) ReadTime() (time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return time.Now().Add(r.offset), nil
}

func (r *SystemRTC) SetTime(t time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.offset = time.Until(t)
	return nil
}
