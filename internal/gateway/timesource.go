package gateway

import (
	"context"
	"fmt"
	"time"
)

// TimeSource supplies trusted wall-clock time. Ready reports whether
// the clock can be believed yet.
type TimeSource interface {
	Now() time.Time
	Ready() bool
}

// SystemTimeSource trusts the host clock once it is past a plausibility
// floor. On the embedded boards the clock starts at the epoch until the
// network sets it; anything before 2024 is treated as unset.
type SystemTimeSource struct{}

var plausibleFloor = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func (SystemTimeSource) Now() time.Time { return time.Now() }
func (SystemTimeSource) Ready() bool    { return time.Now().After(plausibleFloor) }

// WaitForTime polls src until it is ready or the timeout passes. The
// caller treats a timeout as fatal: a haunt with no clock would ignore
// its sleep schedule all night.
func WaitForTime(ctx context.Context, src TimeSource, timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(500 * time.Millisecond)
	defer tick.Stop()

	if src.Ready() {
		return nil
	}
	for {
		select {
		case <-tick.C:
			if src.Ready() {
				return nil
			}
		case <-deadline.C:
			return fmt.Errorf("time source not ready after %s", timeout)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
