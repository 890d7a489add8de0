package actuator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"zigbeeween/internal/hw"
	"zigbeeween/internal/mesh"
)

// Variant selects the prop personality.
type Variant string

const (
	// VariantTombstone is the RIP tombstone: battery-backed RTC for
	// timekeeping and a short cooldown.
	VariantTombstone Variant = "tombstone"
	// VariantScarecrow is the haunted pumpkin scarecrow: keeps time
	// only from mesh timestamp writes, long cooldown.
	VariantScarecrow Variant = "scarecrow"
)

// Config holds actuator settings.
type Config struct {
	Variant     Variant
	Channel     uint8
	Hold        time.Duration
	Cooldown    time.Duration
	Schedule    Schedule
	CheckPeriod time.Duration
	RetryDelay  time.Duration
}

// Defaults fills in the per-variant timing values.
func (c *Config) Defaults() {
	if c.Hold == 0 {
		c.Hold = 500 * time.Millisecond
	}
	if c.Cooldown == 0 {
		switch c.Variant {
		case VariantTombstone:
			c.Cooldown = 5 * time.Second
		default:
			c.Cooldown = 120 * time.Second
		}
	}
	if c.Schedule == (Schedule{}) {
		c.Schedule = Schedule{SleepStart: 0, SleepEnd: 6}
	}
	if c.CheckPeriod == 0 {
		c.CheckPeriod = time.Minute
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = time.Second
	}
	if c.Channel == 0 {
		c.Channel = 15
	}
}

// Suspender parks the device until the sleep window ends. The real
// prop deep-sleeps and loses all state; ProcessSuspender models that
// by just blocking, after which the run loop starts over from boot.
type Suspender interface {
	Suspend(d time.Duration)
}

// ProcessSuspender sleeps in-process.
type ProcessSuspender struct{}

func (ProcessSuspender) Suspend(d time.Duration) { time.Sleep(d) }

const reportTimeout = 3 * time.Second

// Device is one actuator node.
type Device struct {
	cfg       Config
	radio     mesh.DeviceRadio
	relay     hw.DigitalOutput
	led       hw.DigitalOutput
	rtc       hw.RTC // tombstone only
	suspender Suspender
	logger    *slog.Logger

	// Mesh clock, scarecrow variant. Guarded by clockMu; written from
	// the radio callback, read by the run loop.
	clockMu  sync.Mutex
	syncedTo time.Time
	syncedAt time.Time

	// One-shot wakeups from the radio callbacks into the run loop.
	triggerCh chan struct{}
	syncCh    chan struct{}
	networkCh chan mesh.NetworkState

	// Cooldown guard. Set by the run loop, cleared by the timer
	// callback, which does nothing else.
	cooldownMu  sync.Mutex
	inCooldown  bool
	cooldownEnd chan struct{}
}

// New builds a device. rtc may be nil for the scarecrow variant.
func New(cfg Config, radio mesh.DeviceRadio, relay, led hw.DigitalOutput, rtc hw.RTC, susp Suspender, logger *slog.Logger) *Device {
	cfg.Defaults()
	if susp == nil {
		susp = ProcessSuspender{}
	}
	if led == nil {
		led = hw.NullOutput{}
	}
	d := &Device{
		cfg:         cfg,
		radio:       radio,
		relay:       relay,
		led:         led,
		rtc:         rtc,
		suspender:   susp,
		logger:      logger.With("component", "actuator", "variant", string(cfg.Variant)),
		triggerCh:   make(chan struct{}, 1),
		syncCh:      make(chan struct{}, 1),
		networkCh:   make(chan mesh.NetworkState, 4),
		cooldownEnd: make(chan struct{}, 1),
	}
	radio.OnAttributeWrite(d.handleWrite)
	radio.OnNetworkState(d.handleNetworkState)
	return d
}

// Run executes boot cycles until ctx is cancelled. Each pass through
// the loop is one power-on life of the prop; waking from suspend
// starts a fresh one.
func (d *Device) Run(ctx context.Context) error {
	for {
		err := d.runOnce(ctx)
		if err == nil {
			continue // woke from suspend, boot again
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil
		}
		return err
	}
}

// runOnce is a single boot-to-suspend life. A nil return means the
// device suspended and woke up.
func (d *Device) runOnce(ctx context.Context) error {
	d.resetState()

	if err := d.relay.Set(false); err != nil {
		return fmt.Errorf("relay init: %w", err)
	}
	_ = d.led.Set(false)

	rctx, cancel := context.WithTimeout(ctx, reportTimeout)
	err := d.radio.Reset(rctx)
	cancel()
	if err != nil {
		return fmt.Errorf("radio reset: %w", err)
	}

	// Check the schedule before spending power on joining. Unknown
	// time fails open: a prop that cannot tell the hour keeps working.
	if now, ok := d.now(); ok && d.cfg.Schedule.InSleepWindow(now) {
		d.suspend(now)
		return ctx.Err()
	}

	if err := d.join(ctx); err != nil {
		return err
	}
	d.logger.Info("joined network")
	_ = d.led.Set(true)

	if _, ok := d.now(); ok {
		d.report(ctx, mesh.AttrTimeSynced, mesh.EncodeBool(true))
	}

	return d.loop(ctx)
}

// join attempts network steering until it succeeds or ctx ends.
func (d *Device) join(ctx context.Context) error {
	for {
		jctx, cancel := context.WithTimeout(ctx, reportTimeout)
		err := d.radio.JoinNetwork(jctx, d.cfg.Channel)
		cancel()
		if err != nil {
			return fmt.Errorf("join network: %w", err)
		}

		for {
			select {
			case state := <-d.networkCh:
				switch state {
				case mesh.StateJoined:
					return nil
				case mesh.StateSteeringFailed:
					d.logger.Warn("steering failed, retrying", "after", d.cfg.RetryDelay)
					select {
					case <-time.After(d.cfg.RetryDelay):
					case <-ctx.Done():
						return ctx.Err()
					}
				default:
					continue
				}
			case <-ctx.Done():
				return ctx.Err()
			}
			break // retry the join request
		}
	}
}

// loop serves the joined state until suspend or shutdown.
func (d *Device) loop(ctx context.Context) error {
	check := time.NewTicker(d.cfg.CheckPeriod)
	defer check.Stop()

	for {
		select {
		case <-d.triggerCh:
			d.fire(ctx)

		case <-d.cooldownEnd:
			d.report(ctx, mesh.AttrInCooldown, mesh.EncodeBool(false))
			d.logger.Info("cooldown over")

		case <-d.syncCh:
			d.report(ctx, mesh.AttrTimeSynced, mesh.EncodeBool(true))
			d.logger.Info("time synced")

		case <-check.C:
			if now, ok := d.now(); ok && d.cfg.Schedule.InSleepWindow(now) {
				d.suspend(now)
				return ctx.Err()
			}

		case state := <-d.networkCh:
			if state == mesh.StateLeft {
				d.logger.Warn("left network, rejoining")
				_ = d.led.Set(false)
				if err := d.join(ctx); err != nil {
					return err
				}
				_ = d.led.Set(true)
			}

		case <-ctx.Done():
			_ = d.relay.Set(false)
			return ctx.Err()
		}
	}
}

// fire holds the relay for the configured duration unless the cooldown
// guard is up.
func (d *Device) fire(ctx context.Context) {
	d.cooldownMu.Lock()
	if d.inCooldown {
		d.cooldownMu.Unlock()
		d.logger.Info("trigger dropped, cooling down")
		return
	}
	d.inCooldown = true
	d.cooldownMu.Unlock()

	d.logger.Info("triggering", "hold", d.cfg.Hold)
	d.report(ctx, mesh.AttrInCooldown, mesh.EncodeBool(true))

	if err := d.relay.Set(true); err != nil {
		d.logger.Error("relay on", "err", err)
	}
	time.Sleep(d.cfg.Hold)
	if err := d.relay.Set(false); err != nil {
		d.logger.Error("relay off", "err", err)
	}

	// Single-shot timer. The callback only drops the guard and pokes
	// the run loop; the attribute report happens there.
	time.AfterFunc(d.cfg.Cooldown, func() {
		d.cooldownMu.Lock()
		d.inCooldown = false
		d.cooldownMu.Unlock()
		select {
		case d.cooldownEnd <- struct{}{}:
		default:
		}
	})
}

func (d *Device) suspend(now time.Time) {
	wake := d.cfg.Schedule.WakeIn(now)
	d.logger.Info("suspending", "wake_in", wake)
	_ = d.relay.Set(false)
	_ = d.led.Set(false)
	d.suspender.Suspend(wake)
}

// now returns the device's idea of wall time. ok is false until the
// clock has a trustworthy source.
func (d *Device) now() (time.Time, bool) {
	if d.rtc != nil {
		t, err := d.rtc.ReadTime()
		if err != nil {
			d.logger.Warn("rtc read failed", "err", err)
			return time.Time{}, false
		}
		return t, true
	}
	d.clockMu.Lock()
	defer d.clockMu.Unlock()
	if d.syncedAt.IsZero() {
		return time.Time{}, false
	}
	return d.syncedTo.Add(time.Since(d.syncedAt)), true
}

// resetState drops everything a deep sleep would have lost.
func (d *Device) resetState() {
	d.clockMu.Lock()
	d.syncedTo, d.syncedAt = time.Time{}, time.Time{}
	d.clockMu.Unlock()
	d.cooldownMu.Lock()
	d.inCooldown = false
	d.cooldownMu.Unlock()
	for {
		select {
		case <-d.triggerCh:
		case <-d.syncCh:
		case <-d.cooldownEnd:
		case <-d.networkCh:
		default:
			return
		}
	}
}

func (d *Device) report(ctx context.Context, attrID uint16, value []byte) {
	rctx, cancel := context.WithTimeout(ctx, reportTimeout)
	defer cancel()
	if err := d.radio.ReportAttribute(rctx, mesh.ClusterHaunt, attrID, value); err != nil {
		d.logger.Warn("attribute report failed", "attr", fmt.Sprintf("0x%04X", attrID), "err", err)
	}
}

// --- Radio callbacks (must not block) ---

func (d *Device) handleWrite(evt mesh.AttributeWriteEvent) {
	switch {
	case evt.ClusterID == mesh.ClusterOnOff:
		// Any on/off write fires the prop, whatever the value.
		select {
		case d.triggerCh <- struct{}{}:
		default:
		}

	case evt.ClusterID == mesh.ClusterHaunt && evt.AttrID == mesh.AttrTimestamp:
		ts, ok := mesh.DecodeUint32(evt.Value)
		if !ok {
			return
		}
		t := time.Unix(int64(ts), 0)
		if d.rtc != nil {
			if err := d.rtc.SetTime(t); err != nil {
				d.logger.Warn("rtc set failed", "err", err)
				return
			}
		} else {
			d.clockMu.Lock()
			d.syncedTo, d.syncedAt = t, time.Now()
			d.clockMu.Unlock()
		}
		select {
		case d.syncCh <- struct{}{}:
		default:
		}
	}
}

func (d *Device) handleNetworkState(state mesh.NetworkState) {
	select {
	case d.networkCh <- state:
	default:
	}
}
