// Package gateway implements the network-side control node: it owns
// the PIR sensor, the event history, and the serial link down to the
// coordinator, and decides who gets scared when something moves.
package gateway

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"zigbeeween/internal/eventlog"
	"zigbeeween/internal/hw"
	"zigbeeween/internal/status"
	"zigbeeween/internal/wire"
)

// Target names a trigger destination.
type Target string

const (
	TargetTombstone Target = "tombstone"
	TargetScarecrow Target = "scarecrow"
	TargetBoth      Target = "both"
)

// ParseTarget validates a target string from the HTTP or MQTT surface.
func ParseTarget(s string) (Target, error) {
	switch Target(s) {
	case TargetTombstone, TargetScarecrow, TargetBoth:
		return Target(s), nil
	default:
		return "", fmt.Errorf("unknown trigger target %q", s)
	}
}

func (t Target) command() wire.Command {
	switch t {
	case TargetTombstone:
		return wire.CmdTriggerTombstone
	case TargetScarecrow:
		return wire.CmdTriggerScarecrow
	default:
		return wire.CmdTriggerAll
	}
}

func (t Target) eventType() eventlog.Type {
	switch t {
	case TargetTombstone:
		return eventlog.TriggerTombstone
	case TargetScarecrow:
		return eventlog.TriggerScarecrow
	default:
		return eventlog.TriggerBoth
	}
}

// Config holds gateway timing settings.
type Config struct {
	MotionPoll  time.Duration
	StatusPoll  time.Duration
	Resync      time.Duration
	TimeTimeout time.Duration
}

func (c *Config) defaults() {
	if c.MotionPoll == 0 {
		c.MotionPoll = 100 * time.Millisecond
	}
	if c.StatusPoll == 0 {
		c.StatusPoll = 3 * time.Second
	}
	if c.Resync == 0 {
		c.Resync = time.Hour
	}
	if c.TimeTimeout == 0 {
		c.TimeTimeout = 60 * time.Second
	}
}

// Snapshot is the gateway state served to the web and MQTT surfaces.
type Snapshot struct {
	Time      time.Time           `json:"time"`
	PIRMotion bool                `json:"pir_motion"`
	Tombstone status.DeviceStatus `json:"rip_tombstone"`
	Scarecrow status.DeviceStatus `json:"halloween_trigger"`
	Events    []eventlog.Entry    `json:"events"`
}

// Gateway is the control loop node.
type Gateway struct {
	cfg      Config
	uplink   io.ReadWriteCloser
	registry *status.Registry
	events   *eventlog.Ring
	bus      *EventBus
	motion   hw.DigitalInput
	display  hw.Display
	timeSrc  TimeSource
	logger   *slog.Logger

	txMu sync.Mutex

	motionMu   sync.Mutex
	motionHigh bool

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New assembles a gateway. display may be nil.
func New(cfg Config, uplink io.ReadWriteCloser, motion hw.DigitalInput, display hw.Display, timeSrc TimeSource, logger *slog.Logger) *Gateway {
	cfg.defaults()
	if display == nil {
		display = &hw.LogDisplay{Logger: logger}
	}
	return &Gateway{
		cfg:      cfg,
		uplink:   uplink,
		registry: status.NewRegistry(),
		events:   eventlog.NewRing(eventlog.DefaultCapacity),
		bus:      NewEventBus(logger),
		motion:   motion,
		display:  display,
		timeSrc:  timeSrc,
		logger:   logger.With("component", "gateway"),
		done:     make(chan struct{}),
	}
}

// Bus exposes the event bus for the web, MQTT, and automation layers.
func (g *Gateway) Bus() *EventBus { return g.bus }

// Registry exposes the mirrored device status.
func (g *Gateway) Registry() *status.Registry { return g.registry }

// Start blocks until wall time is available, pushes the first time
// sync downstream, and launches the workers. An unusable time source
// is a fatal condition.
func (g *Gateway) Start(ctx context.Context) error {
	_ = g.display.Show("zigbeeween", "waiting for time")
	if err := WaitForTime(ctx, g.timeSrc, g.cfg.TimeTimeout); err != nil {
		_ = g.display.Show("TIME FAILED", "halting")
		return fmt.Errorf("acquire time: %w", err)
	}
	g.logger.Info("time acquired", "time", g.timeSrc.Now().Format(time.RFC3339))

	if err := g.sendTimeSync(); err != nil {
		return err
	}
	_ = g.display.Show("zigbeeween", "ready")

	g.wg.Add(4)
	go g.rxLoop()
	go g.motionLoop()
	go g.statusLoop()
	go g.resyncLoop()

	g.logger.Info("gateway started")
	return nil
}

// Stop halts the workers. The uplink is owned by the caller.
func (g *Gateway) Stop() {
	g.closeOnce.Do(func() { close(g.done) })
	g.wg.Wait()
}

// Snapshot captures current state for the external surfaces.
func (g *Gateway) Snapshot() Snapshot {
	g.motionMu.Lock()
	motion := g.motionHigh
	g.motionMu.Unlock()
	devs := g.registry.Snapshot()
	return Snapshot{
		Time:      g.timeSrc.Now(),
		PIRMotion: motion,
		Tombstone: devs[status.Tombstone],
		Scarecrow: devs[status.Scarecrow],
		Events:    g.events.Recent(0),
	}
}

// Trigger fires a target, records it, and tells the subscribers.
func (g *Gateway) Trigger(target Target) error {
	raw, err := wire.Encode(target.command(), nil)
	if err != nil {
		return err
	}
	if err := g.writeFrame(raw); err != nil {
		return fmt.Errorf("send trigger: %w", err)
	}
	g.events.Add(target.eventType(), "")
	g.bus.Emit(Event{Type: EventTrigger, Data: string(target)})
	g.logger.Info("trigger sent", "target", string(target))
	return nil
}

func (g *Gateway) writeFrame(raw []byte) error {
	g.txMu.Lock()
	defer g.txMu.Unlock()
	_, err := g.uplink.Write(raw)
	return err
}

func (g *Gateway) sendTimeSync() error {
	now := g.timeSrc.Now()
	if err := g.writeFrame(wire.EncodeTimeSync(now)); err != nil {
		return fmt.Errorf("send time sync: %w", err)
	}
	g.bus.Emit(Event{Type: EventTimeSync, Data: now})
	g.logger.Info("time sync sent", "time", now.Format(time.RFC3339))
	return nil
}

// --- Workers ---

func (g *Gateway) rxLoop() {
	defer g.wg.Done()
	dec := wire.NewDecoder(g.uplink)
	for {
		frame, err := dec.Next()
		if err != nil {
			select {
			case <-g.done:
			default:
				g.logger.Error("uplink read", "err", err)
			}
			return
		}
		g.handleFrame(frame)
	}
}

func (g *Gateway) handleFrame(f wire.Frame) {
	switch f.Cmd {
	case wire.CmdStatusResponse:
		g.registry.ApplyBitmask(f.Bitmask())
		g.bus.Emit(Event{Type: EventStatusUpdate, Data: g.registry.Snapshot()})

	case wire.CmdDeviceJoined:
		id := status.DeviceID(f.Payload[0])
		if !id.Valid() {
			g.logger.Warn("join for unknown device code", "code", f.Payload[0])
			return
		}
		g.registry.SetConnected(id, true)
		g.events.Add(eventlog.DeviceJoined, id.String())
		g.bus.Emit(Event{Type: EventDeviceJoined, Data: id.String()})
		g.logger.Info("device joined", "device", id.String())

	case wire.CmdDeviceLeft:
		id := status.DeviceID(f.Payload[0])
		if !id.Valid() {
			g.logger.Warn("leave for unknown device code", "code", f.Payload[0])
			return
		}
		g.registry.SetConnected(id, false)
		g.events.Add(eventlog.DeviceLeft, id.String())
		g.bus.Emit(Event{Type: EventDeviceLeft, Data: id.String()})
		g.logger.Info("device left", "device", id.String())

	default:
		g.logger.Warn("uplink unexpected frame", "cmd", f.Cmd.String())
	}
}

func (g *Gateway) motionLoop() {
	defer g.wg.Done()
	tick := time.NewTicker(g.cfg.MotionPoll)
	defer tick.Stop()

	for {
		select {
		case <-tick.C:
			high, err := g.motion.Read()
			if err != nil {
				g.logger.Error("pir read", "err", err)
				continue
			}
			g.motionEdge(high)
		case <-g.done:
			return
		}
	}
}

// motionEdge reacts to PIR level changes. Only edges matter; a held
// high level fires once.
func (g *Gateway) motionEdge(high bool) {
	g.motionMu.Lock()
	prev := g.motionHigh
	g.motionHigh = high
	g.motionMu.Unlock()

	if high && !prev {
		g.events.Add(eventlog.MotionDetected, "")
		g.bus.Emit(Event{Type: EventMotionDetected, Data: nil})
		_ = g.display.Show("MOTION", time.Now().Format("15:04:05"))
		g.fanOut()
	} else if !high && prev {
		g.events.Add(eventlog.MotionStopped, "")
		g.bus.Emit(Event{Type: EventMotionStopped, Data: nil})
		_ = g.display.Show("zigbeeween", "ready")
	}
}

// fanOut picks trigger targets from what is currently connected: both
// props if both are up, just the live one otherwise, and nothing but a
// log line when the yard is empty.
func (g *Gateway) fanOut() {
	devs := g.registry.Snapshot()
	ts := devs[status.Tombstone].Connected
	sc := devs[status.Scarecrow].Connected

	var target Target
	switch {
	case ts && sc:
		target = TargetBoth
	case ts:
		target = TargetTombstone
	case sc:
		target = TargetScarecrow
	default:
		g.logger.Warn("motion with no connected props")
		return
	}
	if err := g.Trigger(target); err != nil {
		g.logger.Error("motion trigger", "target", string(target), "err", err)
	}
}

func (g *Gateway) statusLoop() {
	defer g.wg.Done()
	tick := time.NewTicker(g.cfg.StatusPoll)
	defer tick.Stop()

	raw, _ := wire.Encode(wire.CmdStatusRequest, nil)
	for {
		select {
		case <-tick.C:
			if err := g.writeFrame(raw); err != nil {
				g.logger.Error("status request", "err", err)
			}
		case <-g.done:
			return
		}
	}
}

func (g *Gateway) resyncLoop() {
	defer g.wg.Done()
	tick := time.NewTicker(g.cfg.Resync)
	defer tick.Stop()

	for {
		select {
		case <-tick.C:
			if err := g.sendTimeSync(); err != nil {
				g.logger.Error("periodic time sync", "err", err)
			}
		case <-g.done:
			return
		}
	}
}
