// Package bridge implements the coordinator node: it owns the mesh
// radio and the trust point for joins, mirrors actuator state into the
// status registry, and answers the gateway over the serial uplink.
package bridge

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"zigbeeween/internal/mesh"
	"zigbeeween/internal/status"
	"zigbeeween/internal/store"
	"zigbeeween/internal/wire"
)

const (
	radioTimeout = 5 * time.Second

	// 0xFF keeps the network permanently open for joining. The props
	// are rebooted in the field all season, pairing friction is worse
	// than the open network.
	permitJoinForever uint8 = 0xFF
)

// Config holds bridge settings.
type Config struct {
	Channel uint8
	PanID   uint16
	// Devices maps IEEE addresses to device codes (1 = tombstone,
	// 2 = scarecrow). Joins from unlisted addresses are persisted but
	// not reported upstream.
	Devices map[string]uint8
	Names   map[string]string
}

// task is work the mesh callbacks hand off so they never block on a
// radio transaction or a disk write.
type task func(ctx context.Context)

// Bridge wires the radio, the store, and the gateway uplink together.
type Bridge struct {
	cfg      Config
	radio    mesh.Radio
	uplink   io.ReadWriteCloser
	registry *status.Registry
	store    store.Store
	logger   *slog.Logger

	mu         sync.Mutex
	addrByCode map[status.DeviceID]uint16
	codeByAddr map[uint16]status.DeviceID
	toggle     map[status.DeviceID]bool
	lastSync   time.Time // wall time carried by the last TimeSync frame
	syncedAt   time.Time // local monotonic receipt time, zero until first sync

	txCh   chan []byte
	taskCh chan task

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New creates a bridge. Start must be called before it does anything.
func New(cfg Config, radio mesh.Radio, uplink io.ReadWriteCloser, st store.Store, logger *slog.Logger) *Bridge {
	return &Bridge{
		cfg:        cfg,
		radio:      radio,
		uplink:     uplink,
		registry:   status.NewRegistry(),
		store:      st,
		logger:     logger.With("component", "bridge"),
		addrByCode: make(map[status.DeviceID]uint16),
		codeByAddr: make(map[uint16]status.DeviceID),
		toggle:     make(map[status.DeviceID]bool),
		txCh:       make(chan []byte, 32),
		taskCh:     make(chan task, 32),
		done:       make(chan struct{}),
	}
}

// Registry exposes the authoritative device status.
func (b *Bridge) Registry() *status.Registry {
	return b.registry
}

// Start forms or resumes the mesh network, opens it for joining, and
// launches the worker goroutines.
func (b *Bridge) Start(ctx context.Context) error {
	rctx, cancel := context.WithTimeout(ctx, radioTimeout)
	defer cancel()
	if err := b.radio.Reset(rctx); err != nil {
		return fmt.Errorf("reset radio: %w", err)
	}

	state, err := b.store.GetNetworkState()
	if err != nil || !state.Formed || state.Channel != b.cfg.Channel || state.PanID != b.cfg.PanID {
		b.logger.Info("forming network", "channel", b.cfg.Channel, "pan_id", fmt.Sprintf("0x%04X", b.cfg.PanID))
		fctx, fcancel := context.WithTimeout(ctx, radioTimeout)
		defer fcancel()
		if err := b.radio.FormNetwork(fctx, b.cfg.Channel, b.cfg.PanID); err != nil {
			return fmt.Errorf("form network: %w", err)
		}
		if err := b.store.SaveNetworkState(&store.NetworkState{
			Channel: b.cfg.Channel,
			PanID:   b.cfg.PanID,
			Formed:  true,
		}); err != nil {
			return fmt.Errorf("save network state: %w", err)
		}
	} else {
		b.logger.Info("resuming network", "channel", state.Channel, "pan_id", fmt.Sprintf("0x%04X", state.PanID))
	}

	pctx, pcancel := context.WithTimeout(ctx, radioTimeout)
	defer pcancel()
	if err := b.radio.PermitJoin(pctx, permitJoinForever); err != nil {
		return fmt.Errorf("permit join: %w", err)
	}

	b.radio.OnDeviceJoined(b.handleJoin)
	b.radio.OnDeviceLeft(b.handleLeave)
	b.radio.OnAttributeReport(b.handleReport)

	b.wg.Add(3)
	go b.rxLoop()
	go b.txLoop()
	go b.taskLoop()

	b.logger.Info("bridge started")
	return nil
}

// Stop shuts down the workers. The radio, store, and uplink are owned
// by the caller and closed separately.
func (b *Bridge) Stop() {
	b.closeOnce.Do(func() { close(b.done) })
	b.wg.Wait()
}

// --- Serial uplink ---

func (b *Bridge) rxLoop() {
	defer b.wg.Done()
	dec := wire.NewDecoder(b.uplink)
	for {
		frame, err := dec.Next()
		if err != nil {
			select {
			case <-b.done:
			default:
				b.logger.Error("uplink read", "err", err)
			}
			return
		}
		b.handleFrame(frame)
	}
}

func (b *Bridge) handleFrame(f wire.Frame) {
	b.logger.Debug("uplink RX", "cmd", f.Cmd.String())

	switch f.Cmd {
	case wire.CmdStatusRequest:
		b.enqueueTx(wire.EncodeStatusResponse(b.registry.Bitmask()))

	case wire.CmdTimeSync:
		ts := f.Timestamp()
		b.mu.Lock()
		b.lastSync = ts
		b.syncedAt = time.Now()
		b.mu.Unlock()
		b.logger.Info("time sync received", "time", ts.Format(time.RFC3339))
		b.enqueueTask(func(ctx context.Context) {
			b.writeTimestamp(ctx, mesh.Broadcast, ts)
		})

	case wire.CmdTriggerTombstone:
		b.enqueueTrigger(status.Tombstone)
	case wire.CmdTriggerScarecrow:
		b.enqueueTrigger(status.Scarecrow)
	case wire.CmdTriggerAll:
		b.enqueueTrigger(status.Tombstone)
		b.enqueueTrigger(status.Scarecrow)

	default:
		b.logger.Warn("uplink unexpected frame", "cmd", f.Cmd.String())
	}
}

func (b *Bridge) txLoop() {
	defer b.wg.Done()
	for {
		select {
		case raw := <-b.txCh:
			if _, err := b.uplink.Write(raw); err != nil {
				b.logger.Error("uplink write", "err", err)
			}
		case <-b.done:
			return
		}
	}
}

func (b *Bridge) enqueueTx(raw []byte) {
	select {
	case b.txCh <- raw:
	default:
		b.logger.Warn("uplink tx queue full, frame dropped")
	}
}

// --- Task worker ---

func (b *Bridge) taskLoop() {
	defer b.wg.Done()
	for {
		select {
		case fn := <-b.taskCh:
			ctx, cancel := context.WithTimeout(context.Background(), radioTimeout)
			fn(ctx)
			cancel()
		case <-b.done:
			return
		}
	}
}

func (b *Bridge) enqueueTask(fn task) {
	select {
	case b.taskCh <- fn:
	default:
		b.logger.Warn("task queue full, dropped")
	}
}

func (b *Bridge) enqueueTrigger(id status.DeviceID) {
	b.mu.Lock()
	addr, known := b.addrByCode[id]
	b.toggle[id] = !b.toggle[id]
	value := b.toggle[id]
	b.mu.Unlock()

	if !known {
		b.logger.Warn("trigger for offline device", "device", id.String())
		return
	}
	b.enqueueTask(func(ctx context.Context) {
		// Any OnOff write fires the prop, the value only alternates.
		err := b.radio.WriteAttribute(ctx, addr, mesh.ClusterOnOff, mesh.AttrOnOff, mesh.EncodeBool(value))
		if err != nil {
			b.logger.Error("trigger write", "device", id.String(), "err", err)
			return
		}
		b.logger.Info("trigger sent", "device", id.String())
	})
}

// writeTimestamp pushes the current wall time to dst, adjusting the
// last received sync for elapsed local time.
func (b *Bridge) writeTimestamp(ctx context.Context, dst uint16, ts time.Time) {
	err := b.radio.WriteAttribute(ctx, dst, mesh.ClusterHaunt, mesh.AttrTimestamp,
		mesh.EncodeUint32(uint32(ts.Unix())))
	if err != nil {
		b.logger.Error("timestamp write", "dst", fmt.Sprintf("0x%04X", dst), "err", err)
	}
}

// currentTime returns the wall time implied by the last sync, or false
// if no sync has arrived yet.
func (b *Bridge) currentTime() (time.Time, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.syncedAt.IsZero() {
		return time.Time{}, false
	}
	return b.lastSync.Add(time.Since(b.syncedAt)), true
}

// --- Mesh callbacks (must not block) ---

func (b *Bridge) handleJoin(evt mesh.DeviceJoinedEvent) {
	ieee := fmt.Sprintf("%016X", evt.IEEEAddr)
	code, known := b.cfg.Devices[ieee]
	id := status.DeviceID(code)

	if known && id.Valid() {
		b.mu.Lock()
		if old, ok := b.addrByCode[id]; ok && old != evt.ShortAddr {
			delete(b.codeByAddr, old)
		}
		b.addrByCode[id] = evt.ShortAddr
		b.codeByAddr[evt.ShortAddr] = id
		b.mu.Unlock()

		b.registry.SetConnected(id, true)
		b.enqueueTx(mustEncode(wire.CmdDeviceJoined, []byte{byte(id)}))
	} else {
		b.logger.Warn("unknown device joined", "ieee", ieee, "short", fmt.Sprintf("0x%04X", evt.ShortAddr))
	}

	b.enqueueTask(func(ctx context.Context) {
		b.persistJoin(ieee, evt.ShortAddr, code)
		// Late joiner gets the timestamp it missed.
		if ts, ok := b.currentTime(); ok {
			b.writeTimestamp(ctx, evt.ShortAddr, ts)
		}
	})
}

func (b *Bridge) persistJoin(ieee string, short uint16, code uint8) {
	now := time.Now()
	err := b.store.UpdateDevice(ieee, func(d *store.Device) error {
		d.ShortAddress = short
		d.LastSeen = now
		return nil
	})
	if err == nil {
		return
	}
	dev := &store.Device{
		IEEEAddress:  ieee,
		ShortAddress: short,
		Code:         code,
		FriendlyName: b.cfg.Names[ieee],
		JoinedAt:     now,
		LastSeen:     now,
	}
	if err := b.store.SaveDevice(dev); err != nil {
		b.logger.Error("persist device", "ieee", ieee, "err", err)
	}
}

func (b *Bridge) handleLeave(evt mesh.DeviceLeftEvent) {
	ieee := fmt.Sprintf("%016X", evt.IEEEAddr)
	code, known := b.cfg.Devices[ieee]
	id := status.DeviceID(code)
	if !known || !id.Valid() {
		b.logger.Info("unknown device left", "ieee", ieee)
		return
	}

	b.mu.Lock()
	if addr, ok := b.addrByCode[id]; ok {
		delete(b.codeByAddr, addr)
		delete(b.addrByCode, id)
	}
	b.mu.Unlock()

	b.registry.SetConnected(id, false)
	b.enqueueTx(mustEncode(wire.CmdDeviceLeft, []byte{byte(id)}))
}

func (b *Bridge) handleReport(evt mesh.AttributeReportEvent) {
	if evt.ClusterID != mesh.ClusterHaunt {
		return
	}
	b.mu.Lock()
	id, ok := b.codeByAddr[evt.SrcAddr]
	b.mu.Unlock()
	if !ok {
		b.logger.Debug("report from unmapped address", "short", fmt.Sprintf("0x%04X", evt.SrcAddr))
		return
	}

	switch evt.AttrID {
	case mesh.AttrTimeSynced:
		b.registry.SetTimeSynced(id, mesh.DecodeBool(evt.Value))
	case mesh.AttrInCooldown:
		b.registry.SetInCooldown(id, mesh.DecodeBool(evt.Value))
	}
}

func mustEncode(cmd wire.Command, payload []byte) []byte {
	raw, err := wire.Encode(cmd, payload)
	if err != nil {
		panic(err)
	}
	return raw
}
