package bridge

import (
	"context"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"zigbeeween/internal/mesh"
	"zigbeeween/internal/status"
	"zigbeeween/internal/store"
	"zigbeeween/internal/wire"
)

const (
	tombstoneIEEE = "00158D0001AAAAAA"
	scarecrowIEEE = "00158D0001BBBBBB"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- Fakes ---

type writeCall struct {
	dst       uint16
	clusterID uint16
	attrID    uint16
	value     []byte
}

type fakeRadio struct {
	mu       sync.Mutex
	formed   bool
	permit   uint8
	writes   chan writeCall
	onJoined func(mesh.DeviceJoinedEvent)
	onLeft   func(mesh.DeviceLeftEvent)
	onReport func(mesh.AttributeReportEvent)
}

func newFakeRadio() *fakeRadio {
	return &fakeRadio{writes: make(chan writeCall, 16)}
}

func (f *fakeRadio) Reset(ctx context.Context) error { return nil }

func (f *fakeRadio) FormNetwork(ctx context.Context, channel uint8, panID uint16) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.formed = true
	return nil
}

func (f *fakeRadio) PermitJoin(ctx context.Context, duration uint8) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.permit = duration
	return nil
}

func (f *fakeRadio) WriteAttribute(ctx context.Context, dst uint16, clusterID, attrID uint16, value []byte) error {
	f.writes <- writeCall{dst, clusterID, attrID, value}
	return nil
}

func (f *fakeRadio) OnDeviceJoined(h func(mesh.DeviceJoinedEvent))      { f.onJoined = h }
func (f *fakeRadio) OnDeviceLeft(h func(mesh.DeviceLeftEvent))          { f.onLeft = h }
func (f *fakeRadio) OnAttributeReport(h func(mesh.AttributeReportEvent)) { f.onReport = h }
func (f *fakeRadio) Close() error                                       { return nil }

func (f *fakeRadio) didForm() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.formed
}

type memStore struct {
	mu      sync.Mutex
	devices map[string]*store.Device
	state   *store.NetworkState
}

func newMemStore() *memStore {
	return &memStore{devices: make(map[string]*store.Device)}
}

func (m *memStore) SaveDevice(dev *store.Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *dev
	m.devices[dev.IEEEAddress] = &cp
	return nil
}

func (m *memStore) GetDevice(ieee string) (*store.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[ieee]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *memStore) DeleteDevice(ieee string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.devices, ieee)
	return nil
}

func (m *memStore) ListDevices() ([]*store.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*store.Device, 0, len(m.devices))
	for _, d := range m.devices {
		cp := *d
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memStore) UpdateDevice(ieee string, fn func(dev *store.Device) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[ieee]
	if !ok {
		return store.ErrNotFound
	}
	return fn(d)
}

func (m *memStore) SaveNetworkState(s *store.NetworkState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.state = &cp
	return nil
}

func (m *memStore) GetNetworkState() (*store.NetworkState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return nil, store.ErrNotFound
	}
	cp := *m.state
	return &cp, nil
}

func (m *memStore) Close() error { return nil }

// --- Harness ---

type harness struct {
	bridge  *Bridge
	radio   *fakeRadio
	store   *memStore
	gateway net.Conn
	dec     *wire.Decoder
}

func startBridge(t *testing.T) *harness {
	t.Helper()
	radio := newFakeRadio()
	st := newMemStore()
	near, far := net.Pipe()

	b := New(Config{
		Channel: 15,
		PanID:   0x1A62,
		Devices: map[string]uint8{tombstoneIEEE: 1, scarecrowIEEE: 2},
		Names:   map[string]string{tombstoneIEEE: "rip", scarecrowIEEE: "scarecrow"},
	}, radio, near, st, testLogger())

	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		b.Stop()
		near.Close()
		far.Close()
	})
	return &harness{bridge: b, radio: radio, store: st, gateway: far, dec: wire.NewDecoder(far)}
}

func (h *harness) send(t *testing.T, raw []byte) {
	t.Helper()
	h.gateway.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if _, err := h.gateway.Write(raw); err != nil {
		t.Fatalf("gateway write: %v", err)
	}
}

func (h *harness) recv(t *testing.T) wire.Frame {
	t.Helper()
	h.gateway.SetReadDeadline(time.Now().Add(2 * time.Second))
	f, err := h.dec.Next()
	if err != nil {
		t.Fatalf("gateway read: %v", err)
	}
	return f
}

func expectWrite(t *testing.T, radio *fakeRadio) writeCall {
	t.Helper()
	select {
	case w := <-radio.writes:
		return w
	case <-time.After(2 * time.Second):
		t.Fatal("no radio write")
		return writeCall{}
	}
}

func expectNoWrite(t *testing.T, radio *fakeRadio) {
	t.Helper()
	select {
	case w := <-radio.writes:
		t.Fatalf("unexpected radio write: %+v", w)
	case <-time.After(100 * time.Millisecond):
	}
}

// --- Tests ---

func TestStartFormsNetworkOnce(t *testing.T) {
	h := startBridge(t)
	if !h.radio.didForm() {
		t.Error("network not formed on empty store")
	}
	state, err := h.store.GetNetworkState()
	if err != nil || !state.Formed || state.Channel != 15 {
		t.Errorf("network state not persisted: %+v, %v", state, err)
	}

	// Second bridge on the same store resumes instead of re-forming.
	radio2 := newFakeRadio()
	near, far := net.Pipe()
	defer near.Close()
	defer far.Close()
	b2 := New(Config{Channel: 15, PanID: 0x1A62}, radio2, near, h.store, testLogger())
	if err := b2.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer b2.Stop()
	if radio2.didForm() {
		t.Error("network re-formed despite persisted state")
	}
}

func TestStatusRequestResponse(t *testing.T) {
	h := startBridge(t)
	h.bridge.Registry().SetConnected(status.Scarecrow, true)

	req, _ := wire.Encode(wire.CmdStatusRequest, nil)
	h.send(t, req)

	f := h.recv(t)
	if f.Cmd != wire.CmdStatusResponse {
		t.Fatalf("cmd = %s, want status_response", f.Cmd)
	}
	if f.Bitmask() != h.bridge.Registry().Bitmask() {
		t.Errorf("bitmask = 0x%04X, want 0x%04X", f.Bitmask(), h.bridge.Registry().Bitmask())
	}
}

func TestJoinReportsUpstream(t *testing.T) {
	h := startBridge(t)

	h.radio.onJoined(mesh.DeviceJoinedEvent{ShortAddr: 0x4B12, IEEEAddr: ieeeBytes(tombstoneIEEE)})

	f := h.recv(t)
	if f.Cmd != wire.CmdDeviceJoined || f.Payload[0] != byte(status.Tombstone) {
		t.Fatalf("frame = %s %X", f.Cmd, f.Payload)
	}
	if !h.bridge.Registry().Get(status.Tombstone).Connected {
		t.Error("registry not marked connected")
	}

	waitFor(t, func() bool {
		d, err := h.store.GetDevice(tombstoneIEEE)
		return err == nil && d.ShortAddress == 0x4B12 && d.Code == 1
	})
}

func TestUnknownJoinNotReported(t *testing.T) {
	h := startBridge(t)

	h.radio.onJoined(mesh.DeviceJoinedEvent{ShortAddr: 0x0001, IEEEAddr: ieeeBytes("1111111111111111")})

	h.gateway.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	if f, err := h.dec.Next(); err == nil {
		t.Fatalf("unexpected upstream frame: %s", f.Cmd)
	}
	// Still persisted for the address book.
	waitFor(t, func() bool {
		_, err := h.store.GetDevice("1111111111111111")
		return err == nil
	})
}

func TestLeaveReportsUpstream(t *testing.T) {
	h := startBridge(t)
	h.radio.onJoined(mesh.DeviceJoinedEvent{ShortAddr: 0x0002, IEEEAddr: ieeeBytes(scarecrowIEEE)})
	h.recv(t) // joined frame

	h.radio.onLeft(mesh.DeviceLeftEvent{ShortAddr: 0x0002, IEEEAddr: ieeeBytes(scarecrowIEEE)})

	f := h.recv(t)
	if f.Cmd != wire.CmdDeviceLeft || f.Payload[0] != byte(status.Scarecrow) {
		t.Fatalf("frame = %s %X", f.Cmd, f.Payload)
	}
	if h.bridge.Registry().Get(status.Scarecrow).Connected {
		t.Error("registry still connected after leave")
	}
}

func TestTimeSyncBroadcast(t *testing.T) {
	h := startBridge(t)

	h.send(t, wire.EncodeTimeSync(time.Unix(1761933600, 0)))

	w := expectWrite(t, h.radio)
	if w.dst != mesh.Broadcast || w.clusterID != mesh.ClusterHaunt || w.attrID != mesh.AttrTimestamp {
		t.Fatalf("write = %+v", w)
	}
	if v, _ := mesh.DecodeUint32(w.value); v != 1761933600 {
		t.Errorf("timestamp = %d", v)
	}
}

func TestLateJoinerGetsTimestamp(t *testing.T) {
	h := startBridge(t)

	h.send(t, wire.EncodeTimeSync(time.Unix(1761933600, 0)))
	expectWrite(t, h.radio) // broadcast

	h.radio.onJoined(mesh.DeviceJoinedEvent{ShortAddr: 0x0007, IEEEAddr: ieeeBytes(scarecrowIEEE)})
	h.recv(t)

	w := expectWrite(t, h.radio)
	if w.dst != 0x0007 || w.attrID != mesh.AttrTimestamp {
		t.Fatalf("write = %+v", w)
	}
	if v, _ := mesh.DecodeUint32(w.value); v < 1761933600 {
		t.Errorf("timestamp went backwards: %d", v)
	}
}

func TestTriggerWritesOnOff(t *testing.T) {
	h := startBridge(t)
	h.radio.onJoined(mesh.DeviceJoinedEvent{ShortAddr: 0x0009, IEEEAddr: ieeeBytes(tombstoneIEEE)})
	h.recv(t)

	raw, _ := wire.Encode(wire.CmdTriggerTombstone, nil)
	h.send(t, raw)

	w := expectWrite(t, h.radio)
	if w.dst != 0x0009 || w.clusterID != mesh.ClusterOnOff || w.attrID != mesh.AttrOnOff {
		t.Fatalf("write = %+v", w)
	}

	// Second trigger alternates the value but still fires.
	h.send(t, raw)
	w2 := expectWrite(t, h.radio)
	if mesh.DecodeBool(w2.value) == mesh.DecodeBool(w.value) {
		t.Error("trigger value did not alternate")
	}
}

func TestTriggerAllFansOut(t *testing.T) {
	h := startBridge(t)
	h.radio.onJoined(mesh.DeviceJoinedEvent{ShortAddr: 0x0001, IEEEAddr: ieeeBytes(tombstoneIEEE)})
	h.recv(t)
	h.radio.onJoined(mesh.DeviceJoinedEvent{ShortAddr: 0x0002, IEEEAddr: ieeeBytes(scarecrowIEEE)})
	h.recv(t)

	raw, _ := wire.Encode(wire.CmdTriggerAll, nil)
	h.send(t, raw)

	dsts := map[uint16]bool{}
	dsts[expectWrite(t, h.radio).dst] = true
	dsts[expectWrite(t, h.radio).dst] = true
	if !dsts[0x0001] || !dsts[0x0002] {
		t.Errorf("trigger_all reached %v", dsts)
	}
}

func TestTriggerOfflineDeviceDropped(t *testing.T) {
	h := startBridge(t)

	raw, _ := wire.Encode(wire.CmdTriggerScarecrow, nil)
	h.send(t, raw)

	expectNoWrite(t, h.radio)
}

func TestAttributeReportUpdatesRegistry(t *testing.T) {
	h := startBridge(t)
	h.radio.onJoined(mesh.DeviceJoinedEvent{ShortAddr: 0x0002, IEEEAddr: ieeeBytes(scarecrowIEEE)})
	h.recv(t)

	h.radio.onReport(mesh.AttributeReportEvent{
		SrcAddr: 0x0002, ClusterID: mesh.ClusterHaunt, AttrID: mesh.AttrTimeSynced, Value: mesh.EncodeBool(true),
	})
	h.radio.onReport(mesh.AttributeReportEvent{
		SrcAddr: 0x0002, ClusterID: mesh.ClusterHaunt, AttrID: mesh.AttrInCooldown, Value: mesh.EncodeBool(true),
	})

	waitFor(t, func() bool {
		s := h.bridge.Registry().Get(status.Scarecrow)
		return s.TimeSynced && s.InCooldown
	})

	// Reports from other clusters never touch the registry.
	h.radio.onReport(mesh.AttributeReportEvent{
		SrcAddr: 0x0002, ClusterID: mesh.ClusterOnOff, AttrID: mesh.AttrTimeSynced, Value: mesh.EncodeBool(false),
	})
	if !h.bridge.Registry().Get(status.Scarecrow).TimeSynced {
		t.Error("foreign cluster report cleared time_synced")
	}
}

// --- Helpers ---

func ieeeBytes(s string) [8]byte {
	var out [8]byte
	for i := 0; i < 8 && i*2+1 < len(s); i++ {
		out[i] = hexByte(s[i*2])<<4 | hexByte(s[i*2+1])
	}
	return out
}

func hexByte(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	}
	return 0
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}
