package mesh

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.bug.st/serial"
)

const respTimeout = 5 * time.Second

// SerialRadio drives the radio module over a serial port. The one type
// implements both Radio and DeviceRadio; which calls are meaningful
// depends on the module's firmware role.
type SerialRadio struct {
	port   io.ReadWriteCloser
	reader *bufio.Reader
	logger *slog.Logger

	tsn     atomic.Uint32
	pending map[uint8]chan *meshFrame
	pendMu  sync.Mutex
	writeMu sync.Mutex

	handlerMu  sync.RWMutex
	onJoined   func(DeviceJoinedEvent)
	onLeft     func(DeviceLeftEvent)
	onReport   func(AttributeReportEvent)
	onWrite    func(AttributeWriteEvent)
	onNwkState func(NetworkState)

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// OpenSerialRadio opens the radio module on the named port.
func OpenSerialRadio(portName string, baudRate int, logger *slog.Logger) (*SerialRadio, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("mesh: open %s: %w", portName, err)
	}
	_ = port.SetDTR(true)
	_ = port.SetRTS(true)
	return newSerialRadio(port, logger), nil
}

// newSerialRadio wraps an already-open transport. Tests use this with
// an in-memory pipe.
func newSerialRadio(port io.ReadWriteCloser, logger *slog.Logger) *SerialRadio {
	r := &SerialRadio{
		port:    port,
		reader:  bufio.NewReader(port),
		logger:  logger,
		pending: make(map[uint8]chan *meshFrame),
		done:    make(chan struct{}),
	}
	r.wg.Add(1)
	go r.readLoop()
	return r
}

func (r *SerialRadio) nextTSN() uint8 {
	return uint8(r.tsn.Add(1))
}

// request sends a request frame and waits for the matching response.
func (r *SerialRadio) request(ctx context.Context, callID uint8, payload []byte) (*meshFrame, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, respTimeout)
		defer cancel()
	}

	tsn := r.nextTSN()
	ch := make(chan *meshFrame, 1)
	r.pendMu.Lock()
	r.pending[tsn] = ch
	r.pendMu.Unlock()
	defer func() {
		r.pendMu.Lock()
		delete(r.pending, tsn)
		r.pendMu.Unlock()
	}()

	raw := meshEncode(meshTypeRequest, callID, tsn, payload)
	r.writeMu.Lock()
	_, err := r.port.Write(raw)
	r.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("mesh write %s: %w", meshCmdName(callID), err)
	}
	r.logger.Debug("mesh TX", "cmd", meshCmdName(callID), "tsn", tsn, "payload", fmt.Sprintf("%X", payload))

	select {
	case resp := <-ch:
		if len(resp.Payload) < 1 {
			return nil, fmt.Errorf("mesh %s: empty response", meshCmdName(callID))
		}
		if st := resp.Payload[0]; st != meshStatusOK {
			return resp, fmt.Errorf("mesh %s: module status 0x%02X", meshCmdName(callID), st)
		}
		return resp, nil
	case <-ctx.Done():
		r.logger.Warn("mesh timeout", "cmd", meshCmdName(callID), "tsn", tsn)
		return nil, ctx.Err()
	case <-r.done:
		return nil, fmt.Errorf("mesh: radio closed")
	}
}

func (r *SerialRadio) readLoop() {
	defer r.wg.Done()

	backoff := 10 * time.Millisecond
	const maxBackoff = 5 * time.Second

	for {
		select {
		case <-r.done:
			return
		default:
		}

		frame, err := readMeshFrame(r.reader)
		if err != nil {
			select {
			case <-r.done:
				return
			default:
				if err != io.EOF && !strings.Contains(err.Error(), "closed") {
					r.logger.Error("mesh read error", "err", err)
				}
				select {
				case <-time.After(backoff):
				case <-r.done:
					return
				}
				if backoff < maxBackoff {
					backoff *= 2
				}
				continue
			}
		}
		backoff = 10 * time.Millisecond

		switch frame.Type {
		case meshTypeResponse:
			r.pendMu.Lock()
			ch, ok := r.pending[frame.TSN]
			r.pendMu.Unlock()
			if ok {
				select {
				case ch <- frame:
				default:
				}
			} else {
				r.logger.Warn("mesh orphaned response", "cmd", meshCmdName(frame.CallID), "tsn", frame.TSN)
			}

		case meshTypeIndication:
			r.handleIndication(frame)

		default:
			r.logger.Warn("mesh unexpected frame type", "type", frame.Type)
		}
	}
}

func (r *SerialRadio) handleIndication(f *meshFrame) {
	r.handlerMu.RLock()
	onJoined := r.onJoined
	onLeft := r.onLeft
	onReport := r.onReport
	onWrite := r.onWrite
	onNwkState := r.onNwkState
	r.handlerMu.RUnlock()

	switch f.CallID {
	case meshIndDeviceJoined:
		if short, ieee, ok := parseDeviceEvent(f.Payload); ok {
			r.logger.Info("device joined", "short", fmt.Sprintf("0x%04X", short), "ieee", fmt.Sprintf("%016X", ieee))
			if onJoined != nil {
				onJoined(DeviceJoinedEvent{ShortAddr: short, IEEEAddr: ieee})
			}
		}

	case meshIndDeviceLeft:
		if short, ieee, ok := parseDeviceEvent(f.Payload); ok {
			r.logger.Info("device left", "short", fmt.Sprintf("0x%04X", short), "ieee", fmt.Sprintf("%016X", ieee))
			if onLeft != nil {
				onLeft(DeviceLeftEvent{ShortAddr: short, IEEEAddr: ieee})
			}
		}

	case meshIndAttributeReport:
		if evt, ok := parseAttributeReport(f.Payload); ok {
			if onReport != nil {
				onReport(evt)
			}
		}

	case meshIndAttributeWrite:
		if evt, ok := parseAttributeWrite(f.Payload); ok {
			if onWrite != nil {
				onWrite(evt)
			}
		}

	case meshIndNetworkState:
		if len(f.Payload) >= 1 {
			state := NetworkState(f.Payload[0])
			r.logger.Info("network state", "state", state.String())
			if onNwkState != nil {
				onNwkState(state)
			}
		}

	default:
		r.logger.Warn("mesh unhandled indication", "cmd", meshCmdName(f.CallID), "payload", fmt.Sprintf("%X", f.Payload))
	}
}

// --- Radio ---

func (r *SerialRadio) Reset(ctx context.Context) error {
	_, err := r.request(ctx, meshCmdReset, nil)
	return err
}

func (r *SerialRadio) FormNetwork(ctx context.Context, channel uint8, panID uint16) error {
	_, err := r.request(ctx, meshCmdFormNetwork, buildFormNetwork(channel, panID))
	return err
}

func (r *SerialRadio) PermitJoin(ctx context.Context, duration uint8) error {
	_, err := r.request(ctx, meshCmdPermitJoin, []byte{duration})
	return err
}

func (r *SerialRadio) WriteAttribute(ctx context.Context, dst uint16, clusterID, attrID uint16, value []byte) error {
	_, err := r.request(ctx, meshCmdWriteAttribute, buildWriteAttribute(dst, clusterID, attrID, value))
	return err
}

func (r *SerialRadio) OnDeviceJoined(handler func(DeviceJoinedEvent)) {
	r.handlerMu.Lock()
	defer r.handlerMu.Unlock()
	r.onJoined = handler
}

func (r *SerialRadio) OnDeviceLeft(handler func(DeviceLeftEvent)) {
	r.handlerMu.Lock()
	defer r.handlerMu.Unlock()
	r.onLeft = handler
}

func (r *SerialRadio) OnAttributeReport(handler func(AttributeReportEvent)) {
	r.handlerMu.Lock()
	defer r.handlerMu.Unlock()
	r.onReport = handler
}

// --- DeviceRadio ---

func (r *SerialRadio) JoinNetwork(ctx context.Context, channel uint8) error {
	_, err := r.request(ctx, meshCmdJoinNetwork, []byte{channel})
	return err
}

func (r *SerialRadio) ReportAttribute(ctx context.Context, clusterID, attrID uint16, value []byte) error {
	_, err := r.request(ctx, meshCmdReportAttribute, buildReportAttribute(clusterID, attrID, value))
	return err
}

func (r *SerialRadio) OnAttributeWrite(handler func(AttributeWriteEvent)) {
	r.handlerMu.Lock()
	defer r.handlerMu.Unlock()
	r.onWrite = handler
}

func (r *SerialRadio) OnNetworkState(handler func(NetworkState)) {
	r.handlerMu.Lock()
	defer r.handlerMu.Unlock()
	r.onNwkState = handler
}

// Close stops the read loop and closes the port.
func (r *SerialRadio) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.done)
		err = r.port.Close()
	})
	r.wg.Wait()
	return err
}

// EncodeBool packs a boolean attribute value.
func EncodeBool(v bool) []byte {
	if v {
		return []byte{0x01}
	}
	return []byte{0x00}
}

// EncodeUint32 packs a u32 attribute value little-endian.
func EncodeUint32(v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return b[:]
}

// DecodeBool reads a boolean attribute value.
func DecodeBool(p []byte) bool {
	return len(p) >= 1 && p[0] != 0
}

// DecodeUint32 reads a little-endian u32 attribute value.
func DecodeUint32(p []byte) (uint32, bool) {
	if len(p) < 4 {
		return 0, false
	}
	return binary.LittleEndian.Uint32(p), true
}
