// Package wire implements the framed serial protocol spoken between the
// gateway and the coordinator bridge. Frames are tiny and fixed-shape:
//
//	0xAA | command (1 byte) | payload (0..4 bytes) | 0x55
//
// There is no checksum. The link is a short point-to-point UART and both
// ends treat anything malformed as line noise: bad bytes are dropped
// silently and the decoder rescans for the next start sentinel.
package wire

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"time"
)

const (
	frameStart byte = 0xAA
	frameEnd   byte = 0x55
)

// Command identifies a frame type on the gateway/coordinator link.
type Command byte

const (
	CmdTriggerTombstone Command = 0x01
	CmdTriggerScarecrow Command = 0x02
	CmdTriggerAll       Command = 0x03
	CmdStatusRequest    Command = 0x10
	CmdStatusResponse   Command = 0x11
	CmdTimeSync         Command = 0x20
	CmdDeviceJoined     Command = 0x30
	CmdDeviceLeft       Command = 0x31
)

func (c Command) String() string {
	switch c {
	case CmdTriggerTombstone:
		return "trigger_tombstone"
	case CmdTriggerScarecrow:
		return "trigger_scarecrow"
	case CmdTriggerAll:
		return "trigger_all"
	case CmdStatusRequest:
		return "status_request"
	case CmdStatusResponse:
		return "status_response"
	case CmdTimeSync:
		return "time_sync"
	case CmdDeviceJoined:
		return "device_joined"
	case CmdDeviceLeft:
		return "device_left"
	default:
		return fmt.Sprintf("unknown(0x%02X)", byte(c))
	}
}

// payloadLen is the single source of truth for per-command payload arity.
// Commands absent from the table are unknown and their frames discarded.
var payloadLen = map[Command]int{
	CmdTriggerTombstone: 0,
	CmdTriggerScarecrow: 0,
	CmdTriggerAll:       0,
	CmdStatusRequest:    0,
	CmdStatusResponse:   2,
	CmdTimeSync:         4,
	CmdDeviceJoined:     1,
	CmdDeviceLeft:       1,
}

// PayloadLen returns the expected payload length for cmd and whether the
// command is known at all.
func PayloadLen(cmd Command) (int, bool) {
	n, ok := payloadLen[cmd]
	return n, ok
}

// Frame is a decoded link frame.
type Frame struct {
	Cmd     Command
	Payload []byte
}

// Encode serializes a frame. It returns an error for unknown commands or
// a payload that does not match the command's arity, so a bug on the
// sending side can never put an invalid frame on the wire.
func Encode(cmd Command, payload []byte) ([]byte, error) {
	want, ok := payloadLen[cmd]
	if !ok {
		return nil, fmt.Errorf("wire: unknown command 0x%02X", byte(cmd))
	}
	if len(payload) != want {
		return nil, fmt.Errorf("wire: command %s wants %d payload bytes, got %d", cmd, want, len(payload))
	}
	buf := make([]byte, 0, 3+want)
	buf = append(buf, frameStart, byte(cmd))
	buf = append(buf, payload...)
	buf = append(buf, frameEnd)
	return buf, nil
}

// EncodeTimeSync builds a TimeSync frame carrying t as a big-endian
// 32-bit Unix timestamp.
func EncodeTimeSync(t time.Time) []byte {
	var p [4]byte
	binary.BigEndian.PutUint32(p[:], uint32(t.Unix()))
	b, _ := Encode(CmdTimeSync, p[:])
	return b
}

// EncodeStatusResponse builds a StatusResponse frame carrying the
// 16-bit status bitmask big-endian.
func EncodeStatusResponse(mask uint16) []byte {
	var p [2]byte
	binary.BigEndian.PutUint16(p[:], mask)
	b, _ := Encode(CmdStatusResponse, p[:])
	return b
}

// Timestamp extracts the Unix timestamp from a TimeSync payload.
func (f Frame) Timestamp() time.Time {
	return time.Unix(int64(binary.BigEndian.Uint32(f.Payload)), 0)
}

// Bitmask extracts the status bitmask from a StatusResponse payload.
func (f Frame) Bitmask() uint16 {
	return binary.BigEndian.Uint16(f.Payload)
}

// Decoder reads frames from a byte stream. Garbage between frames, an
// unknown command or a missing end sentinel all cause a silent rescan
// from the byte after the rejected start sentinel; Next only returns an
// error when the underlying reader fails.
type Decoder struct {
	r *bufio.Reader
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// Next blocks until a complete valid frame arrives or the reader errors.
// The candidate after a start sentinel is only peeked, never consumed:
// noise that happens to look like a header costs exactly one byte, and
// any real frame inside the rejected candidate is still found.
func (d *Decoder) Next() (Frame, error) {
	for {
		b, err := d.r.ReadByte()
		if err != nil {
			return Frame{}, err
		}
		if b != frameStart {
			continue
		}

		// A short peek means the stream ended mid-candidate: rescan so
		// any complete frame already buffered still comes out, and let
		// ReadByte surface the terminal error once the buffer drains.
		hdr, err := d.r.Peek(1)
		if err != nil {
			continue
		}
		n, ok := payloadLen[Command(hdr[0])]
		if !ok {
			continue
		}
		rest, err := d.r.Peek(2 + n)
		if err != nil {
			continue
		}
		if rest[1+n] != frameEnd {
			continue
		}
		payload := make([]byte, n)
		copy(payload, rest[1:1+n])
		if _, err := d.r.Discard(2 + n); err != nil {
			return Frame{}, err
		}
		return Frame{Cmd: Command(rest[0]), Payload: payload}, nil
	}
}
