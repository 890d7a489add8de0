package wire

import (
	"bytes"
	"io"
	"testing"
	"time"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		cmd     Command
		payload []byte
	}{
		{"trigger tombstone", CmdTriggerTombstone, nil},
		{"trigger scarecrow", CmdTriggerScarecrow, nil},
		{"trigger all", CmdTriggerAll, nil},
		{"status request", CmdStatusRequest, nil},
		{"status response", CmdStatusResponse, []byte{0x00, 0x3F}},
		{"time sync", CmdTimeSync, []byte{0x67, 0x24, 0x10, 0x00}},
		{"device joined", CmdDeviceJoined, []byte{0x01}},
		{"device left", CmdDeviceLeft, []byte{0x02}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := Encode(tt.cmd, tt.payload)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			f, err := NewDecoder(bytes.NewReader(raw)).Next()
			if err != nil {
				t.Fatalf("Next: %v", err)
			}
			if f.Cmd != tt.cmd {
				t.Errorf("cmd = %s, want %s", f.Cmd, tt.cmd)
			}
			if !bytes.Equal(f.Payload, tt.payload) && len(tt.payload) > 0 {
				t.Errorf("payload = %x, want %x", f.Payload, tt.payload)
			}
		})
	}
}

func TestEncodeRejectsBadArity(t *testing.T) {
	if _, err := Encode(CmdTriggerAll, []byte{0x01}); err == nil {
		t.Error("expected error for payload on zero-arity command")
	}
	if _, err := Encode(CmdTimeSync, []byte{0x01}); err == nil {
		t.Error("expected error for short time sync payload")
	}
	if _, err := Encode(Command(0x7F), nil); err == nil {
		t.Error("expected error for unknown command")
	}
}

func TestDecoderResync(t *testing.T) {
	valid, _ := Encode(CmdDeviceJoined, []byte{0x01})

	tests := []struct {
		name  string
		input []byte
	}{
		{"leading garbage", append([]byte{0x00, 0xFF, 0x12}, valid...)},
		{"truncated frame then valid", append([]byte{0xAA, 0x11, 0x00}, valid...)},
		{"unknown command then valid", append([]byte{0xAA, 0x7F}, valid...)},
		{"missing end sentinel then valid", append([]byte{0xAA, 0x01, 0x99}, valid...)},
		{"bare sentinels then valid", append([]byte{0xAA, 0x55, 0x55}, valid...)},
		{"false time sync header then valid", append([]byte{0xAA, 0x20}, valid...)},
		{"false status response header then valid", append([]byte{0xAA, 0x11}, valid...)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := NewDecoder(bytes.NewReader(tt.input)).Next()
			if err != nil {
				t.Fatalf("Next: %v", err)
			}
			if f.Cmd != CmdDeviceJoined || f.Payload[0] != 0x01 {
				t.Errorf("got %s %x, want device_joined 01", f.Cmd, f.Payload)
			}
		})
	}
}

func TestDecoderFalseHeaderKeepsFollowingFrames(t *testing.T) {
	// A noise byte pair that looks like a TimeSync header must not eat
	// the frames behind it as phantom payload. Triggers have no retry,
	// so a swallowed frame here is a lost actuation.
	var buf bytes.Buffer
	buf.Write([]byte{0xAA, 0x20})
	a, _ := Encode(CmdStatusRequest, nil)
	buf.Write(a)
	b, _ := Encode(CmdTriggerAll, nil)
	buf.Write(b)

	d := NewDecoder(&buf)
	f1, err := d.Next()
	if err != nil || f1.Cmd != CmdStatusRequest {
		t.Fatalf("first frame = %v, %v; want status_request", f1.Cmd, err)
	}
	f2, err := d.Next()
	if err != nil || f2.Cmd != CmdTriggerAll {
		t.Fatalf("second frame = %v, %v; want trigger_all", f2.Cmd, err)
	}
}

func TestDecoderStartByteInsideBadFrame(t *testing.T) {
	// A start sentinel appearing where the end sentinel should be must
	// begin the next scan, not be swallowed.
	valid, _ := Encode(CmdTriggerAll, nil)
	input := append([]byte{0xAA, 0x01}, valid...) // trigger frame missing its end
	f, err := NewDecoder(bytes.NewReader(input)).Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if f.Cmd != CmdTriggerAll {
		t.Errorf("cmd = %s, want trigger_all", f.Cmd)
	}
}

func TestDecoderEOF(t *testing.T) {
	_, err := NewDecoder(bytes.NewReader([]byte{0x01, 0x02})).Next()
	if err != io.EOF {
		t.Errorf("err = %v, want io.EOF", err)
	}
}

func TestTimeSyncTimestamp(t *testing.T) {
	want := time.Date(2025, 10, 31, 18, 0, 0, 0, time.UTC)
	raw := EncodeTimeSync(want)
	f, err := NewDecoder(bytes.NewReader(raw)).Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if got := f.Timestamp().UTC(); !got.Equal(want) {
		t.Errorf("timestamp = %v, want %v", got, want)
	}
	// Big-endian on the wire regardless of host order.
	if raw[2] != 0x69 {
		t.Errorf("timestamp bytes look endian-swapped: % x", raw[2:6])
	}
}

func TestStatusResponseBitmask(t *testing.T) {
	raw := EncodeStatusResponse(0x003F)
	f, err := NewDecoder(bytes.NewReader(raw)).Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if f.Bitmask() != 0x003F {
		t.Errorf("bitmask = 0x%04X, want 0x003F", f.Bitmask())
	}
}

func TestDecoderStream(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(EncodeTimeSync(time.Unix(1761933600, 0)))
	buf.Write([]byte{0xDE, 0xAD}) // noise between frames
	a, _ := Encode(CmdTriggerScarecrow, nil)
	buf.Write(a)

	d := NewDecoder(&buf)
	f1, err := d.Next()
	if err != nil || f1.Cmd != CmdTimeSync {
		t.Fatalf("first frame = %v, %v", f1.Cmd, err)
	}
	f2, err := d.Next()
	if err != nil || f2.Cmd != CmdTriggerScarecrow {
		t.Fatalf("second frame = %v, %v", f2.Cmd, err)
	}
}
