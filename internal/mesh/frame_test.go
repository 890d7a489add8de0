package mesh

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"testing"
)

func TestMeshFrameRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		typ     uint8
		callID  uint8
		tsn     uint8
		payload []byte
	}{
		{"reset request", meshTypeRequest, meshCmdReset, 1, nil},
		{"form network", meshTypeRequest, meshCmdFormNetwork, 2, buildFormNetwork(15, 0x1A62)},
		{"ok response", meshTypeResponse, meshCmdPermitJoin, 3, []byte{meshStatusOK}},
		{"write attr", meshTypeRequest, meshCmdWriteAttribute, 4, buildWriteAttribute(Broadcast, ClusterOnOff, AttrOnOff, []byte{0x01})},
		{"report ind", meshTypeIndication, meshIndAttributeReport, 0, append([]byte{0x34, 0x12}, buildReportAttribute(ClusterHaunt, AttrInCooldown, []byte{0x01})[0:]...)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := meshEncode(tt.typ, tt.callID, tt.tsn, tt.payload)
			f, err := readMeshFrame(bufio.NewReader(bytes.NewReader(raw)))
			if err != nil {
				t.Fatalf("readMeshFrame: %v", err)
			}
			if f.Type != tt.typ || f.CallID != tt.callID || f.TSN != tt.tsn {
				t.Errorf("header = %d/%d/%d, want %d/%d/%d", f.Type, f.CallID, f.TSN, tt.typ, tt.callID, tt.tsn)
			}
			if !bytes.Equal(f.Payload, tt.payload) && len(tt.payload) > 0 {
				t.Errorf("payload = %X, want %X", f.Payload, tt.payload)
			}
		})
	}
}

func TestMeshFrameBadCRCSkipped(t *testing.T) {
	bad := meshEncode(meshTypeRequest, meshCmdReset, 1, nil)
	bad[len(bad)-1] ^= 0xFF
	good := meshEncode(meshTypeRequest, meshCmdPermitJoin, 2, []byte{60})

	f, err := readMeshFrame(bufio.NewReader(bytes.NewReader(append(bad, good...))))
	if err != nil {
		t.Fatalf("readMeshFrame: %v", err)
	}
	if f.CallID != meshCmdPermitJoin {
		t.Errorf("callID = %s, want PermitJoin", meshCmdName(f.CallID))
	}
}

func TestMeshFrameGarbageResync(t *testing.T) {
	good := meshEncode(meshTypeIndication, meshIndNetworkState, 0, []byte{uint8(StateJoined)})
	input := append([]byte{0x00, meshSig0, 0x42, meshSig0, meshSig1, 0xFF}, good...)

	f, err := readMeshFrame(bufio.NewReader(bytes.NewReader(input)))
	if err != nil {
		t.Fatalf("readMeshFrame: %v", err)
	}
	if f.CallID != meshIndNetworkState {
		t.Errorf("callID = %s, want NetworkStateInd", meshCmdName(f.CallID))
	}
}

func TestParseDeviceEvent(t *testing.T) {
	payload := make([]byte, 10)
	binary.LittleEndian.PutUint16(payload[0:2], 0x4B12)
	copy(payload[2:], []byte{1, 2, 3, 4, 5, 6, 7, 8})

	short, ieee, ok := parseDeviceEvent(payload)
	if !ok || short != 0x4B12 || ieee[0] != 1 || ieee[7] != 8 {
		t.Errorf("parseDeviceEvent = %04X %v %v", short, ieee, ok)
	}

	if _, _, ok := parseDeviceEvent(payload[:5]); ok {
		t.Error("short payload accepted")
	}
}

func TestParseAttributeWrite(t *testing.T) {
	raw := buildWriteAttribute(0x0001, ClusterHaunt, AttrTimestamp, EncodeUint32(1761933600))
	// device side sees cluster+attr+value (dst stripped by the module)
	evt, ok := parseAttributeWrite(raw[2:])
	if !ok {
		t.Fatal("parseAttributeWrite rejected valid payload")
	}
	if evt.ClusterID != ClusterHaunt || evt.AttrID != AttrTimestamp {
		t.Errorf("cluster/attr = %04X/%04X", evt.ClusterID, evt.AttrID)
	}
	if v, ok := DecodeUint32(evt.Value); !ok || v != 1761933600 {
		t.Errorf("value = %d, %v", v, ok)
	}
}

func TestBoolCodec(t *testing.T) {
	if !DecodeBool(EncodeBool(true)) || DecodeBool(EncodeBool(false)) {
		t.Error("bool round trip failed")
	}
	if DecodeBool(nil) {
		t.Error("empty value decoded true")
	}
}
