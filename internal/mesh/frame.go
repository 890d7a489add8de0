package mesh

// Serial framing for the radio module firmware. Layout:
//
//	sig(2) 0xFE 0xED | len(1) | body | crc8(body)
//
// where body = type(1) + callID(1) + tsn(1) + payload. Responses carry
// a status byte as the first payload byte. len counts the body only.

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

const (
	meshSig0 = 0xFE
	meshSig1 = 0xED

	meshMaxBody = 64
)

// Frame types.
const (
	meshTypeRequest    uint8 = 0x00
	meshTypeResponse   uint8 = 0x01
	meshTypeIndication uint8 = 0x02
)

// Call IDs.
const (
	meshCmdReset           uint8 = 0x01
	meshCmdFormNetwork     uint8 = 0x02
	meshCmdJoinNetwork     uint8 = 0x03
	meshCmdPermitJoin      uint8 = 0x04
	meshCmdWriteAttribute  uint8 = 0x05
	meshCmdReportAttribute uint8 = 0x06

	meshIndDeviceJoined    uint8 = 0x10
	meshIndDeviceLeft      uint8 = 0x11
	meshIndAttributeReport uint8 = 0x12
	meshIndAttributeWrite  uint8 = 0x13
	meshIndNetworkState    uint8 = 0x14
)

// Response status byte.
const meshStatusOK uint8 = 0x00

func meshCmdName(id uint8) string {
	switch id {
	case meshCmdReset:
		return "Reset"
	case meshCmdFormNetwork:
		return "FormNetwork"
	case meshCmdJoinNetwork:
		return "JoinNetwork"
	case meshCmdPermitJoin:
		return "PermitJoin"
	case meshCmdWriteAttribute:
		return "WriteAttribute"
	case meshCmdReportAttribute:
		return "ReportAttribute"
	case meshIndDeviceJoined:
		return "DeviceJoinedInd"
	case meshIndDeviceLeft:
		return "DeviceLeftInd"
	case meshIndAttributeReport:
		return "AttributeReportInd"
	case meshIndAttributeWrite:
		return "AttributeWriteInd"
	case meshIndNetworkState:
		return "NetworkStateInd"
	default:
		return fmt.Sprintf("0x%02X", id)
	}
}

// meshFrame is a parsed module frame.
type meshFrame struct {
	Type    uint8
	CallID  uint8
	TSN     uint8
	Payload []byte
}

// --- CRC-8 (reflected poly 0xB2, init 0xFF, xorout 0xFF) ---

var crc8Table [256]uint8

func init() {
	const poly = 0xB2
	for i := 0; i < 256; i++ {
		crc := uint8(i)
		for bit := 0; bit < 8; bit++ {
			if crc&1 != 0 {
				crc = (crc >> 1) ^ poly
			} else {
				crc >>= 1
			}
		}
		crc8Table[i] = crc
	}
}

func meshCRC8(data []byte) uint8 {
	crc := uint8(0xFF)
	for _, b := range data {
		crc = crc8Table[crc^b]
	}
	return crc ^ 0xFF
}

// --- Encode ---

func meshEncode(typ, callID, tsn uint8, payload []byte) []byte {
	body := make([]byte, 0, 3+len(payload))
	body = append(body, typ, callID, tsn)
	body = append(body, payload...)

	out := make([]byte, 0, 4+len(body))
	out = append(out, meshSig0, meshSig1, uint8(len(body)))
	out = append(out, body...)
	out = append(out, meshCRC8(body))
	return out
}

// --- Decode ---

// readMeshFrame reads one valid frame from r, scanning past garbage and
// frames with a bad CRC. It returns an error only on reader failure.
func readMeshFrame(r *bufio.Reader) (*meshFrame, error) {
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if b != meshSig0 {
			continue
		}
		b, err = r.ReadByte()
		if err != nil {
			return nil, err
		}
		if b != meshSig1 {
			if b == meshSig0 {
				_ = r.UnreadByte()
			}
			continue
		}

		n, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if n < 3 || int(n) > meshMaxBody {
			continue
		}
		buf := make([]byte, int(n)+1)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		body, crc := buf[:n], buf[n]
		if meshCRC8(body) != crc {
			continue
		}
		return &meshFrame{
			Type:    body[0],
			CallID:  body[1],
			TSN:     body[2],
			Payload: body[3:],
		}, nil
	}
}

// --- Payload builders / parsers ---

func buildFormNetwork(channel uint8, panID uint16) []byte {
	p := make([]byte, 3)
	p[0] = channel
	binary.LittleEndian.PutUint16(p[1:], panID)
	return p
}

func buildWriteAttribute(dst uint16, clusterID, attrID uint16, value []byte) []byte {
	p := make([]byte, 6, 6+len(value))
	binary.LittleEndian.PutUint16(p[0:2], dst)
	binary.LittleEndian.PutUint16(p[2:4], clusterID)
	binary.LittleEndian.PutUint16(p[4:6], attrID)
	return append(p, value...)
}

func buildReportAttribute(clusterID, attrID uint16, value []byte) []byte {
	p := make([]byte, 4, 4+len(value))
	binary.LittleEndian.PutUint16(p[0:2], clusterID)
	binary.LittleEndian.PutUint16(p[2:4], attrID)
	return append(p, value...)
}

// parseDeviceEvent decodes a join/leave indication: short(2) + ieee(8).
func parseDeviceEvent(p []byte) (uint16, [8]byte, bool) {
	var ieee [8]byte
	if len(p) < 10 {
		return 0, ieee, false
	}
	copy(ieee[:], p[2:10])
	return binary.LittleEndian.Uint16(p[0:2]), ieee, true
}

// parseAttributeReport decodes src(2) + cluster(2) + attr(2) + value.
func parseAttributeReport(p []byte) (AttributeReportEvent, bool) {
	if len(p) < 6 {
		return AttributeReportEvent{}, false
	}
	return AttributeReportEvent{
		SrcAddr:   binary.LittleEndian.Uint16(p[0:2]),
		ClusterID: binary.LittleEndian.Uint16(p[2:4]),
		AttrID:    binary.LittleEndian.Uint16(p[4:6]),
		Value:     p[6:],
	}, true
}

// parseAttributeWrite decodes cluster(2) + attr(2) + value.
func parseAttributeWrite(p []byte) (AttributeWriteEvent, bool) {
	if len(p) < 4 {
		return AttributeWriteEvent{}, false
	}
	return AttributeWriteEvent{
		ClusterID: binary.LittleEndian.Uint16(p[0:2]),
		AttrID:    binary.LittleEndian.Uint16(p[2:4]),
		Value:     p[4:],
	}, true
}
