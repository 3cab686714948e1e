// Package wire implements the fixed 8-byte packet header that sits between
// the payload codec and the SLIP framer: pack/unpack with a CRC-16/CCITT-FALSE
// guard, binding a type and sequence number to an opaque payload.
package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/snksoft/crc"

	"github.com/hexbridge/uartbridge/internal/slip"
)

// Type identifies the packet's role on the wire.
type Type uint8

const (
	TypeReq  Type = 1
	TypeResp Type = 2
	TypeAck  Type = 3
)

// Version is the single supported header version; anything else is a silent
// drop at Unpack.
const Version = 3

const headerSize = 8

// MaxPayloadLen is the largest payload plen can address.
const MaxPayloadLen = 65535

var crcHash = crc.NewHashWithTable(crc.NewTable(crc.CCITTFalse))

// Packet is the decoded form of a frame once the header has been validated
// and stripped.
type Packet struct {
	Type    Type
	Seq     uint16
	Payload []byte
}

// Pack builds the framed wire bytes for (typ, seq, payload): header with CRC
// over header[0:6]||payload, followed by SLIP encoding. It panics if payload
// exceeds MaxPayloadLen — a caller handing over an oversized payload is a
// programmer error, not a runtime condition to recover from.
func Pack(typ Type, seq uint16, payload []byte) []byte {
	if len(payload) > MaxPayloadLen {
		panic(fmt.Sprintf("wire: payload length %d exceeds max %d", len(payload), MaxPayloadLen))
	}

	raw := make([]byte, headerSize+len(payload))
	raw[0] = Version
	raw[1] = byte(typ)
	binary.LittleEndian.PutUint16(raw[2:4], seq)
	binary.LittleEndian.PutUint16(raw[4:6], uint16(len(payload)))
	copy(raw[headerSize:], payload)

	sum := crcHash.CalculateCRC(raw[:6+len(payload)])
	binary.LittleEndian.PutUint16(raw[6:8], uint16(sum))

	return slip.Encode(raw)
}

// Unpack validates and parses a de-framed packet's raw bytes (the output of
// a slip.Decoder frame, before this call). Every failure mode is a silent
// drop: the caller gets (Packet{}, false) and simply discards the frame,
// relying on retransmission for recovery.
func Unpack(raw []byte) (Packet, bool) {
	if len(raw) < headerSize {
		return Packet{}, false
	}
	if raw[0] != Version {
		return Packet{}, false
	}
	typ := Type(raw[1])
	switch typ {
	case TypeReq, TypeResp, TypeAck:
	default:
		return Packet{}, false
	}

	seq := binary.LittleEndian.Uint16(raw[2:4])
	plen := binary.LittleEndian.Uint16(raw[4:6])
	if plen > MaxPayloadLen {
		return Packet{}, false
	}
	if len(raw) != headerSize+int(plen) {
		return Packet{}, false
	}

	wantCRC := binary.LittleEndian.Uint16(raw[6:8])
	gotCRC := uint16(crcHash.CalculateCRC(raw[:6+int(plen)]))
	if gotCRC != wantCRC {
		return Packet{}, false
	}

	payload := make([]byte, plen)
	copy(payload, raw[headerSize:])
	return Packet{Type: typ, Seq: seq, Payload: payload}, true
}
