// Package value implements the self-describing payload encoding carried
// inside REQ/RESP packets. It preserves signed and unsigned integers, UTF-8
// text, opaque byte strings, booleans, null, and heterogeneous arrays and
// string-keyed maps, and follows the CBOR major-type wire layout closely
// enough to interoperate with a standard CBOR decoder reading the same
// primitives.
package value

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"
)

// Kind identifies which alternative of the Value sum is populated.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindUint
	KindFloat
	KindText
	KindBytes
	KindArray
	KindMap
)

// CBOR major types (RFC 8949 §3.1).
const (
	majorUint  = 0
	majorNegInt = 1
	majorBytes = 2
	majorText  = 3
	majorArray = 4
	majorMap   = 5
	majorOther = 7
)

// Simple values under major type 7.
const (
	simpleFalse = 20
	simpleTrue  = 21
	simpleNull  = 22
	floatSingle = 26
	floatDouble = 27
)

// Value is a closed tagged sum over the payload codec's primitives.
type Value struct {
	kind Kind
	b    bool
	i    int64
	u    uint64
	f    float64
	s    string
	by   []byte
	arr  []Value
	m    map[string]Value
}

func Null() Value               { return Value{kind: KindNull} }
func Bool(v bool) Value         { return Value{kind: KindBool, b: v} }
func Int(v int64) Value         { return Value{kind: KindInt, i: v} }
func Uint(v uint64) Value       { return Value{kind: KindUint, u: v} }
func Float(v float64) Value     { return Value{kind: KindFloat, f: v} }
func Text(s string) Value       { return Value{kind: KindText, s: s} }
func Bytes(b []byte) Value      { return Value{kind: KindBytes, by: b} }
func Array(items ...Value) Value {
	return Value{kind: KindArray, arr: items}
}
func Map(m map[string]Value) Value {
	if m == nil {
		m = map[string]Value{}
	}
	return Value{kind: KindMap, m: m}
}

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) AsBool() (bool, bool) {
	if v.kind != KindBool {
		return false, false
	}
	return v.b, true
}

// AsInt64 accepts both KindInt and KindUint, matching the source protocol's
// loose numeric typing (args like "sid" or "port" may arrive as either).
func (v Value) AsInt64() (int64, bool) {
	switch v.kind {
	case KindInt:
		return v.i, true
	case KindUint:
		return int64(v.u), true
	}
	return 0, false
}

func (v Value) AsUint64() (uint64, bool) {
	switch v.kind {
	case KindUint:
		return v.u, true
	case KindInt:
		if v.i < 0 {
			return 0, false
		}
		return uint64(v.i), true
	}
	return 0, false
}

func (v Value) AsFloat64() (float64, bool) {
	switch v.kind {
	case KindFloat:
		return v.f, true
	case KindInt:
		return float64(v.i), true
	case KindUint:
		return float64(v.u), true
	}
	return 0, false
}

func (v Value) AsText() (string, bool) {
	if v.kind != KindText {
		return "", false
	}
	return v.s, true
}

func (v Value) AsBytes() ([]byte, bool) {
	if v.kind != KindBytes {
		return nil, false
	}
	return v.by, true
}

func (v Value) AsArray() ([]Value, bool) {
	if v.kind != KindArray {
		return nil, false
	}
	return v.arr, true
}

func (v Value) AsMap() (map[string]Value, bool) {
	if v.kind != KindMap {
		return nil, false
	}
	return v.m, true
}

// Encode serializes v into the CBOR-compatible wire form.
func Encode(v Value) []byte {
	buf := make([]byte, 0, 32)
	buf = appendValue(buf, v)
	return buf
}

func appendValue(buf []byte, v Value) []byte {
	switch v.kind {
	case KindNull:
		return appendHead(buf, majorOther, simpleNull)
	case KindBool:
		if v.b {
			return appendHead(buf, majorOther, simpleTrue)
		}
		return appendHead(buf, majorOther, simpleFalse)
	case KindUint:
		return appendHead(buf, majorUint, v.u)
	case KindInt:
		if v.i >= 0 {
			return appendHead(buf, majorUint, uint64(v.i))
		}
		return appendHead(buf, majorNegInt, uint64(-1-v.i))
	case KindFloat:
		buf = append(buf, majorOther<<5|floatDouble)
		var raw [8]byte
		binary.BigEndian.PutUint64(raw[:], math.Float64bits(v.f))
		return append(buf, raw[:]...)
	case KindText:
		buf = appendHead(buf, majorText, uint64(len(v.s)))
		return append(buf, v.s...)
	case KindBytes:
		buf = appendHead(buf, majorBytes, uint64(len(v.by)))
		return append(buf, v.by...)
	case KindArray:
		buf = appendHead(buf, majorArray, uint64(len(v.arr)))
		for _, item := range v.arr {
			buf = appendValue(buf, item)
		}
		return buf
	case KindMap:
		buf = appendHead(buf, majorMap, uint64(len(v.m)))
		keys := make([]string, 0, len(v.m))
		for k := range v.m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			buf = appendValue(buf, Text(k))
			buf = appendValue(buf, v.m[k])
		}
		return buf
	default:
		panic(fmt.Sprintf("value: unknown kind %d", v.kind))
	}
}

func appendHead(buf []byte, major byte, arg uint64) []byte {
	initial := major << 5
	switch {
	case arg < 24:
		return append(buf, initial|byte(arg))
	case arg <= 0xFF:
		return append(buf, initial|24, byte(arg))
	case arg <= 0xFFFF:
		var tmp [2]byte
		binary.BigEndian.PutUint16(tmp[:], uint16(arg))
		return append(append(buf, initial|25), tmp[:]...)
	case arg <= 0xFFFFFFFF:
		var tmp [4]byte
		binary.BigEndian.PutUint32(tmp[:], uint32(arg))
		return append(append(buf, initial|26), tmp[:]...)
	default:
		var tmp [8]byte
		binary.BigEndian.PutUint64(tmp[:], arg)
		return append(append(buf, initial|27), tmp[:]...)
	}
}

var (
	errTruncated = errors.New("value: truncated input")
	errMalformed = errors.New("value: malformed encoding")
)

// Decode parses a single Value from the front of data, returning the
// remaining unconsumed bytes.
func Decode(data []byte) (Value, []byte, error) {
	if len(data) == 0 {
		return Value{}, nil, errTruncated
	}
	initial := data[0]
	major := initial >> 5
	info := initial & 0x1F
	rest := data[1:]

	arg, rest, err := readArg(info, rest)
	if err != nil {
		return Value{}, nil, err
	}

	switch major {
	case majorUint:
		return Uint(arg), rest, nil
	case majorNegInt:
		return Int(-1 - int64(arg)), rest, nil
	case majorBytes:
		if uint64(len(rest)) < arg {
			return Value{}, nil, errTruncated
		}
		b := make([]byte, arg)
		copy(b, rest[:arg])
		return Bytes(b), rest[arg:], nil
	case majorText:
		if uint64(len(rest)) < arg {
			return Value{}, nil, errTruncated
		}
		s := string(rest[:arg])
		return Text(s), rest[arg:], nil
	case majorArray:
		items := make([]Value, 0, arg)
		for i := uint64(0); i < arg; i++ {
			var item Value
			item, rest, err = Decode(rest)
			if err != nil {
				return Value{}, nil, err
			}
			items = append(items, item)
		}
		return Array(items...), rest, nil
	case majorMap:
		m := make(map[string]Value, arg)
		for i := uint64(0); i < arg; i++ {
			var keyVal, val Value
			keyVal, rest, err = Decode(rest)
			if err != nil {
				return Value{}, nil, err
			}
			key, ok := keyVal.AsText()
			if !ok {
				return Value{}, nil, errMalformed
			}
			val, rest, err = Decode(rest)
			if err != nil {
				return Value{}, nil, err
			}
			m[key] = val
		}
		return Map(m), rest, nil
	case majorOther:
		switch info {
		case simpleFalse:
			return Bool(false), rest, nil
		case simpleTrue:
			return Bool(true), rest, nil
		case simpleNull, 23: // null and undefined both decode to Null
			return Null(), rest, nil
		case floatSingle:
			// readArg has already consumed the 4 float bytes into arg.
			return Float(float64(math.Float32frombits(uint32(arg)))), rest, nil
		case floatDouble:
			// readArg has already consumed the 8 float bytes into arg.
			return Float(math.Float64frombits(arg)), rest, nil
		default:
			return Value{}, nil, errMalformed
		}
	default:
		return Value{}, nil, errMalformed
	}
}

// readArg decodes the CBOR argument that follows a header's additional-info
// field, returning the remaining bytes after the argument.
func readArg(info byte, data []byte) (uint64, []byte, error) {
	switch {
	case info < 24:
		return uint64(info), data, nil
	case info == 24:
		if len(data) < 1 {
			return 0, nil, errTruncated
		}
		return uint64(data[0]), data[1:], nil
	case info == 25:
		if len(data) < 2 {
			return 0, nil, errTruncated
		}
		return uint64(binary.BigEndian.Uint16(data[:2])), data[2:], nil
	case info == 26:
		if len(data) < 4 {
			return 0, nil, errTruncated
		}
		return uint64(binary.BigEndian.Uint32(data[:4])), data[4:], nil
	case info == 27:
		if len(data) < 8 {
			return 0, nil, errTruncated
		}
		return binary.BigEndian.Uint64(data[:8]), data[8:], nil
	default:
		return 0, nil, errMalformed
	}
}
