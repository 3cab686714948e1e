package value

import (
	"reflect"
	"testing"
)

func roundTrip(t *testing.T, v Value) Value {
	t.Helper()
	encoded := Encode(v)
	got, rest, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode(%v) error: %v", encoded, err)
	}
	if len(rest) != 0 {
		t.Fatalf("Decode left %d trailing bytes", len(rest))
	}
	return got
}

func TestRoundTripScalars(t *testing.T) {
	cases := []Value{
		Null(),
		Bool(true),
		Bool(false),
		Int(-1),
		Int(-1000000),
		Uint(0),
		Uint(65535),
		Uint(1 << 40),
		Float(3.5),
		Text(""),
		Text("I see you, you see me"),
		Bytes(nil),
		Bytes([]byte{0xC0, 0xDB, 0x00, 0xFF}),
	}
	for _, c := range cases {
		got := roundTrip(t, c)
		if got.Kind() != c.Kind() {
			t.Errorf("kind mismatch for %+v: got %v want %v", c, got.Kind(), c.Kind())
		}
	}
}

func TestRoundTripArrayAndMap(t *testing.T) {
	v := Array(
		Uint(2), Uint(1), Uint(0), Text("example.com"), Text("1.2.3.4:80"),
	)
	got := roundTrip(t, v)
	gotArr, ok := got.AsArray()
	if !ok || len(gotArr) != 5 {
		t.Fatalf("unexpected array decode: %+v", got)
	}

	m := Map(map[string]Value{
		"pong": Bool(true),
		"t_ms": Uint(123456),
		"echo": Text("I see you, you see me"),
	})
	got = roundTrip(t, m)
	gotMap, ok := got.AsMap()
	if !ok {
		t.Fatalf("expected map, got %v", got.Kind())
	}
	if pong, _ := gotMap["pong"].AsBool(); !pong {
		t.Errorf("pong field lost in round-trip")
	}
	if echo, _ := gotMap["echo"].AsText(); echo != "I see you, you see me" {
		t.Errorf("echo field lost in round-trip: %q", echo)
	}
}

func TestRequestRoundTrip(t *testing.T) {
	req := Request{Op: "dns", Args: map[string]Value{
		"host": Text("example.com"),
		"port": Uint(80),
	}}
	payload := EncodeRequest(req)
	got, err := DecodeRequest(payload)
	if err != nil {
		t.Fatalf("DecodeRequest: %v", err)
	}
	if got.Op != req.Op {
		t.Errorf("op mismatch: got %q want %q", got.Op, req.Op)
	}
	if !reflect.DeepEqual(got.Args["host"], req.Args["host"]) {
		t.Errorf("args.host mismatch: %+v", got.Args)
	}
}

func TestRequestNoArgs(t *testing.T) {
	payload := EncodeRequest(Request{Op: "ping"})
	got, err := DecodeRequest(payload)
	if err != nil {
		t.Fatalf("DecodeRequest: %v", err)
	}
	if got.Op != "ping" {
		t.Errorf("op = %q, want ping", got.Op)
	}
	if len(got.Args) != 0 {
		t.Errorf("expected no args, got %+v", got.Args)
	}
}

func TestResponseRoundTrip(t *testing.T) {
	ok := EncodeResponseOK(Map(map[string]Value{"sid": Uint(3)}))
	resp, err := DecodeResponse(ok)
	if err != nil {
		t.Fatalf("DecodeResponse: %v", err)
	}
	if !resp.OK {
		t.Fatalf("expected ok=true")
	}
	m, _ := resp.Result.AsMap()
	if sid, _ := m["sid"].AsUint64(); sid != 3 {
		t.Errorf("sid = %d, want 3", sid)
	}

	failed := EncodeResponseErr("invalid_sid", "sid 7 not found")
	resp, err = DecodeResponse(failed)
	if err != nil {
		t.Fatalf("DecodeResponse: %v", err)
	}
	if resp.OK {
		t.Fatalf("expected ok=false")
	}
	if resp.Error != "invalid_sid" || resp.Detail != "sid 7 not found" {
		t.Errorf("unexpected error fields: %+v", resp)
	}
}

func TestDecodeTruncatedIsError(t *testing.T) {
	full := Encode(Text("hello world"))
	if _, _, err := Decode(full[:len(full)-3]); err == nil {
		t.Fatalf("expected error decoding truncated input")
	}
}
