package dispatch

import "github.com/hexbridge/uartbridge/internal/value"

func argSid(args map[string]value.Value) (int, error) {
	v, ok := args["sid"]
	if !ok {
		return 0, tagged("missing_sid", "sid is required")
	}
	n, ok := v.AsInt64()
	if !ok {
		return 0, tagged("invalid_sid", "sid must be an integer")
	}
	return int(n), nil
}

func argString(args map[string]value.Value, key string) (string, bool) {
	v, ok := args[key]
	if !ok {
		return "", false
	}
	return v.AsText()
}

func argStringDefault(args map[string]value.Value, key, def string) string {
	s, ok := argString(args, key)
	if !ok {
		return def
	}
	return s
}

func argIntDefault(args map[string]value.Value, key string, def int64) int64 {
	v, ok := args[key]
	if !ok {
		return def
	}
	n, ok := v.AsInt64()
	if !ok {
		return def
	}
	return n
}

func argBytes(args map[string]value.Value, key string) ([]byte, bool) {
	v, ok := args[key]
	if !ok {
		return nil, false
	}
	return v.AsBytes()
}

// argOptionalInt returns (value, true) when key holds an integer. An absent,
// null (e.g. timeout_ms:null for "block forever") or non-integer argument
// all yield (0, false); the two cases are not told apart.
func argOptionalInt(args map[string]value.Value, key string) (int64, bool) {
	v, ok := args[key]
	if !ok || v.IsNull() {
		return 0, false
	}
	n, ok := v.AsInt64()
	if !ok {
		return 0, false
	}
	return n, true
}
