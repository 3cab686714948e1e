package value

// Request is the decoded payload of a REQ packet: an operation name plus an
// optional argument map.
type Request struct {
	Op   string
	Args map[string]Value
}

// EncodeRequest serializes a Request to its wire bytes.
func EncodeRequest(req Request) []byte {
	m := map[string]Value{"op": Text(req.Op)}
	if req.Args != nil {
		m["args"] = Map(req.Args)
	}
	return Encode(Map(m))
}

// DecodeRequest parses the payload of a REQ packet.
func DecodeRequest(payload []byte) (Request, error) {
	if len(payload) == 0 {
		return Request{Args: map[string]Value{}}, nil
	}
	v, rest, err := Decode(payload)
	if err != nil {
		return Request{}, err
	}
	if len(rest) != 0 {
		return Request{}, errMalformed
	}
	m, ok := v.AsMap()
	if !ok {
		return Request{}, errMalformed
	}
	op, ok := m["op"].AsText()
	if !ok {
		return Request{}, errMalformed
	}
	args := map[string]Value{}
	if a, ok := m["args"]; ok {
		if am, ok := a.AsMap(); ok {
			args = am
		}
	}
	return Request{Op: op, Args: args}, nil
}

// Response is the decoded payload of a RESP packet.
type Response struct {
	OK     bool
	Result Value
	Error  string
	Detail string
}

// EncodeResponseOK builds a successful response payload.
func EncodeResponseOK(result Value) []byte {
	return Encode(Map(map[string]Value{
		"ok":     Bool(true),
		"result": result,
	}))
}

// EncodeResponseErr builds a failed response payload.
func EncodeResponseErr(tag, detail string) []byte {
	m := map[string]Value{
		"ok":    Bool(false),
		"error": Text(tag),
	}
	if detail != "" {
		m["detail"] = Text(detail)
	}
	return Encode(Map(m))
}

// DecodeResponse parses the payload of a RESP packet.
func DecodeResponse(payload []byte) (Response, error) {
	v, rest, err := Decode(payload)
	if err != nil {
		return Response{}, err
	}
	if len(rest) != 0 {
		return Response{}, errMalformed
	}
	m, ok := v.AsMap()
	if !ok {
		return Response{}, errMalformed
	}
	ok2, _ := m["ok"].AsBool()
	resp := Response{OK: ok2}
	if ok2 {
		resp.Result = m["result"]
	} else {
		resp.Error, _ = m["error"].AsText()
		resp.Detail, _ = m["detail"].AsText()
	}
	return resp, nil
}
