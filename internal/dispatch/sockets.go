package dispatch

import (
	"crypto/tls"
	"errors"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/hexbridge/uartbridge/internal/value"
)

// boundSocket is the proxy's socktable.Socket implementation: a single sid
// may carry a connected stream (TCP or TLS-wrapped), a datagram endpoint,
// or a listener, reflecting whichever lifecycle stage sock_open/sock_bind/
// sock_listen/sock_connect has driven it through. The BSD socket() call
// the source protocol models is a single object that can play any of
// these roles; Go's net package splits them into distinct types, so this
// struct is deliberately the seam between the two.
type boundSocket struct {
	family int64
	typ    int64

	bindHost string
	bindPort int64

	conn       net.Conn
	packetConn net.PacketConn
	listener   net.Listener
}

func (b *boundSocket) Close() error {
	var firstErr error
	if b.conn != nil {
		firstErr = b.conn.Close()
	}
	if b.packetConn != nil {
		if err := b.packetConn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if b.listener != nil {
		if err := b.listener.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (t *Table) getSocket(sid int) (*boundSocket, error) {
	s, err := t.sockets.Get(sid)
	if err != nil {
		return nil, taggedf("invalid_sid", "sid %d not found", sid)
	}
	b, ok := s.(*boundSocket)
	if !ok {
		return nil, taggedf("invalid_sid", "sid %d is not a socket", sid)
	}
	return b, nil
}

func remoteAddrTuple(addr net.Addr) value.Value {
	host, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		return value.Array(value.Text(addr.String()), value.Uint(0))
	}
	port, _ := strconv.ParseUint(portStr, 10, 16)
	return value.Array(value.Text(host), value.Uint(port))
}

func (t *Table) sockOpen(args map[string]value.Value) (value.Value, error) {
	family := argIntDefault(args, "family", afInet)
	typ := argIntDefault(args, "type", sockStream)

	b := &boundSocket{family: family, typ: typ}
	sid, err := t.sockets.Insert(b)
	if err != nil {
		return value.Value{}, taggedf("sock_open_error", "%v", err)
	}
	return value.Map(map[string]value.Value{"sid": value.Uint(uint64(sid))}), nil
}

func (t *Table) sockSettimeout(args map[string]value.Value) (value.Value, error) {
	sid, err := argSid(args)
	if err != nil {
		return value.Value{}, err
	}
	b, err := t.getSocket(sid)
	if err != nil {
		return value.Value{}, err
	}

	var deadline time.Time
	if ms, present := argOptionalInt(args, "timeout_ms"); present {
		if ms < 0 {
			ms = 0
		}
		deadline = time.Now().Add(time.Duration(ms) * time.Millisecond)
	}

	switch {
	case b.conn != nil:
		err = b.conn.SetDeadline(deadline)
	case b.packetConn != nil:
		err = b.packetConn.SetDeadline(deadline)
	}
	if err != nil {
		return value.Value{}, taggedf("sock_settimeout_error", "%v", err)
	}
	return value.Bool(true), nil
}

func (t *Table) sockConnect(args map[string]value.Value) (value.Value, error) {
	sid, err := argSid(args)
	if err != nil {
		return value.Value{}, err
	}
	host, ok := argString(args, "host")
	if !ok || host == "" {
		return value.Value{}, tagged("missing_host", "host is required")
	}
	port := argIntDefault(args, "port", 80)
	timeoutMS := argIntDefault(args, "timeout_ms", 5000)

	b, err := t.getSocket(sid)
	if err != nil {
		return value.Value{}, err
	}

	network := "tcp"
	if b.typ == sockDgram {
		network = "udp"
	}

	conn, derr := net.DialTimeout(network, net.JoinHostPort(host, strconv.FormatInt(port, 10)), time.Duration(timeoutMS)*time.Millisecond)
	if derr != nil {
		t.sockets.Close(sid)
		return value.Value{}, taggedf("sock_connect_error", "%v", derr)
	}
	b.conn = conn
	return value.Bool(true), nil
}

func (t *Table) sockSend(args map[string]value.Value) (value.Value, error) {
	sid, err := argSid(args)
	if err != nil {
		return value.Value{}, err
	}
	data, ok := argBytes(args, "data")
	if !ok {
		return value.Value{}, tagged("missing_data", "data is required")
	}
	b, err := t.getSocket(sid)
	if err != nil {
		return value.Value{}, err
	}
	if b.conn == nil {
		t.sockets.Close(sid)
		return value.Value{}, tagged("sock_send_error", "socket is not connected")
	}

	n, werr := b.conn.Write(data)
	if werr != nil {
		t.sockets.Close(sid)
		return value.Value{}, taggedf("sock_send_error", "%v", werr)
	}
	return value.Map(map[string]value.Value{"n": value.Uint(uint64(n))}), nil
}

func (t *Table) sockRecv(args map[string]value.Value) (value.Value, error) {
	sid, err := argSid(args)
	if err != nil {
		return value.Value{}, err
	}
	n := argIntDefault(args, "n", 512)
	timeoutMS := argIntDefault(args, "timeout_ms", 5000)

	b, err := t.getSocket(sid)
	if err != nil {
		return value.Value{}, err
	}
	if b.conn == nil {
		t.sockets.Close(sid)
		return value.Value{}, tagged("sock_recv_error", "socket is not connected")
	}

	if err := b.conn.SetReadDeadline(time.Now().Add(time.Duration(timeoutMS) * time.Millisecond)); err != nil {
		t.sockets.Close(sid)
		return value.Value{}, taggedf("sock_recv_error", "%v", err)
	}

	buf := make([]byte, n)
	nn, rerr := b.conn.Read(buf)
	if rerr != nil && !errors.Is(rerr, io.EOF) {
		t.sockets.Close(sid)
		return value.Value{}, taggedf("sock_recv_error", "%v", rerr)
	}
	return value.Map(map[string]value.Value{
		"data": value.Bytes(buf[:nn]),
		"n":    value.Uint(uint64(nn)),
		"eof":  value.Bool(nn == 0 && errors.Is(rerr, io.EOF)),
	}), nil
}

func (t *Table) sockClose(args map[string]value.Value) (value.Value, error) {
	sid, err := argSid(args)
	if err != nil {
		return value.Value{}, err
	}
	if err := t.sockets.Close(sid); err != nil {
		return value.Value{}, taggedf("sock_close_error", "%v", err)
	}
	return value.Bool(true), nil
}

func (t *Table) sockBind(args map[string]value.Value) (value.Value, error) {
	sid, err := argSid(args)
	if err != nil {
		return value.Value{}, err
	}
	b, err := t.getSocket(sid)
	if err != nil {
		return value.Value{}, err
	}
	host := argStringDefault(args, "host", "")
	port := argIntDefault(args, "port", 0)

	if b.typ == sockDgram {
		addr := net.JoinHostPort(fallbackHost(host), strconv.FormatInt(port, 10))
		pc, lerr := net.ListenPacket("udp", addr)
		if lerr != nil {
			return value.Value{}, taggedf("sock_bind_error", "%v", lerr)
		}
		if b.packetConn != nil {
			b.packetConn.Close()
		}
		b.packetConn = pc
		return value.Bool(true), nil
	}

	// TCP has no standalone bind(): the address is recorded and applied
	// together at sock_listen, where Go's net.Listen combines bind+listen.
	b.bindHost = host
	b.bindPort = port
	return value.Bool(true), nil
}

func (t *Table) sockListen(args map[string]value.Value) (value.Value, error) {
	sid, err := argSid(args)
	if err != nil {
		return value.Value{}, err
	}
	b, err := t.getSocket(sid)
	if err != nil {
		return value.Value{}, err
	}
	// backlog has no portable equivalent in net.Listen; accepted for
	// contract compatibility and otherwise ignored.
	_ = argIntDefault(args, "backlog", 5)

	addr := net.JoinHostPort(fallbackHost(b.bindHost), strconv.FormatInt(b.bindPort, 10))
	ln, lerr := net.Listen("tcp", addr)
	if lerr != nil {
		return value.Value{}, taggedf("sock_listen_error", "%v", lerr)
	}
	b.listener = ln
	return value.Bool(true), nil
}

func (t *Table) sockAccept(args map[string]value.Value) (value.Value, error) {
	sid, err := argSid(args)
	if err != nil {
		return value.Value{}, err
	}
	timeoutMS := argIntDefault(args, "timeout_ms", 5000)

	b, err := t.getSocket(sid)
	if err != nil {
		return value.Value{}, err
	}
	if b.listener == nil {
		return value.Value{}, tagged("sock_accept_error", "socket is not listening")
	}

	if tl, ok := b.listener.(*net.TCPListener); ok {
		tl.SetDeadline(time.Now().Add(time.Duration(timeoutMS) * time.Millisecond))
	}

	conn, aerr := b.listener.Accept()
	if aerr != nil {
		return value.Value{}, taggedf("sock_accept_error", "%v", aerr)
	}

	accepted := &boundSocket{family: b.family, typ: sockStream, conn: conn}
	newSid, ierr := t.sockets.Insert(accepted)
	if ierr != nil {
		conn.Close()
		return value.Value{}, taggedf("sock_accept_error", "%v", ierr)
	}

	return value.Map(map[string]value.Value{
		"sid":  value.Uint(uint64(newSid)),
		"addr": remoteAddrTuple(conn.RemoteAddr()),
	}), nil
}

func (t *Table) sockSendto(args map[string]value.Value) (value.Value, error) {
	sid, err := argSid(args)
	if err != nil {
		return value.Value{}, err
	}
	data, ok := argBytes(args, "data")
	if !ok {
		return value.Value{}, tagged("missing_data", "data is required")
	}
	host, hok := argString(args, "host")
	port := argIntDefault(args, "port", 0)
	if !hok || host == "" || port == 0 {
		return value.Value{}, tagged("missing_host_or_port", "host and port are required")
	}

	b, err := t.getSocket(sid)
	if err != nil {
		return value.Value{}, err
	}
	if b.packetConn == nil {
		t.sockets.Close(sid)
		return value.Value{}, tagged("sock_sendto_error", "socket is not a datagram socket")
	}

	addr, rerr := net.ResolveUDPAddr("udp", net.JoinHostPort(host, strconv.FormatInt(port, 10)))
	if rerr != nil {
		t.sockets.Close(sid)
		return value.Value{}, taggedf("sock_sendto_error", "%v", rerr)
	}

	n, werr := b.packetConn.WriteTo(data, addr)
	if werr != nil {
		t.sockets.Close(sid)
		return value.Value{}, taggedf("sock_sendto_error", "%v", werr)
	}
	return value.Map(map[string]value.Value{"n": value.Uint(uint64(n))}), nil
}

func (t *Table) sockRecvfrom(args map[string]value.Value) (value.Value, error) {
	sid, err := argSid(args)
	if err != nil {
		return value.Value{}, err
	}
	n := argIntDefault(args, "n", 512)
	timeoutMS := argIntDefault(args, "timeout_ms", 5000)

	b, err := t.getSocket(sid)
	if err != nil {
		return value.Value{}, err
	}
	if b.packetConn == nil {
		t.sockets.Close(sid)
		return value.Value{}, tagged("sock_recvfrom_error", "socket is not a datagram socket")
	}

	if err := b.packetConn.SetReadDeadline(time.Now().Add(time.Duration(timeoutMS) * time.Millisecond)); err != nil {
		t.sockets.Close(sid)
		return value.Value{}, taggedf("sock_recvfrom_error", "%v", err)
	}

	buf := make([]byte, n)
	nn, addr, rerr := b.packetConn.ReadFrom(buf)
	if rerr != nil {
		t.sockets.Close(sid)
		return value.Value{}, taggedf("sock_recvfrom_error", "%v", rerr)
	}
	return value.Map(map[string]value.Value{
		"data": value.Bytes(buf[:nn]),
		"n":    value.Uint(uint64(nn)),
		"addr": remoteAddrTuple(addr),
	}), nil
}

// sockWrapSSL replicates the source's sock_wrap_ssl behavior exactly,
// including its verify_mode = CERT_NONE choice: the protocol never wired
// up a CA bundle, so this wrapper doesn't invent certificate validation
// the original never had.
func (t *Table) sockWrapSSL(args map[string]value.Value) (value.Value, error) {
	sid, err := argSid(args)
	if err != nil {
		return value.Value{}, err
	}
	b, err := t.getSocket(sid)
	if err != nil {
		return value.Value{}, err
	}
	if b.conn == nil {
		return value.Value{}, tagged("sock_wrap_ssl_error", "socket is not connected")
	}

	serverHostname := argStringDefault(args, "server_hostname", "")
	tlsConn := tls.Client(b.conn, &tls.Config{
		ServerName:         serverHostname,
		InsecureSkipVerify: true,
	})
	if err := tlsConn.Handshake(); err != nil {
		return value.Value{}, taggedf("sock_wrap_ssl_error", "%v", err)
	}
	b.conn = tlsConn
	return value.Bool(true), nil
}

func fallbackHost(host string) string {
	if host == "" {
		return "0.0.0.0"
	}
	return host
}
