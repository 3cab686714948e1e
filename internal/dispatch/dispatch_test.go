package dispatch

import (
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/hexbridge/uartbridge/internal/value"
)

func TestUnknownOpIsTagged(t *testing.T) {
	tbl := New("pool.ntp.org")
	resp := tbl.Dispatch("not_a_real_op", nil)
	if resp.OK {
		t.Fatalf("expected ok:false for an unknown op")
	}
	if resp.Error != "unknown_op" || resp.Detail != "not_a_real_op" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestPanicBecomesExceptionResponse(t *testing.T) {
	tbl := New("pool.ntp.org")
	tbl.ops["boom"] = func(args map[string]value.Value) (value.Value, error) {
		panic("kaboom")
	}
	resp := tbl.Dispatch("boom", nil)
	if resp.OK || resp.Error != "exception" {
		t.Fatalf("expected an exception response, got %+v", resp)
	}
}

func TestPing(t *testing.T) {
	tbl := New("pool.ntp.org")
	resp := tbl.Dispatch("ping", nil)
	if !resp.OK {
		t.Fatalf("ping failed: %+v", resp)
	}
	m, _ := resp.Result.AsMap()
	if pong, _ := m["pong"].AsBool(); !pong {
		t.Fatalf("expected pong:true, got %+v", m)
	}
	if echo, _ := m["echo"].AsText(); echo != "I see you, you see me" {
		t.Fatalf("unexpected echo: %q", echo)
	}
}

func TestGetTime(t *testing.T) {
	tbl := New("pool.ntp.org")
	resp := tbl.Dispatch("get_time", nil)
	if !resp.OK {
		t.Fatalf("get_time failed: %+v", resp)
	}
	m, _ := resp.Result.AsMap()
	if _, ok := m["time"].AsUint64(); !ok {
		t.Fatalf("expected a time field, got %+v", m)
	}
}

func TestSockSendUnknownSidIsInvalid(t *testing.T) {
	tbl := New("pool.ntp.org")
	resp := tbl.Dispatch("sock_send", map[string]value.Value{
		"sid":  value.Uint(9999),
		"data": value.Bytes([]byte("x")),
	})
	if resp.OK || resp.Error != "invalid_sid" {
		t.Fatalf("expected invalid_sid, got %+v", resp)
	}
}

func TestSockSendErrorClosesSid(t *testing.T) {
	tbl := New("pool.ntp.org")
	openResp := tbl.Dispatch("sock_open", map[string]value.Value{"type": value.Uint(sockStream)})
	sid, _ := openResp.Result.AsMap()
	sidVal, _ := sid["sid"].AsUint64()

	// Never connected, so Write on a nil conn path surfaces sock_send_error
	// and must implicitly close the sid (spec P9).
	sendResp := tbl.Dispatch("sock_send", map[string]value.Value{
		"sid":  value.Uint(sidVal),
		"data": value.Bytes([]byte("hi")),
	})
	if sendResp.OK {
		t.Fatalf("expected sock_send to fail on an unconnected socket")
	}

	closeResp := tbl.Dispatch("sock_send", map[string]value.Value{
		"sid":  value.Uint(sidVal),
		"data": value.Bytes([]byte("hi")),
	})
	if closeResp.OK || closeResp.Error != "invalid_sid" {
		t.Fatalf("expected the sid to have been closed after the failed send, got %+v", closeResp)
	}
}

func TestSockConnectSendRecvRoundTrip(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 5)
		conn.Read(buf)
		conn.Write([]byte("pong!"))
	}()

	host, port, _ := net.SplitHostPort(ln.Addr().String())
	tbl := New("pool.ntp.org")

	openResp := tbl.Dispatch("sock_open", nil)
	sidMap, _ := openResp.Result.AsMap()
	sid, _ := sidMap["sid"].AsUint64()

	portNum, err := strconv.ParseInt(port, 10, 32)
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}

	connectResp := tbl.Dispatch("sock_connect", map[string]value.Value{
		"sid":  value.Uint(sid),
		"host": value.Text(host),
		"port": value.Int(portNum),
	})
	if !connectResp.OK {
		t.Fatalf("sock_connect failed: %+v", connectResp)
	}

	sendResp := tbl.Dispatch("sock_send", map[string]value.Value{
		"sid":  value.Uint(sid),
		"data": value.Bytes([]byte("hello")),
	})
	if !sendResp.OK {
		t.Fatalf("sock_send failed: %+v", sendResp)
	}

	recvResp := tbl.Dispatch("sock_recv", map[string]value.Value{
		"sid":        value.Uint(sid),
		"n":          value.Int(5),
		"timeout_ms": value.Int(2000),
	})
	if !recvResp.OK {
		t.Fatalf("sock_recv failed: %+v", recvResp)
	}
	m, _ := recvResp.Result.AsMap()
	data, _ := m["data"].AsBytes()
	if string(data) != "pong!" {
		t.Fatalf("unexpected recv data: %q", data)
	}
}

func TestSockResetClosesAllSockets(t *testing.T) {
	tbl := New("pool.ntp.org")
	for i := 0; i < 3; i++ {
		tbl.Dispatch("sock_open", nil)
	}
	if tbl.Sockets().Len() != 3 {
		t.Fatalf("expected 3 open sockets before reset, got %d", tbl.Sockets().Len())
	}
	resp := tbl.Dispatch("sock_reset", nil)
	if !resp.OK {
		t.Fatalf("sock_reset failed: %+v", resp)
	}
	if tbl.Sockets().Len() != 0 {
		t.Fatalf("expected 0 open sockets after reset, got %d", tbl.Sockets().Len())
	}
}

func TestSockBindListenAccept(t *testing.T) {
	tbl := New("pool.ntp.org")
	openResp := tbl.Dispatch("sock_open", nil)
	sidMap, _ := openResp.Result.AsMap()
	sid, _ := sidMap["sid"].AsUint64()

	bindResp := tbl.Dispatch("sock_bind", map[string]value.Value{
		"sid":  value.Uint(sid),
		"host": value.Text("127.0.0.1"),
		"port": value.Int(0),
	})
	if !bindResp.OK {
		t.Fatalf("sock_bind failed: %+v", bindResp)
	}

	listenResp := tbl.Dispatch("sock_listen", map[string]value.Value{"sid": value.Uint(sid)})
	if !listenResp.OK {
		t.Fatalf("sock_listen failed: %+v", listenResp)
	}

	b, _ := tbl.getSocket(int(sid))
	addr := b.listener.Addr().String()

	accepted := make(chan struct{})
	go func() {
		resp := tbl.Dispatch("sock_accept", map[string]value.Value{
			"sid":        value.Uint(sid),
			"timeout_ms": value.Int(2000),
		})
		if !resp.OK {
			t.Errorf("sock_accept failed: %+v", resp)
		}
		close(accepted)
	}()

	time.Sleep(10 * time.Millisecond)
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("client dial: %v", err)
	}
	defer conn.Close()

	select {
	case <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatalf("sock_accept did not complete in time")
	}
}
