// Package dispatch implements the proxy-side RPC operation table: a closed
// map from op name to handler, each mapping an argument map to either a
// result value or a tagged remote error.
package dispatch

import (
	"fmt"
	"time"

	"github.com/hexbridge/uartbridge/internal/socktable"
	"github.com/hexbridge/uartbridge/internal/value"
)

// Handler executes one operation against its decoded argument map.
type Handler func(args map[string]value.Value) (value.Value, error)

// opError carries the short machine-readable tag the protocol contract
// requires alongside a human-readable detail string.
type opError struct {
	tag    string
	detail string
}

func (e *opError) Error() string { return fmt.Sprintf("%s: %s", e.tag, e.detail) }

func tagged(tag string, detail string) error { return &opError{tag: tag, detail: detail} }

func taggedf(tag, format string, args ...any) error {
	return &opError{tag: tag, detail: fmt.Sprintf(format, args...)}
}

// Table is the closed RPC dispatch table plus the socket table it mutates.
// One Table instance belongs to exactly one proxysession.Session.
type Table struct {
	sockets *socktable.Table
	ntpHost string
	started time.Time
	ops     map[string]Handler
}

// New constructs a Table. ntpHost is the fallback NTP server used by
// set_time when the request omits one.
func New(ntpHost string) *Table {
	t := &Table{
		sockets: socktable.NewTable(),
		ntpHost: ntpHost,
		started: time.Now(),
	}
	t.ops = map[string]Handler{
		"ping":            t.ping,
		"get_time":        t.getTime,
		"set_time":        t.setTime,
		"wifi_status":     t.wifiStatus,
		"dns":             t.dnsLookup,
		"sock_open":       t.sockOpen,
		"sock_settimeout": t.sockSettimeout,
		"sock_connect":    t.sockConnect,
		"sock_send":       t.sockSend,
		"sock_recv":       t.sockRecv,
		"sock_close":      t.sockClose,
		"sock_bind":       t.sockBind,
		"sock_listen":     t.sockListen,
		"sock_accept":     t.sockAccept,
		"sock_sendto":     t.sockSendto,
		"sock_recvfrom":   t.sockRecvfrom,
		"sock_wrap_ssl":   t.sockWrapSSL,
		"sock_reset":      t.sockReset,
	}
	return t
}

// Sockets exposes the underlying socket table, mainly for proxy shutdown
// (CloseAll) and tests.
func (t *Table) Sockets() *socktable.Table { return t.sockets }

// Dispatch runs op against args, converting the handler's return into the
// wire-level response object. The table is closed: an op absent from it
// always yields unknown_op, and a handler panic is converted to an
// "exception" response rather than crashing the event loop (spec §7
// propagation policy).
func (t *Table) Dispatch(op string, args map[string]value.Value) (resp value.Response) {
	h, ok := t.ops[op]
	if !ok {
		return value.Response{OK: false, Error: "unknown_op", Detail: op}
	}

	defer func() {
		if r := recover(); r != nil {
			resp = value.Response{OK: false, Error: "exception", Detail: fmt.Sprintf("%v", r)}
		}
	}()

	result, err := h(args)
	if err != nil {
		if oe, ok := err.(*opError); ok {
			return value.Response{OK: false, Error: oe.tag, Detail: oe.detail}
		}
		return value.Response{OK: false, Error: "exception", Detail: err.Error()}
	}
	return value.Response{OK: true, Result: result}
}
