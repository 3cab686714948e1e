package uartio

import "net"

// FakePort is an in-memory Port backed by a net.Conn half of a net.Pipe,
// letting tests exercise client/proxy sessions without real hardware.
type FakePort struct {
	net.Conn
}

// NewFakePortPair returns two connected Ports: bytes written to one are
// readable from the other, modeling the two ends of a UART link.
func NewFakePortPair() (a, b Port) {
	ca, cb := net.Pipe()
	return &FakePort{Conn: ca}, &FakePort{Conn: cb}
}
