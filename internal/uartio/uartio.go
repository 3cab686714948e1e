// Package uartio wraps the physical UART transport behind a narrow Port
// interface so both session halves (internal/bridge/clientsession and
// internal/bridge/proxysession) can be driven against real hardware via
// go.bug.st/serial or against an in-memory FakePort in tests.
package uartio

import (
	"io"
	"time"

	"go.bug.st/serial"
)

// DefaultBaud matches the link's default physical rate (spec §6).
const DefaultBaud = 1_400_000

// Port is the minimal byte-stream contract the bridge sessions need: a
// non-blocking-ish Read with a bounded wait, and Write.
type Port interface {
	io.ReadWriter
	io.Closer
}

// Open opens the named serial device at baud, 8-N-1, with a short read
// timeout so session polling loops can interleave send/resend timers with
// inbound byte draining (spec §4.3/§4.4: "poll UART for available bytes").
func Open(name string, baud int) (Port, error) {
	if baud <= 0 {
		baud = DefaultBaud
	}
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(name, mode)
	if err != nil {
		return nil, err
	}
	if err := port.SetReadTimeout(10 * time.Millisecond); err != nil {
		port.Close()
		return nil, err
	}
	return port, nil
}
