// Package proxysession implements the Wi-Fi-side half of the bridge
// protocol: a single-threaded cooperative loop that ACKs every REQ/RESP it
// sees, deduplicates retransmitted REQs against a bounded response cache,
// and dispatches fresh requests to the RPC table.
package proxysession

import (
	"net"
	"sync/atomic"
	"time"

	"github.com/hexbridge/uartbridge/internal/slip"
	"github.com/hexbridge/uartbridge/internal/uartio"
	"github.com/hexbridge/uartbridge/internal/value"
	"github.com/hexbridge/uartbridge/internal/wire"
)

const (
	maxCacheEntries = 16
	idleSleep       = time.Millisecond
	readChunk       = 4096
	readPollDL      = 5 * time.Millisecond
)

// Dispatcher executes a decoded request and returns its response object.
// internal/dispatch.Table is the production implementation.
type Dispatcher interface {
	Dispatch(op string, args map[string]value.Value) value.Response
}

// ResponseCache is the proxy's bounded FIFO mapping seq to an already-
// encoded RESP frame (spec §3 "Response cache"). At most maxCacheEntries
// are retained; a retransmitted REQ whose seq has fallen out of this
// window is re-executed rather than deduplicated — callers must size
// resend_ms/timeout_ms so retransmits stay inside the window.
type ResponseCache struct {
	entries map[uint16][]byte
	order   []uint16
}

// NewResponseCache constructs an empty cache.
func NewResponseCache() *ResponseCache {
	return &ResponseCache{entries: make(map[uint16][]byte)}
}

// Get returns the cached encoded RESP frame for seq, if any.
func (c *ResponseCache) Get(seq uint16) ([]byte, bool) {
	frame, ok := c.entries[seq]
	return frame, ok
}

// Insert records frame under seq, evicting the oldest entry on overflow.
func (c *ResponseCache) Insert(seq uint16, frame []byte) {
	if _, exists := c.entries[seq]; !exists {
		c.order = append(c.order, seq)
	}
	c.entries[seq] = frame

	if len(c.entries) > maxCacheEntries {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
}

// Remove drops seq from the cache, called when the peer's ACK arrives.
func (c *ResponseCache) Remove(seq uint16) {
	if _, ok := c.entries[seq]; !ok {
		return
	}
	delete(c.entries, seq)
	for i, s := range c.order {
		if s == seq {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// Len reports the number of cached responses.
func (c *ResponseCache) Len() int { return len(c.entries) }

// Session runs the proxy's poll-dispatch loop over a single UART port.
type Session struct {
	port       uartio.Port
	dec        *slip.Decoder
	dispatcher Dispatcher
	cache      *ResponseCache
	closed     atomic.Bool
}

// New constructs a Session. maxFrameSize of 0 selects
// slip.DefaultMaxFrameSize.
func New(port uartio.Port, dispatcher Dispatcher, maxFrameSize int) *Session {
	return &Session{
		port:       port,
		dec:        slip.NewDecoder(maxFrameSize),
		dispatcher: dispatcher,
		cache:      NewResponseCache(),
	}
}

// Cache exposes the response cache, mainly for tests asserting P7/P8.
func (s *Session) Cache() *ResponseCache { return s.cache }

// Run blocks, polling the UART and dispatching requests, until Close is
// called from another goroutine or the port returns a non-timeout error.
func (s *Session) Run() error {
	buf := make([]byte, readChunk)
	for !s.closed.Load() {
		n, err := boundedRead(s.port, buf)
		if err != nil {
			return err
		}
		if n == 0 {
			time.Sleep(idleSleep)
			continue
		}
		for _, frame := range s.dec.Feed(buf[:n]) {
			s.handleFrame(frame)
		}
	}
	return nil
}

// Close stops Run after its current poll iteration.
func (s *Session) Close() { s.closed.Store(true) }

func (s *Session) handleFrame(frame []byte) {
	pkt, ok := wire.Unpack(frame)
	if !ok {
		return
	}

	switch pkt.Type {
	case wire.TypeReq, wire.TypeResp:
		ack := wire.Pack(wire.TypeAck, pkt.Seq, nil)
		s.port.Write(ack) //nolint:errcheck // best-effort; a dropped ACK just costs a retransmit
	}

	switch pkt.Type {
	case wire.TypeAck:
		s.cache.Remove(pkt.Seq)
	case wire.TypeReq:
		s.handleReq(pkt.Seq, pkt.Payload)
	}
}

func (s *Session) handleReq(seq uint16, payload []byte) {
	if cached, ok := s.cache.Get(seq); ok {
		s.port.Write(cached)
		return
	}

	req, err := value.DecodeRequest(payload)
	var resp value.Response
	if err != nil {
		resp = value.Response{OK: false, Error: "bad_payload", Detail: err.Error()}
	} else {
		resp = s.dispatcher.Dispatch(req.Op, req.Args)
	}

	var respPayload []byte
	if resp.OK {
		respPayload = value.EncodeResponseOK(resp.Result)
	} else {
		respPayload = value.EncodeResponseErr(resp.Error, resp.Detail)
	}

	frame := wire.Pack(wire.TypeResp, seq, respPayload)
	s.cache.Insert(seq, frame)
	s.port.Write(frame)
}

func boundedRead(port uartio.Port, buf []byte) (int, error) {
	if dl, ok := port.(interface{ SetReadDeadline(time.Time) error }); ok {
		dl.SetReadDeadline(time.Now().Add(readPollDL))
	}
	n, err := port.Read(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return n, nil
		}
		return n, err
	}
	return n, nil
}
