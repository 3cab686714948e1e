// Package clientsession implements the microcontroller-side half of the
// bridge protocol: a single blocking Call that assigns sequence numbers,
// retransmits on a timer, and resolves once the proxy's RESP arrives.
package clientsession

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/hexbridge/uartbridge/internal/slip"
	"github.com/hexbridge/uartbridge/internal/uartio"
	"github.com/hexbridge/uartbridge/internal/value"
	"github.com/hexbridge/uartbridge/internal/wire"
)

const (
	maxAcked   = 100
	maxResp    = 50
	respEvict  = 10
	pollPeriod = time.Millisecond
	readChunk  = 4096
	readPollDL = 5 * time.Millisecond
)

// RemoteError wraps a {ok:false, error, detail} response object surfaced
// from the proxy's handler table (spec §7 category 2).
type RemoteError struct {
	Op     string
	Tag    string
	Detail string
}

func (e *RemoteError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Tag)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Tag, e.Detail)
}

// TimeoutError is raised when no RESP for the allocated seq arrives before
// the caller's deadline (spec §7 category 3).
type TimeoutError struct {
	Op string
}

func (e *TimeoutError) Error() string { return fmt.Sprintf("bridge_timeout: %s", e.Op) }

// Session is the client side of the protocol. One in-flight REQ at a time;
// Call serializes concurrent callers with a mutex even though the protocol
// itself never interleaves, matching ipc.Client's single-mutex Call shape.
type Session struct {
	mu sync.Mutex

	port uartio.Port
	dec  *slip.Decoder

	seq   uint16 // next seq to allocate; never 0
	acked map[uint16]struct{}

	resp      map[uint16]value.Response
	respOrder []uint16
}

// New constructs a Session bound to port. maxFrameSize of 0 selects
// slip.DefaultMaxFrameSize.
func New(port uartio.Port, maxFrameSize int) *Session {
	return &Session{
		port:  port,
		dec:   slip.NewDecoder(maxFrameSize),
		seq:   1,
		acked: make(map[uint16]struct{}),
		resp:  make(map[uint16]value.Response),
	}
}

func (s *Session) allocateSeq() uint16 {
	seq := s.seq
	s.seq++
	if s.seq == 0 {
		s.seq = 1
	}
	return seq
}

// Call sends {op, args} as a REQ, retransmitting every resendMS until a
// matching RESP is observed or timeoutMS elapses. It returns the decoded
// result value on success, *RemoteError for a handler-level failure, or
// *TimeoutError if the deadline passes unanswered.
func (s *Session) Call(op string, args map[string]value.Value, timeoutMS, resendMS int) (value.Value, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seq := s.allocateSeq()
	delete(s.acked, seq)
	delete(s.resp, seq)

	payload := value.EncodeRequest(value.Request{Op: op, Args: args})
	reqFrame := wire.Pack(wire.TypeReq, seq, payload)

	deadline := time.Now().Add(time.Duration(timeoutMS) * time.Millisecond)
	resendEvery := time.Duration(resendMS) * time.Millisecond
	var nextSend time.Time

	buf := make([]byte, readChunk)

	for time.Now().Before(deadline) {
		now := time.Now()
		if nextSend.IsZero() || !now.Before(nextSend) {
			if _, err := s.port.Write(reqFrame); err != nil {
				return value.Value{}, fmt.Errorf("clientsession: write req: %w", err)
			}
			nextSend = now.Add(resendEvery)
		}

		n, err := boundedRead(s.port, buf)
		if err != nil {
			return value.Value{}, fmt.Errorf("clientsession: read: %w", err)
		}
		if n > 0 {
			for _, frame := range s.dec.Feed(buf[:n]) {
				s.handleFrame(frame)
			}
		}

		if r, ok := s.resp[seq]; ok {
			delete(s.resp, seq)
			if !r.OK {
				return value.Value{}, &RemoteError{Op: op, Tag: r.Error, Detail: r.Detail}
			}
			return r.Result, nil
		}

		time.Sleep(pollPeriod)
	}

	return value.Value{}, &TimeoutError{Op: op}
}

func (s *Session) handleFrame(frame []byte) {
	pkt, ok := wire.Unpack(frame)
	if !ok {
		return
	}
	switch pkt.Type {
	case wire.TypeAck:
		s.acked[pkt.Seq] = struct{}{}
		if len(s.acked) > maxAcked {
			s.acked = make(map[uint16]struct{})
		}
	case wire.TypeResp:
		ackFrame := wire.Pack(wire.TypeAck, pkt.Seq, nil)
		s.port.Write(ackFrame) //nolint:errcheck // best-effort; a dropped ACK just costs a retransmit

		resp, err := value.DecodeResponse(pkt.Payload)
		if err != nil {
			resp = value.Response{OK: false, Error: "bad_payload", Detail: err.Error()}
		}
		s.storeResp(pkt.Seq, resp)
	}
}

func (s *Session) storeResp(seq uint16, resp value.Response) {
	if _, exists := s.resp[seq]; !exists {
		s.respOrder = append(s.respOrder, seq)
	}
	s.resp[seq] = resp

	if len(s.resp) > maxResp {
		evict := respEvict
		if evict > len(s.respOrder) {
			evict = len(s.respOrder)
		}
		for _, old := range s.respOrder[:evict] {
			delete(s.resp, old)
		}
		s.respOrder = s.respOrder[evict:]
	}
}

// boundedRead reads from port, bounding the wait so the caller's timer
// loop stays responsive. Ports that support deadlines (net.Conn-backed
// test doubles) get one set per call; real serial ports already carry a
// short read timeout from uartio.Open and return promptly on their own.
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
