package dispatch

import (
	"time"

	"github.com/hexbridge/uartbridge/internal/value"
)

// Address-family and socket-type constants mirror the BSD socket numbering
// the source protocol's args/results carry across the wire (spec §4.5):
// family 2/10 are AF_INET/AF_INET6, type 1/2 are SOCK_STREAM/SOCK_DGRAM.
const (
	afUnspec = 0
	afInet   = 2
	afInet6  = 10

	sockStream = 1
	sockDgram  = 2
)

func (t *Table) ping(args map[string]value.Value) (value.Value, error) {
	return value.Map(map[string]value.Value{
		"pong": value.Bool(true),
		"t_ms": value.Uint(uint64(time.Since(t.started).Milliseconds())),
		"echo": value.Text("I see you, you see me"),
	}), nil
}

func (t *Table) getTime(args map[string]value.Value) (value.Value, error) {
	return value.Map(map[string]value.Value{
		"time": value.Uint(uint64(time.Now().Unix())),
	}), nil
}

func (t *Table) setTime(args map[string]value.Value) (value.Value, error) {
	host := argStringDefault(args, "host", t.ntpHost)
	now, err := sntpNow(host)
	if err != nil {
		return value.Value{}, taggedf("ntp_host_unreachable", "ntp server %s not responding: %v", host, err)
	}
	return value.Map(map[string]value.Value{
		"time": value.Uint(uint64(now.Unix())),
	}), nil
}

// wifiStatus reports host network reachability as a stand-in for Wi-Fi
// association state; actual Wi-Fi stack management is an external
// collaborator out of this protocol's scope (spec §1).
func (t *Table) wifiStatus(args map[string]value.Value) (value.Value, error) {
	ifaces, err := localNonLoopbackAddrs()
	if err != nil || len(ifaces) == 0 {
		return value.Map(map[string]value.Value{
			"connected": value.Bool(false),
			"ifconfig":  value.Null(),
		}), nil
	}

	addrVals := make([]value.Value, len(ifaces))
	for i, a := range ifaces {
		addrVals[i] = value.Text(a)
	}
	return value.Map(map[string]value.Value{
		"connected": value.Bool(true),
		"ifconfig":  value.Array(addrVals...),
	}), nil
}

func (t *Table) sockReset(args map[string]value.Value) (value.Value, error) {
	t.sockets.CloseAll()
	return value.Bool(true), nil
}
