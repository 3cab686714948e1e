package dispatch

import (
	"encoding/binary"
	"fmt"
	"net"
	"time"
)

// ntpEpochOffset is the number of seconds between the NTP epoch (1900) and
// the Unix epoch (1970).
const ntpEpochOffset = 2208988800

// sntpNow performs a minimal SNTP v3/v4 client-mode query (RFC 4330) and
// returns the server's transmit timestamp. No SNTP client library appears
// anywhere in the retrieved corpus, so this is hand-rolled against the
// standard library's net package, following the same 48-byte wire layout
// every SNTP implementation shares.
func sntpNow(host string) (time.Time, error) {
	conn, err := net.DialTimeout("udp", net.JoinHostPort(host, "123"), 5*time.Second)
	if err != nil {
		return time.Time{}, err
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(5 * time.Second)); err != nil {
		return time.Time{}, err
	}

	var req [48]byte
	req[0] = 0x1B // LI=0, VN=3, Mode=3 (client)
	if _, err := conn.Write(req[:]); err != nil {
		return time.Time{}, err
	}

	var resp [48]byte
	n, err := conn.Read(resp[:])
	if err != nil {
		return time.Time{}, err
	}
	if n < 48 {
		return time.Time{}, fmt.Errorf("sntp: short reply (%d bytes)", n)
	}

	secs := binary.BigEndian.Uint32(resp[40:44])
	if secs < ntpEpochOffset {
		return time.Time{}, fmt.Errorf("sntp: implausible transmit timestamp")
	}
	frac := binary.BigEndian.Uint32(resp[44:48])
	unixSecs := int64(secs) - ntpEpochOffset
	nanos := int64(float64(frac) / (1 << 32) * 1e9)
	return time.Unix(unixSecs, nanos), nil
}

// localNonLoopbackAddrs lists CIDR-notation strings ("ip/prefix") for every
// non-loopback interface address, used as the ifconfig stand-in for
// wifi_status.
func localNonLoopbackAddrs() ([]string, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, err
	}
	var out []string
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		out = append(out, a.String())
	}
	return out, nil
}
