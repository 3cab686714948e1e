package dispatch

import (
	"fmt"
	"net"
	"time"

	"github.com/miekg/dns"

	"github.com/hexbridge/uartbridge/internal/value"
)

const resolvConfPath = "/etc/resolv.conf"

// dnsLookup implements the "dns" op: a getaddrinfo-style lookup returning
// address tuples [af, type, proto, canon, sockaddr], resolved via
// github.com/miekg/dns against the system's configured resolver.
func (t *Table) dnsLookup(args map[string]value.Value) (value.Value, error) {
	host, ok := argString(args, "host")
	if !ok || host == "" {
		return value.Value{}, tagged("missing_host", "host is required")
	}
	port := argIntDefault(args, "port", 80)
	family := argIntDefault(args, "family", afUnspec)
	typ := argIntDefault(args, "type", sockStream)
	proto := argIntDefault(args, "proto", 0)

	records, err := resolveHost(host, family)
	if err != nil {
		return value.Value{}, taggedf("dns_error", "%v", err)
	}

	results := make([]value.Value, 0, len(records))
	for _, rec := range records {
		sockaddr := value.Array(value.Text(rec.ip), value.Uint(uint64(port)))
		results = append(results, value.Array(
			value.Int(rec.af),
			value.Int(typ),
			value.Int(proto),
			value.Text(host),
			sockaddr,
		))
	}
	return value.Array(results...), nil
}

type resolvedAddr struct {
	af int64
	ip string
}

func resolveHost(host string, family int64) ([]resolvedAddr, error) {
	server, err := resolverAddr()
	if err != nil {
		return nil, err
	}

	client := &dns.Client{Timeout: 3 * time.Second}

	var qtypes []uint16
	switch family {
	case afInet:
		qtypes = []uint16{dns.TypeA}
	case afInet6:
		qtypes = []uint16{dns.TypeAAAA}
	default:
		qtypes = []uint16{dns.TypeA, dns.TypeAAAA}
	}

	var addrs []resolvedAddr
	var lastErr error
	for _, qtype := range qtypes {
		msg := new(dns.Msg)
		msg.SetQuestion(dns.Fqdn(host), qtype)
		msg.RecursionDesired = true

		resp, _, err := client.Exchange(msg, server)
		if err != nil {
			lastErr = err
			continue
		}
		for _, rr := range resp.Answer {
			switch rec := rr.(type) {
			case *dns.A:
				addrs = append(addrs, resolvedAddr{af: afInet, ip: rec.A.String()})
			case *dns.AAAA:
				addrs = append(addrs, resolvedAddr{af: afInet6, ip: rec.AAAA.String()})
			}
		}
	}

	if len(addrs) == 0 {
		if lastErr != nil {
			return nil, fmt.Errorf("resolving %q: %w", host, lastErr)
		}
		return nil, fmt.Errorf("no address records for %q", host)
	}
	return addrs, nil
}

func resolverAddr() (string, error) {
	cfg, err := dns.ClientConfigFromFile(resolvConfPath)
	if err != nil || len(cfg.Servers) == 0 {
		return net.JoinHostPort("127.0.0.1", "53"), nil
	}
	port := cfg.Port
	if port == "" {
		port = "53"
	}
	return net.JoinHostPort(cfg.Servers[0], port), nil
}
