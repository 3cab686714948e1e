// bridge-client is the microcontroller-side half of the UART bridge: an
// interactive REPL that drives internal/bridge/clientsession.Session to
// issue ping/dns/http-get calls across the serial link to a running
// bridge-proxy.
package main

import (
	"bufio"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"

	"github.com/hexbridge/uartbridge/internal/bridge/clientsession"
	"github.com/hexbridge/uartbridge/internal/config"
	"github.com/hexbridge/uartbridge/internal/uartio"
	"github.com/hexbridge/uartbridge/internal/value"
)

func main() {
	cfg, err := config.LoadWithFlags("bridge-client", os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "bridge-client: %v\n", err)
		os.Exit(1)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: config.ParseLogLevel(cfg.LogLevel),
	})))

	if cfg.UART == "" {
		slog.Error("no UART device configured; pass -uart or set uart: in the config file")
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		slog.Error("bridge-client exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	port, err := uartio.Open(cfg.UART, cfg.Baud)
	if err != nil {
		return fmt.Errorf("open uart: %w", err)
	}
	defer port.Close()

	session := clientsession.New(port, cfg.MaxFrameSize)
	repl := &repl{session: session, cfg: cfg, out: os.Stdout}
	return repl.run(os.Stdin)
}

// repl implements the handful of interactive commands a human operator uses
// to exercise the bridge from the microcontroller side: ping, dns, and a
// minimal http-get that walks the socket ops by hand.
type repl struct {
	session     *clientsession.Session
	cfg         config.Config
	out         *os.File
	interactive bool
}

func (r *repl) run(in *os.File) error {
	r.interactive = term.IsTerminal(int(in.Fd()))
	scanner := bufio.NewScanner(in)
	fmt.Fprintln(r.out, "bridge-client ready. commands: ping | dns <host> | http-get <url> | quit")
	for {
		if r.interactive {
			fmt.Fprint(r.out, "> ")
		}
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		switch fields[0] {
		case "quit", "exit":
			return nil
		case "ping":
			r.cmdPing()
		case "dns":
			if len(fields) != 2 {
				fmt.Fprintln(r.out, "usage: dns <host>")
				continue
			}
			r.cmdDNS(fields[1])
		case "http-get":
			if len(fields) != 2 {
				fmt.Fprintln(r.out, "usage: http-get <url>")
				continue
			}
			r.cmdHTTPGet(fields[1])
		default:
			fmt.Fprintf(r.out, "unknown command %q\n", fields[0])
		}
	}
}

func (r *repl) call(op string, args map[string]value.Value) (value.Value, error) {
	return r.session.Call(op, args, r.cfg.TimeoutMS, r.cfg.ResendMS)
}

func (r *repl) cmdPing() {
	result, err := r.call("ping", nil)
	if err != nil {
		fmt.Fprintf(r.out, "ping failed: %v\n", err)
		return
	}
	m, _ := result.AsMap()
	echo, _ := m["echo"].AsText()
	fmt.Fprintf(r.out, "pong: %s\n", echo)
}

func (r *repl) cmdDNS(host string) {
	result, err := r.call("dns", map[string]value.Value{"host": value.Text(host)})
	if err != nil {
		fmt.Fprintf(r.out, "dns failed: %v\n", err)
		return
	}
	records, _ := result.AsArray()
	for _, rec := range records {
		tuple, _ := rec.AsArray()
		if len(tuple) < 5 {
			continue
		}
		sockaddr, _ := tuple[4].AsArray()
		if len(sockaddr) < 1 {
			continue
		}
		ip, _ := sockaddr[0].AsText()
		fmt.Fprintln(r.out, ip)
	}
}

// cmdHTTPGet drives the socket RPCs by hand to fetch a plain HTTP URL over
// the bridge, the same sequence an ESP32 client would issue: open, connect
// (the proxy resolves the host name), send the request, then drain the
// response and close.
func (r *repl) cmdHTTPGet(rawURL string) {
	u, err := url.Parse(rawURL)
	if err != nil {
		fmt.Fprintf(r.out, "invalid url: %v\n", err)
		return
	}
	if u.Scheme != "http" {
		fmt.Fprintln(r.out, "only http:// URLs are supported")
		return
	}
	host := u.Hostname()
	port := u.Port()
	if port == "" {
		port = "80"
	}
	path := u.RequestURI()
	if path == "" {
		path = "/"
	}

	openResult, err := r.call("sock_open", map[string]value.Value{"type": value.Int(1)})
	if err != nil {
		fmt.Fprintf(r.out, "sock_open failed: %v\n", err)
		return
	}
	sidMap, _ := openResult.AsMap()
	sid, _ := sidMap["sid"].AsUint64()

	portNum, err := strconv.Atoi(port)
	if err != nil {
		fmt.Fprintf(r.out, "invalid port %q: %v\n", port, err)
		return
	}

	_, err = r.call("sock_connect", map[string]value.Value{
		"sid":  value.Uint(sid),
		"host": value.Text(host),
		"port": value.Int(int64(portNum)),
	})
	if err != nil {
		fmt.Fprintf(r.out, "sock_connect failed: %v\n", err)
		return
	}

	request := fmt.Sprintf("GET %s HTTP/1.0\r\nHost: %s\r\nConnection: close\r\n\r\n", path, host)
	_, err = r.call("sock_send", map[string]value.Value{
		"sid":  value.Uint(sid),
		"data": value.Bytes([]byte(request)),
	})
	if err != nil {
		fmt.Fprintf(r.out, "sock_send failed: %v\n", err)
		return
	}

	for {
		recvResult, err := r.call("sock_recv", map[string]value.Value{
			"sid":        value.Uint(sid),
			"n":          value.Int(1024),
			"timeout_ms": value.Int(5000),
		})
		if err != nil {
			if _, ok := err.(*clientsession.RemoteError); ok {
				break
			}
			fmt.Fprintf(r.out, "sock_recv failed: %v\n", err)
			return
		}
		m, _ := recvResult.AsMap()
		data, _ := m["data"].AsBytes()
		if len(data) == 0 {
			break
		}
		r.out.Write(data)
	}
	fmt.Fprintln(r.out)

	if _, err := r.call("sock_close", map[string]value.Value{"sid": value.Uint(sid)}); err != nil {
		fmt.Fprintf(r.out, "sock_close failed: %v\n", err)
	}
}
