// bridge-proxy is the Wi-Fi-side half of the UART bridge: it owns the RPC
// dispatch table and real OS sockets, and answers requests the client end
// forwards across the serial link.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/hexbridge/uartbridge/internal/bridge/proxysession"
	"github.com/hexbridge/uartbridge/internal/config"
	"github.com/hexbridge/uartbridge/internal/dispatch"
	"github.com/hexbridge/uartbridge/internal/uartio"
)

func main() {
	cfg, err := config.LoadWithFlags("bridge-proxy", os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "bridge-proxy: %v\n", err)
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
		slog.Error("bridge-proxy exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	port, err := openPort(cfg)
	if err != nil {
		return fmt.Errorf("open uart: %w", err)
	}
	defer port.Close()

	table := dispatch.New(cfg.NTPHost)
	defer table.Sockets().CloseAll()

	session := proxysession.New(port, table, cfg.MaxFrameSize)

	slog.Info("bridge-proxy ready", "uart", cfg.UART, "baud", cfg.Baud)
	return session.Run()
}

func openPort(cfg config.Config) (uartio.Port, error) {
	return uartio.Open(cfg.UART, cfg.Baud)
}
