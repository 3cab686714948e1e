// Package config loads the bridge's runtime configuration from an optional
// YAML file, with command-line flags layered on top as overrides.
package config

import (
	"flag"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable the client and proxy binaries share plus the
// handful specific to each side.
type Config struct {
	UART     string `yaml:"uart"`
	Baud     int    `yaml:"baud"`
	LogLevel string `yaml:"log_level"`

	MaxFrameSize int `yaml:"max_frame_size"`

	// Client-only.
	TimeoutMS int `yaml:"timeout_ms"`
	ResendMS  int `yaml:"resend_ms"`

	// Proxy-only.
	NTPHost string `yaml:"ntp_host"`
}

// Default returns a Config populated with the protocol's documented
// defaults (spec §4.3/§4.5/§6), before any file or flag overrides.
func Default() Config {
	return Config{
		UART:         "",
		Baud:         1_400_000,
		LogLevel:     "info",
		MaxFrameSize: 8192,
		TimeoutMS:    7000,
		ResendMS:     250,
		NTPHost:      "pool.ntp.org",
	}
}

// Load reads path as YAML over the documented defaults. A missing file is
// not an error — it just means "use the defaults", matching how a freshly
// flashed node has no config file yet.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Debug("no config file found, using defaults", "path", path)
			return cfg, nil
		}
		return cfg, err
	}

	const maxConfigSize = 1 << 20
	if info.Size() > maxConfigSize {
		slog.Warn("config file too large, using defaults", "path", path, "size", info.Size())
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}

	slog.Info("loaded config", "path", path)
	return cfg, nil
}

// RegisterFlags binds cfg's fields to flag set fs so command-line values
// override whatever Load produced. Call after Load, before fs.Parse.
func RegisterFlags(fs *flag.FlagSet, cfg *Config) {
	fs.StringVar(&cfg.UART, "uart", cfg.UART, "UART device path")
	fs.IntVar(&cfg.Baud, "baud", cfg.Baud, "UART baud rate")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	fs.IntVar(&cfg.TimeoutMS, "timeout-ms", cfg.TimeoutMS, "client call deadline in milliseconds")
	fs.IntVar(&cfg.ResendMS, "resend-ms", cfg.ResendMS, "client REQ retransmit interval in milliseconds")
}

// LoadWithFlags parses args against a single FlagSet carrying -config plus
// every field RegisterFlags exposes, then returns the config file's contents
// with only the flags actually passed on the command line overlaid on top.
// Both binaries share this so -config, -uart, -baud, -log-level,
// -timeout-ms, and -resend-ms are all recognized by the same parse instead of
// a config file path needing to survive a flag set that doesn't know about
// the rest of the overrides yet.
func LoadWithFlags(progName string, args []string) (Config, error) {
	fs := flag.NewFlagSet(progName, flag.ExitOnError)
	configPath := fs.String("config", "", "path to a YAML config file (optional)")
	overrides := Default()
	RegisterFlags(fs, &overrides)
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg, err := Load(*configPath)
	if err != nil {
		return Config{}, err
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "uart":
			cfg.UART = overrides.UART
		case "baud":
			cfg.Baud = overrides.Baud
		case "log-level":
			cfg.LogLevel = overrides.LogLevel
		case "timeout-ms":
			cfg.TimeoutMS = overrides.TimeoutMS
		case "resend-ms":
			cfg.ResendMS = overrides.ResendMS
		}
	})
	return cfg, nil
}

// Timeout and Resend convert the millisecond fields to time.Duration for
// callers that don't want to repeat the unit conversion.
func (c Config) Timeout() time.Duration { return time.Duration(c.TimeoutMS) * time.Millisecond }
func (c Config) Resend() time.Duration  { return time.Duration(c.ResendMS) * time.Millisecond }

// ParseLogLevel maps the configured level string to an slog.Level, falling
// back to Info for anything unrecognized.
func ParseLogLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
