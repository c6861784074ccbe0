package config

import (
	"flag"
	"fmt"
	"os"

	toml "github.com/pelletier/go-toml/v2"
)

// Flags holds command-line flag and positional-argument values.
type Flags struct {
	ConfigPath     string
	SMTPPort       string
	POP3Port       string
	Hostname       string
	LogLevel       string
	MaxConnections int
	StorePath      string
}

// ParseFlags parses command-line flags and the positional store path,
// matching the bridgemail CLI: bridgemail [-s smtp_port] [-p pop3_port] <path-to-store>.
func ParseFlags() *Flags {
	f := &Flags{}

	flag.StringVar(&f.ConfigPath, "config", "", "path to an optional TOML configuration overlay")
	flag.StringVar(&f.SMTPPort, "s", "25", "SMTP listen port")
	flag.StringVar(&f.POP3Port, "p", "110", "POP3 listen port")
	flag.StringVar(&f.Hostname, "hostname", "", "server hostname used in banners")
	flag.StringVar(&f.LogLevel, "log-level", "", "log level (debug, info, warn, error)")
	flag.IntVar(&f.MaxConnections, "max-connections", 0, "maximum concurrent connections")

	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: bridgemail [-s smtp_port] [-p pop3_port] <path-to-store>")
		os.Exit(1)
	}
	f.StorePath = flag.Arg(0)

	return f
}

// Load parses a TOML configuration overlay file and merges it onto the
// defaults. If path is empty or the file does not exist, the defaults
// are returned unchanged.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config file: %w", err)
	}

	var fileConfig Config
	if err := toml.Unmarshal(data, &fileConfig); err != nil {
		return cfg, fmt.Errorf("parsing config file: %w", err)
	}

	return mergeConfig(cfg, fileConfig), nil
}

// ApplyFlags merges command-line flag values into cfg. The positional
// store path and the -s/-p ports always take precedence, since they are
// the CLI's primary interface rather than an override of a config file.
func ApplyFlags(cfg Config, f *Flags) Config {
	if f.Hostname != "" {
		cfg.Hostname = f.Hostname
	}

	if f.LogLevel != "" {
		cfg.LogLevel = f.LogLevel
	}

	if f.MaxConnections > 0 {
		cfg.Limits.MaxConnections = f.MaxConnections
	}

	if f.StorePath != "" {
		cfg.StorePath = f.StorePath
	}

	if f.SMTPPort != "" {
		cfg.SMTPAddr = replacePort(cfg.SMTPAddr, f.SMTPPort)
	}

	if f.POP3Port != "" {
		cfg.POP3Addr = replacePort(cfg.POP3Addr, f.POP3Port)
	}

	return cfg
}

// replacePort keeps the configured host portion of addr and swaps in port.
func replacePort(addr, port string) string {
	host := "127.0.0.1"
	if idx := lastColon(addr); idx >= 0 {
		host = addr[:idx]
	}
	return host + ":" + port
}

func lastColon(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == ':' {
			return i
		}
	}
	return -1
}

// LoadWithFlags loads configuration from the path specified in flags,
// then applies flag overrides on top.
func LoadWithFlags(f *Flags) (Config, error) {
	cfg, err := Load(f.ConfigPath)
	if err != nil {
		return cfg, err
	}
	return ApplyFlags(cfg, f), nil
}

// mergeConfig overlays non-zero fields from src onto dst.
func mergeConfig(dst, src Config) Config {
	if src.Hostname != "" {
		dst.Hostname = src.Hostname
	}

	if src.LogLevel != "" {
		dst.LogLevel = src.LogLevel
	}

	if src.StorePath != "" {
		dst.StorePath = src.StorePath
	}

	if src.SMTPAddr != "" {
		dst.SMTPAddr = src.SMTPAddr
	}

	if src.POP3Addr != "" {
		dst.POP3Addr = src.POP3Addr
	}

	if src.Timeouts.Idle != "" {
		dst.Timeouts.Idle = src.Timeouts.Idle
	}

	if src.Limits.MaxConnections > 0 {
		dst.Limits.MaxConnections = src.Limits.MaxConnections
	}

	if src.Metrics.Enabled {
		dst.Metrics.Enabled = src.Metrics.Enabled
	}

	if src.Metrics.Address != "" {
		dst.Metrics.Address = src.Metrics.Address
	}

	if src.Metrics.Path != "" {
		dst.Metrics.Path = src.Metrics.Path
	}

	return dst
}
