// Package config provides configuration management for bridgemail.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the bridgemail server configuration.
type Config struct {
	Hostname  string         `toml:"hostname"`
	LogLevel  string         `toml:"log_level"`
	StorePath string         `toml:"store"`
	SMTPAddr  string         `toml:"smtp_address"`
	POP3Addr  string         `toml:"pop3_address"`
	Timeouts  TimeoutsConfig `toml:"timeouts"`
	Limits    LimitsConfig   `toml:"limits"`
	Metrics   MetricsConfig  `toml:"metrics"`
}

// TimeoutsConfig defines timeout durations.
type TimeoutsConfig struct {
	Idle string `toml:"idle"`
}

// LimitsConfig defines resource limits for the server.
type LimitsConfig struct {
	MaxConnections int `toml:"max_connections"`
}

// MetricsConfig holds configuration for Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Address string `toml:"address"`
	Path    string `toml:"path"`
}

// Default returns a Config with the defaults specified for the
// bridgemail CLI: SMTP on 25, POP3 on 110, both bound to loopback.
func Default() Config {
	return Config{
		Hostname: "localhost",
		LogLevel: "info",
		SMTPAddr: "127.0.0.1:25",
		POP3Addr: "127.0.0.1:110",
		Timeouts: TimeoutsConfig{Idle: "5m"},
		Limits:   LimitsConfig{MaxConnections: 256},
		Metrics: MetricsConfig{
			Enabled: false,
			Address: ":9110",
			Path:    "/metrics",
		},
	}
}

// Validate checks that the configuration is valid and returns an error if not.
func (c *Config) Validate() error {
	if c.Hostname == "" {
		return errors.New("hostname is required")
	}

	if c.StorePath == "" {
		return errors.New("store path is required")
	}

	if c.SMTPAddr == "" {
		return errors.New("smtp listen address is required")
	}

	if c.POP3Addr == "" {
		return errors.New("pop3 listen address is required")
	}

	if c.Limits.MaxConnections <= 0 {
		return errors.New("max_connections must be positive")
	}

	if c.Timeouts.Idle != "" {
		if _, err := time.ParseDuration(c.Timeouts.Idle); err != nil {
			return fmt.Errorf("invalid idle timeout: %w", err)
		}
	}

	if c.Metrics.Enabled {
		if c.Metrics.Address == "" {
			return errors.New("metrics address is required when metrics are enabled")
		}
		if c.Metrics.Path == "" {
			return errors.New("metrics path is required when metrics are enabled")
		}
	}

	return nil
}

// IdleTimeout returns the idle timeout as a time.Duration.
// Returns 5 minutes (the RFC 5321 §4.5.3.2 figure) if not configured or invalid.
func (c *TimeoutsConfig) IdleTimeout() time.Duration {
	if c.Idle == "" {
		return 5 * time.Minute
	}
	d, err := time.ParseDuration(c.Idle)
	if err != nil {
		return 5 * time.Minute
	}
	return d
}
