// Package config provides configuration management for the Comcore server.
package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"time"
)

// Config holds the Comcore server configuration.
type Config struct {
	Hostname  string           `toml:"hostname"`
	LogLevel  string           `toml:"log_level"`
	Listeners []ListenerConfig `toml:"listeners"`
	TLS       TLSConfig        `toml:"tls"`
	Timeouts  TimeoutsConfig   `toml:"timeouts"`
	Limits    LimitsConfig     `toml:"limits"`
	Metrics   MetricsConfig    `toml:"metrics"`
	SMTP      SMTPConfig       `toml:"smtp"`
	Web       WebConfig        `toml:"web"`
}

// ListenerConfig defines settings for a single protocol listener.
// All protocol listeners serve implicit TLS.
type ListenerConfig struct {
	Address string `toml:"address"`
}

// TLSConfig holds TLS certificate and version settings.
type TLSConfig struct {
	CertFile   string `toml:"cert_file"`
	KeyFile    string `toml:"key_file"`
	MinVersion string `toml:"min_version"`
}

// TimeoutsConfig defines timeout durations.
// The protocol has no per-request deadline; Idle guards abandoned sockets.
// An empty Idle disables the idle timeout.
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

// SMTPConfig holds settings for confirmation-code email delivery.
// An empty Host disables delivery; codes are then logged instead of sent.
type SMTPConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	From     string `toml:"from"`
}

// WebConfig holds settings for the static HTTP site and upload downloads.
type WebConfig struct {
	Enabled     bool   `toml:"enabled"`
	Address     string `toml:"address"`
	SiteDir     string `toml:"site_dir"`
	UploadDir   string `toml:"upload_dir"`
	JoinBaseURL string `toml:"join_base_url"`
}

// Default returns a Config with sensible default values.
func Default() Config {
	return Config{
		Hostname: "localhost",
		LogLevel: "info",
		Listeners: []ListenerConfig{
			{Address: ":14150"},
		},
		TLS: TLSConfig{
			MinVersion: "1.2",
		},
		Timeouts: TimeoutsConfig{
			Idle: "",
		},
		Limits: LimitsConfig{
			MaxConnections: 1000,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Address: ":9101",
			Path:    "/metrics",
		},
		SMTP: SMTPConfig{
			Port: 587,
		},
		Web: WebConfig{
			Enabled:   false,
			Address:   ":8080",
			UploadDir: "./uploads",
		},
	}
}

// Validate checks that the configuration is valid and returns an error if not.
func (c *Config) Validate() error {
	if c.Hostname == "" {
		return errors.New("hostname is required")
	}

	if len(c.Listeners) == 0 {
		return errors.New("at least one listener is required")
	}

	for i, l := range c.Listeners {
		if l.Address == "" {
			return fmt.Errorf("listener %d: address is required", i)
		}
	}

	if c.Limits.MaxConnections <= 0 {
		return errors.New("max_connections must be positive")
	}

	if c.Timeouts.Idle != "" {
		if _, err := time.ParseDuration(c.Timeouts.Idle); err != nil {
			return fmt.Errorf("invalid idle timeout: %w", err)
		}
	}

	if c.TLS.MinVersion != "" {
		if _, ok := minTLSVersions[c.TLS.MinVersion]; !ok {
			return fmt.Errorf("invalid TLS min_version %q (valid: 1.0, 1.1, 1.2, 1.3)", c.TLS.MinVersion)
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

	if c.SMTP.Host != "" {
		if c.SMTP.From == "" {
			return errors.New("smtp from address is required when smtp host is set")
		}
		if c.SMTP.Port <= 0 || c.SMTP.Port > 65535 {
			return fmt.Errorf("invalid smtp port %d", c.SMTP.Port)
		}
	}

	if c.Web.Enabled {
		if c.Web.Address == "" {
			return errors.New("web address is required when web is enabled")
		}
	}

	return nil
}

// MinTLSVersion returns the crypto/tls constant for the configured minimum TLS version.
// Returns tls.VersionTLS12 if not configured or invalid.
func (c *TLSConfig) MinTLSVersion() uint16 {
	if v, ok := minTLSVersions[c.MinVersion]; ok {
		return v
	}
	return tls.VersionTLS12
}

// IdleTimeout returns the idle timeout as a time.Duration.
// Returns zero (disabled) if not configured or invalid.
func (c *TimeoutsConfig) IdleTimeout() time.Duration {
	if c.Idle == "" {
		return 0
	}
	d, err := time.ParseDuration(c.Idle)
	if err != nil {
		return 0
	}
	return d
}

var minTLSVersions = map[string]uint16{
	"1.0": tls.VersionTLS10,
	"1.1": tls.VersionTLS11,
	"1.2": tls.VersionTLS12,
	"1.3": tls.VersionTLS13,
}
