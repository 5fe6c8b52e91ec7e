// Package server provides configuration helpers that define runtime defaults,
// validation, and environment/file loading for the relay service.
package server

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/Tyrowin/gorelay/internal/protocol"
)

const (
	defaultBindAddress   = "0.0.0.0"
	defaultPort          = 9999
	defaultClientTimeout = 600 * time.Second
	defaultSweepInterval = 60 * time.Second
)

// Config holds the relay configuration.
type Config struct {
	BindAddress     string
	Port            int
	ClientTimeout   time.Duration
	SweepInterval   time.Duration
	MaxDatagramSize int
	// MaxWorkers bounds concurrent datagram handlers. Zero or less keeps one
	// goroutine per datagram with no cap.
	MaxWorkers int

	// MonitorAddr enables the HTTP/WebSocket monitor when non-empty.
	MonitorAddr    string
	AllowedOrigins []string
}

// fileConfig mirrors Config in the TOML config file. Durations are strings
// accepted by time.ParseDuration.
type fileConfig struct {
	BindAddress     string   `toml:"bind_address"`
	Port            int      `toml:"port"`
	ClientTimeout   string   `toml:"client_timeout"`
	SweepInterval   string   `toml:"sweep_interval"`
	MaxDatagramSize int      `toml:"max_datagram_size"`
	MaxWorkers      int      `toml:"max_workers"`
	MonitorAddr     string   `toml:"monitor_address"`
	AllowedOrigins  []string `toml:"allowed_origins"`
}

func defaultConfig() Config {
	return Config{
		BindAddress:     defaultBindAddress,
		Port:            defaultPort,
		ClientTimeout:   defaultClientTimeout,
		SweepInterval:   defaultSweepInterval,
		MaxDatagramSize: protocol.MaxFrameSize,
	}
}

func sanitizeConfig(cfg Config) Config {
	if cfg.BindAddress == "" {
		cfg.BindAddress = defaultBindAddress
	}

	if cfg.Port < 0 || cfg.Port > 65535 {
		cfg.Port = defaultPort
	}

	if cfg.ClientTimeout <= 0 {
		cfg.ClientTimeout = defaultClientTimeout
	}

	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepInterval
	}

	if cfg.MaxDatagramSize <= 0 {
		cfg.MaxDatagramSize = protocol.MaxFrameSize
	}

	if cfg.MaxWorkers < 0 {
		cfg.MaxWorkers = 0
	}

	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	return cfg
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// Addr returns the host:port the relay listens on.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.BindAddress, strconv.Itoa(c.Port))
}

// NewConfigFromEnv creates a Config instance from environment variables.
// Falls back to default values if environment variables are not set.
func NewConfigFromEnv() *Config {
	cfg := defaultConfig()
	cfg.ApplyEnv()
	return &cfg
}

// ApplyEnv overrides c with any RELAY_* environment variables that are set.
func (c *Config) ApplyEnv() {
	if bind := os.Getenv("RELAY_BIND"); bind != "" {
		c.BindAddress = bind
	}

	if port := os.Getenv("RELAY_PORT"); port != "" {
		c.Port = parseIntValue(port, c.Port)
	}

	if timeout := os.Getenv("RELAY_CLIENT_TIMEOUT"); timeout != "" {
		c.ClientTimeout = parseDuration(timeout, c.ClientTimeout)
	}

	if interval := os.Getenv("RELAY_SWEEP_INTERVAL"); interval != "" {
		c.SweepInterval = parseDuration(interval, c.SweepInterval)
	}

	if size := os.Getenv("RELAY_MAX_DATAGRAM"); size != "" {
		c.MaxDatagramSize = parseIntValue(size, c.MaxDatagramSize)
	}

	if workers := os.Getenv("RELAY_MAX_WORKERS"); workers != "" {
		if n, err := strconv.Atoi(workers); err == nil && n >= 0 {
			c.MaxWorkers = n
		}
	}

	if monitor := os.Getenv("RELAY_MONITOR_ADDR"); monitor != "" {
		c.MonitorAddr = monitor
	}

	if origins := os.Getenv("RELAY_ALLOWED_ORIGINS"); origins != "" {
		c.AllowedOrigins = parseOrigins(origins)
	}
}

// LoadFile overrides c with the values set in a TOML file. Keys missing from
// the file leave the current values untouched.
func (c *Config) LoadFile(filename string) error {
	if _, err := os.Stat(filename); err != nil {
		return fmt.Errorf("config file '%s' is not found", filename)
	}

	var fc fileConfig
	md, err := toml.DecodeFile(filename, &fc)
	if err != nil {
		return fmt.Errorf("config file '%s': %w", filename, err)
	}

	if md.IsDefined("bind_address") {
		c.BindAddress = fc.BindAddress
	}
	if md.IsDefined("port") {
		c.Port = fc.Port
	}
	if md.IsDefined("client_timeout") {
		d, err := time.ParseDuration(fc.ClientTimeout)
		if err != nil {
			return fmt.Errorf("client_timeout: %w", err)
		}
		c.ClientTimeout = d
	}
	if md.IsDefined("sweep_interval") {
		d, err := time.ParseDuration(fc.SweepInterval)
		if err != nil {
			return fmt.Errorf("sweep_interval: %w", err)
		}
		c.SweepInterval = d
	}
	if md.IsDefined("max_datagram_size") {
		c.MaxDatagramSize = fc.MaxDatagramSize
	}
	if md.IsDefined("max_workers") {
		c.MaxWorkers = fc.MaxWorkers
	}
	if md.IsDefined("monitor_address") {
		c.MonitorAddr = fc.MonitorAddr
	}
	if md.IsDefined("allowed_origins") {
		c.AllowedOrigins = fc.AllowedOrigins
	}

	return nil
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

// parseDuration accepts Go durations ("90s") or a plain number of seconds.
func parseDuration(value string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}
