// Package config provides Viper-based configuration loading for the racing
// client and the LAN session host.
package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/multierr"
)

// ClientConfig holds settings for discovering and joining sessions.
type ClientConfig struct {
	// SessionPort is the TCP port sessions are joined on.
	SessionPort int `mapstructure:"session_port"`
	// DiscoveryPort is the UDP port probes are broadcast to.
	DiscoveryPort int `mapstructure:"discovery_port"`
	// BroadcastAddr is the destination for discovery probes.
	BroadcastAddr string `mapstructure:"broadcast_addr"`
	// DiscoveryTimeout bounds the whole discovery window.
	DiscoveryTimeout time.Duration `mapstructure:"discovery_timeout"`
	// DiscoveryReadTimeout bounds each receive attempt inside the window.
	DiscoveryReadTimeout time.Duration `mapstructure:"discovery_read_timeout"`
	// ConnectTimeout bounds opening the session stream.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	// WriteTimeout bounds each outgoing frame. Zero disables the deadline.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// TickRate is the presentation tick frequency in Hz.
	TickRate int `mapstructure:"tick_rate"`
}

// HostConfig holds settings for the LAN session host.
type HostConfig struct {
	// Bind is the address the session and discovery listeners bind to.
	Bind string `mapstructure:"bind"`
	// SessionPort is the TCP port for session streams.
	SessionPort int `mapstructure:"session_port"`
	// DiscoveryPort is the UDP port discovery probes are answered on.
	DiscoveryPort int `mapstructure:"discovery_port"`
	// AdvertiseAddr overrides the host_address sent in discovery replies.
	AdvertiseAddr string `mapstructure:"advertise_addr"`
	// AdminAddr is the listen address of the admin HTTP API.
	AdminAddr string `mapstructure:"admin_addr"`
	// TickRate is the room tick frequency in Hz.
	TickRate int `mapstructure:"tick_rate"`
	// Capacity is the number of players a room admits.
	Capacity int `mapstructure:"capacity"`
	// Width and Height bound player positions on the host.
	Width  float64 `mapstructure:"width"`
	Height float64 `mapstructure:"height"`
	// MaxInputsPerTick caps how many inputs per player a tick applies.
	MaxInputsPerTick int `mapstructure:"max_inputs_per_tick"`
	// JoinTimeout bounds how long a new stream may take to send its Join.
	JoinTimeout time.Duration `mapstructure:"join_timeout"`
	// WriteTimeout bounds each outgoing frame.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// SendQueue is the per-connection outbound frame buffer.
	SendQueue int `mapstructure:"send_queue"`
}

// SessionAddr returns the "host:port" the session listener binds.
func (h HostConfig) SessionAddr() string {
	return net.JoinHostPort(h.Bind, strconv.Itoa(h.SessionPort))
}

// DiscoveryAddr returns the "host:port" the discovery responder binds.
func (h HostConfig) DiscoveryAddr() string {
	return net.JoinHostPort(h.Bind, strconv.Itoa(h.DiscoveryPort))
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
	// File, when set, sends logs to a rotating file instead of stderr.
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// TracingConfig selects where OpenTelemetry spans go.
type TracingConfig struct {
	// Exporter is "none" or "stdout". stdout writes spans as JSON to stderr.
	Exporter string `mapstructure:"exporter"`
	// ServiceName is recorded on every span's resource.
	ServiceName string `mapstructure:"service_name"`
}

// Config is the top-level application configuration.
type Config struct {
	Client  ClientConfig  `mapstructure:"client"`
	Host    HostConfig    `mapstructure:"host"`
	Logging LoggingConfig `mapstructure:"logging"`
	Tracing TracingConfig `mapstructure:"tracing"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	err := multierr.Combine(
		validateClient(c.Client),
		validateHost(c.Host),
		validateLogging(c.Logging),
		validateTracing(c.Tracing),
	)
	if err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	return nil
}

func validPort(p int) bool { return p >= 1 && p <= 65535 }

func validateClient(c ClientConfig) error {
	var errs []string
	if !validPort(c.SessionPort) {
		errs = append(errs, fmt.Sprintf("client.session_port must be 1-65535, got %d", c.SessionPort))
	}
	if !validPort(c.DiscoveryPort) {
		errs = append(errs, fmt.Sprintf("client.discovery_port must be 1-65535, got %d", c.DiscoveryPort))
	}
	if c.BroadcastAddr == "" {
		errs = append(errs, "client.broadcast_addr must not be empty")
	}
	if c.DiscoveryTimeout <= 0 {
		errs = append(errs, "client.discovery_timeout must be positive")
	}
	if c.DiscoveryReadTimeout <= 0 {
		errs = append(errs, "client.discovery_read_timeout must be positive")
	}
	if c.DiscoveryReadTimeout > c.DiscoveryTimeout {
		errs = append(errs, "client.discovery_read_timeout must not exceed client.discovery_timeout")
	}
	if c.ConnectTimeout < 0 || c.WriteTimeout < 0 {
		errs = append(errs, "client timeouts must not be negative")
	}
	if c.TickRate < 1 {
		errs = append(errs, fmt.Sprintf("client.tick_rate must be >= 1, got %d", c.TickRate))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateHost(h HostConfig) error {
	var errs []string
	if !validPort(h.SessionPort) {
		errs = append(errs, fmt.Sprintf("host.session_port must be 1-65535, got %d", h.SessionPort))
	}
	if !validPort(h.DiscoveryPort) {
		errs = append(errs, fmt.Sprintf("host.discovery_port must be 1-65535, got %d", h.DiscoveryPort))
	}
	if h.TickRate < 1 {
		errs = append(errs, fmt.Sprintf("host.tick_rate must be >= 1, got %d", h.TickRate))
	}
	if h.Capacity < 1 {
		errs = append(errs, fmt.Sprintf("host.capacity must be >= 1, got %d", h.Capacity))
	}
	if h.Width <= 0 || h.Height <= 0 {
		errs = append(errs, "host.width and host.height must be positive")
	}
	if h.MaxInputsPerTick < 1 {
		errs = append(errs, fmt.Sprintf("host.max_inputs_per_tick must be >= 1, got %d", h.MaxInputsPerTick))
	}
	if h.JoinTimeout <= 0 {
		errs = append(errs, "host.join_timeout must be positive")
	}
	if h.WriteTimeout < 0 {
		errs = append(errs, "host.write_timeout must not be negative")
	}
	if h.SendQueue < 1 {
		errs = append(errs, fmt.Sprintf("host.send_queue must be >= 1, got %d", h.SendQueue))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	if l.File != "" && l.MaxSizeMB < 1 {
		return errors.New("logging.max_size_mb must be >= 1 when logging.file is set")
	}
	return nil
}

func validateTracing(t TracingConfig) error {
	switch t.Exporter {
	case "none", "stdout":
	default:
		return fmt.Errorf("tracing.exporter must be one of [none, stdout], got %q", t.Exporter)
	}
	if t.ServiceName == "" {
		return errors.New("tracing.service_name must not be empty")
	}
	return nil
}

// Load reads configuration from the given file path, applies environment variable
// overrides, and validates the result. An empty path skips the file and uses
// defaults plus environment.
//
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := NewViper()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
	}

	return LoadFromViper(v)
}

// NewViper returns a Viper instance with defaults and LANRACE_ environment
// overrides applied, ready for flag binding.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("LANRACE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// LoadFromViper builds a Config from an already-configured Viper instance.
//
// Precondition: v must be non-nil and have configuration values set.
// Postcondition: Returns a valid Config or a non-nil error.
func LoadFromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("client.session_port", 50000)
	v.SetDefault("client.discovery_port", 50001)
	v.SetDefault("client.broadcast_addr", "255.255.255.255")
	v.SetDefault("client.discovery_timeout", "1.5s")
	v.SetDefault("client.discovery_read_timeout", "400ms")
	v.SetDefault("client.connect_timeout", "3s")
	v.SetDefault("client.write_timeout", "1s")
	v.SetDefault("client.tick_rate", 60)

	v.SetDefault("host.bind", "0.0.0.0")
	v.SetDefault("host.session_port", 50000)
	v.SetDefault("host.discovery_port", 50001)
	v.SetDefault("host.advertise_addr", "")
	v.SetDefault("host.admin_addr", ":8080")
	v.SetDefault("host.tick_rate", 20)
	v.SetDefault("host.capacity", 2)
	v.SetDefault("host.width", 740)
	v.SetDefault("host.height", 660)
	v.SetDefault("host.max_inputs_per_tick", 4)
	v.SetDefault("host.join_timeout", "5s")
	v.SetDefault("host.write_timeout", "5s")
	v.SetDefault("host.send_queue", 64)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 10)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 7)
	v.SetDefault("logging.compress", false)

	v.SetDefault("tracing.exporter", "none")
	v.SetDefault("tracing.service_name", "lanrace")
}
