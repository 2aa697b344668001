// Package config handles application configuration and command-line argument parsing.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alexflint/go-arg"
	"github.com/juju/loggo"

	"github.com/joe/seedstream/pkg/filesystem"
)

// Exported variables.
var (
	// ErrInvalidConfig is wrapped by every validation failure.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// HostSpec seeds a host from the command line: id=sftp://user@host[:port]/library[?key=path].
type HostSpec struct {
	ID   string
	Path filesystem.ParsedPath
}

// UnmarshalText implements encoding.TextUnmarshaler for go-arg
func (h *HostSpec) UnmarshalText(text []byte) error {
	id, rawURL, ok := strings.Cut(string(text), "=")
	if !ok || strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: host must look like id=sftp://user@host/path, got %q", ErrInvalidConfig, text)
	}

	parsed, err := filesystem.ParsePath(rawURL)
	if err != nil {
		return fmt.Errorf("%w: host %s: %w", ErrInvalidConfig, id, err)
	}

	if !parsed.IsRemote {
		return fmt.Errorf("%w: host %s: expected an sftp:// URL", ErrInvalidConfig, id)
	}

	h.ID = strings.TrimSpace(id)
	h.Path = *parsed

	return nil
}

// HostConfig returns the connection settings for the seeded host.
func (h HostSpec) HostConfig() filesystem.HostConfig {
	return h.Path.HostConfig(h.ID)
}

// Config holds the application configuration
type Config struct {
	Listen          string        `arg:"--listen,env:SEEDSTREAM_LISTEN" default:":8080" help:"HTTP listen address"`
	DBPath          string        `arg:"--db,env:SEEDSTREAM_DB" default:"seedstream.db" help:"Catalog database file"`
	ConnectTimeout  time.Duration `arg:"--connect-timeout,env:SEEDSTREAM_CONNECT_TIMEOUT" default:"10s" help:"Bound on dial, handshake, auth and SFTP start"`
	IdleTimeout     time.Duration `arg:"--idle-timeout,env:SEEDSTREAM_IDLE_TIMEOUT" default:"60s" help:"Close pooled connections unused for this long"`
	ConnectRate     float64       `arg:"--connect-rate,env:SEEDSTREAM_CONNECT_RATE" default:"1" help:"Connection attempts per second per host"`
	ConnectBurst    int           `arg:"--connect-burst,env:SEEDSTREAM_CONNECT_BURST" default:"3" help:"Connection attempts allowed in a burst per host"`
	LogLevel        string        `arg:"--log-level,env:SEEDSTREAM_LOG_LEVEL" default:"<root>=INFO" help:"loggo level spec, e.g. <root>=INFO;seedstream.pool=DEBUG"`
	ShutdownTimeout time.Duration `arg:"--shutdown-timeout,env:SEEDSTREAM_SHUTDOWN_TIMEOUT" default:"10s" help:"Time allowed for in-flight requests on shutdown"`
	Hosts           []HostSpec    `arg:"--host,separate" help:"Register a host: id=sftp://user@host[:port]/library[?key=path] (repeatable)"`
}

// Description returns the program description for go-arg
func (Config) Description() string {
	return "Streams a music library from local disk and remote seedboxes over SFTP"
}

// Version returns the version string for go-arg
func (Config) Version() string {
	return "seedstream 1.0.0"
}

// ParseFlags parses command-line flags and returns configuration
func ParseFlags() (*Config, error) {
	cfg := &Config{}

	arg.MustParse(cfg)

	return PostProcessConfig(cfg)
}

// Parse parses args (without the program name) and validates the result.
func Parse(args []string) (*Config, error) {
	cfg := &Config{}

	parser, err := arg.NewParser(arg.Config{Program: "seedstream"}, cfg)
	if err != nil {
		return nil, fmt.Errorf("build parser: %w", err)
	}

	if err := parser.Parse(args); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	return PostProcessConfig(cfg)
}

// PostProcessConfig applies post-processing logic to a parsed config
func PostProcessConfig(cfg *Config) (*Config, error) {
	cfg.Listen = strings.TrimSpace(cfg.Listen)
	cfg.DBPath = strings.TrimSpace(cfg.DBPath)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that every setting is usable.
func (cfg *Config) Validate() error {
	if cfg.Listen == "" {
		return fmt.Errorf("%w: listen address is required", ErrInvalidConfig)
	}

	if cfg.DBPath == "" {
		return fmt.Errorf("%w: database path is required", ErrInvalidConfig)
	}

	durations := []struct {
		name  string
		value time.Duration
	}{
		{"connect-timeout", cfg.ConnectTimeout},
		{"idle-timeout", cfg.IdleTimeout},
		{"shutdown-timeout", cfg.ShutdownTimeout},
	}
	for _, d := range durations {
		if d.value <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %s", ErrInvalidConfig, d.name, d.value)
		}
	}

	if cfg.ConnectRate <= 0 {
		return fmt.Errorf("%w: connect-rate must be positive, got %g", ErrInvalidConfig, cfg.ConnectRate)
	}

	if cfg.ConnectBurst < 1 {
		return fmt.Errorf("%w: connect-burst must be at least 1, got %d", ErrInvalidConfig, cfg.ConnectBurst)
	}

	if _, err := loggo.ParseConfigString(cfg.LogLevel); err != nil {
		return fmt.Errorf("%w: log-level: %w", ErrInvalidConfig, err)
	}

	seen := make(map[string]bool, len(cfg.Hosts))
	for _, host := range cfg.Hosts {
		if seen[host.ID] {
			return fmt.Errorf("%w: host %q given twice", ErrInvalidConfig, host.ID)
		}

		seen[host.ID] = true
	}

	return nil
}

// PoolOptions returns the connection pool settings.
func (cfg *Config) PoolOptions() filesystem.PoolOptions {
	return filesystem.PoolOptions{
		IdleTimeout:    cfg.IdleTimeout,
		ConnectTimeout: cfg.ConnectTimeout,
		ConnectRate:    cfg.ConnectRate,
		ConnectBurst:   cfg.ConnectBurst,
	}
}
