package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

const (
	DefaultListen          = ":3000"
	DefaultStaticDir       = "public"
	DefaultMaxMessageBytes = 16 << 20
	DefaultTimestampLayout = "2006/01/02 15:04:05"
)

// PortEnv overrides the port of the HTTP listener when set.
const PortEnv = "PORT"

// Config is the relay configuration. Every field is optional; zero values
// are replaced by defaults in Normalize.
type Config struct {
	// Listen is the HTTP/WebSocket listen address.
	Listen string `yaml:"listen" json:"listen"`

	// GRPCListen enables the gRPC health listener when non-empty.
	GRPCListen string `yaml:"grpc_listen" json:"grpc_listen"`

	DataDir   string `yaml:"data_dir" json:"data_dir"`
	StaticDir string `yaml:"static_dir" json:"static_dir"`

	// MaxMessageBytes bounds a single inbound WebSocket message. Captured
	// images arrive base64 encoded, so this must exceed the largest image
	// by roughly a third.
	MaxMessageBytes int64 `yaml:"max_message_bytes" json:"max_message_bytes"`

	// TimestampLayout formats the acknowledgment timestamp sent to the controller.
	TimestampLayout string `yaml:"timestamp_layout" json:"timestamp_layout"`

	// Timezone is an IANA zone name; empty means the process local zone.
	Timezone string `yaml:"timezone" json:"timezone"`

	// AllowedOrigins restricts WebSocket upgrades by Origin header. Empty accepts any origin.
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`
}

// Default returns a configuration populated with defaults.
func Default() Config {
	cfg := Config{}
	cfg.Normalize()
	return cfg
}

// Load reads the configuration file at path. Files ending in .json or .jsonc
// are parsed as JSON with comments; everything else is parsed as YAML. An
// empty path returns the defaults. The PORT environment variable is applied
// after the file is read.
func Load(path string) (Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(ExpandPath(path))
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := decode(path, data, &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.applyEnv(os.Getenv(PortEnv)); err != nil {
		return Config{}, err
	}
	cfg.Normalize()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		if err := json.Unmarshal(jsonc.ToJSON(data), cfg); err != nil {
			return fmt.Errorf("config: parse %s: %w", path, err)
		}
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	return nil
}

func (c *Config) applyEnv(port string) error {
	port = strings.TrimSpace(port)
	if port == "" {
		return nil
	}

	host := ""
	if c.Listen != "" {
		h, _, err := net.SplitHostPort(c.Listen)
		if err != nil {
			return fmt.Errorf("config: listen address %q: %w", c.Listen, err)
		}
		host = h
	}
	c.Listen = net.JoinHostPort(host, port)
	return nil
}

// Normalize fills unset fields with defaults.
func (c *Config) Normalize() {
	if strings.TrimSpace(c.Listen) == "" {
		c.Listen = DefaultListen
	}
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir()
	}
	if c.StaticDir == "" {
		c.StaticDir = DefaultStaticDir
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = DefaultMaxMessageBytes
	}
	if c.TimestampLayout == "" {
		c.TimestampLayout = DefaultTimestampLayout
	}
}

// Validate reports configuration values that cannot be used.
func (c Config) Validate() error {
	var errs []error
	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		errs = append(errs, fmt.Errorf("listen %q: %w", c.Listen, err))
	}
	if c.GRPCListen != "" {
		if _, _, err := net.SplitHostPort(c.GRPCListen); err != nil {
			errs = append(errs, fmt.Errorf("grpc_listen %q: %w", c.GRPCListen, err))
		}
	}
	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			errs = append(errs, fmt.Errorf("timezone %q: %w", c.Timezone, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: invalid: %w", errors.Join(errs...))
	}
	return nil
}

// Location resolves the configured timezone, falling back to time.Local.
func (c Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// Paths returns the directory layout for this configuration.
func (c Config) Paths() Paths {
	return GetPaths(c.DataDir, c.StaticDir)
}
