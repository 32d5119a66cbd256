// control/config.go
// Author: momentics <momentics@gmail.com>
//
// Process configuration: YAML file, then HIOLOAD_* environment overrides,
// then validation.

package control

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/momentics/hioload-net/acl"
	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/internal/transport"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "HIOLOAD_"

// HTTPConfig configures the HTTP layer.
type HTTPConfig struct {
	DocumentRoot     string   `yaml:"document_root" env:"DOCUMENT_ROOT"`
	IndexFiles       []string `yaml:"index_files" env:"INDEX_FILES" envSeparator:","`
	Rewrites         []string `yaml:"rewrites" env:"REWRITES" envSeparator:","` // "prefix=dir"
	MaxHeaderSize    int      `yaml:"max_header_size" env:"MAX_HEADER_SIZE"`
	MaxBodySize      int      `yaml:"max_body_size" env:"MAX_BODY_SIZE"`
	StrictTerminator bool     `yaml:"strict_terminator" env:"STRICT_TERMINATOR"`
	WebSocketPath    string   `yaml:"websocket_path" env:"WEBSOCKET_PATH"`
}

// TunnelConfig configures the relay command.
type TunnelConfig struct {
	Listen string `yaml:"listen" env:"LISTEN"`
	Target string `yaml:"target" env:"TARGET"`
}

// MDNSConfig configures service advertisement.
type MDNSConfig struct {
	Enabled  bool   `yaml:"enabled" env:"ENABLED"`
	Instance string `yaml:"instance" env:"INSTANCE"`
	Service  string `yaml:"service" env:"SERVICE"`
}

// Config is the full process configuration.
type Config struct {
	Listen       []string      `yaml:"listen" env:"LISTEN" envSeparator:","`
	ACL          string        `yaml:"acl" env:"ACL"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" env:"IDLE_TIMEOUT"`
	PollInterval time.Duration `yaml:"poll_interval" env:"POLL_INTERVAL"`
	MetricsAddr  string        `yaml:"metrics_addr" env:"METRICS_ADDR"`
	LogLevel     string        `yaml:"log_level" env:"LOG_LEVEL"`
	AutoReload   *bool         `yaml:"auto_reload" env:"AUTO_RELOAD"` // nil means true
	ReactorCPU   int           `yaml:"reactor_cpu" env:"REACTOR_CPU"` // -1 leaves the reactor unpinned

	HTTP   HTTPConfig   `yaml:"http" envPrefix:"HTTP_"`
	Tunnel TunnelConfig `yaml:"tunnel" envPrefix:"TUNNEL_"`
	MDNS   MDNSConfig   `yaml:"mdns" envPrefix:"MDNS_"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Listen:       []string{"8000"},
		IdleTimeout:  5 * time.Minute,
		PollInterval: time.Second,
		ReactorCPU:   -1,
		HTTP: HTTPConfig{
			DocumentRoot:  ".",
			IndexFiles:    []string{"index.html", "index.htm"},
			MaxHeaderSize: 8192,
			MaxBodySize:   1 << 20,
			WebSocketPath: "/ws",
		},
		MDNS: MDNSConfig{
			Instance: "hioload",
			Service:  "_http._tcp",
		},
	}
}

// LoadConfig reads path (when non-empty) over the defaults, applies
// environment overrides and validates the result.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks addresses, the ACL and numeric limits.
func (c *Config) Validate() error {
	for _, l := range c.Listen {
		if _, err := transport.ParseAddress(l); err != nil {
			return fmt.Errorf("listen %q: %w", l, err)
		}
	}
	if c.Tunnel.Listen != "" || c.Tunnel.Target != "" {
		if _, err := transport.ParseAddress(c.Tunnel.Listen); err != nil {
			return fmt.Errorf("tunnel.listen: %w", err)
		}
		if _, err := transport.ParseAddress(c.Tunnel.Target); err != nil {
			return fmt.Errorf("tunnel.target: %w", err)
		}
	}
	if _, err := acl.Parse(c.ACL); err != nil {
		return fmt.Errorf("acl: %w", err)
	}
	if c.IdleTimeout < 0 {
		return invalid("idle_timeout must not be negative")
	}
	if c.PollInterval <= 0 {
		return invalid("poll_interval must be positive")
	}
	if c.ReactorCPU < -1 || c.ReactorCPU >= runtime.NumCPU() {
		return invalid(fmt.Sprintf("reactor_cpu %d out of range", c.ReactorCPU))
	}
	if c.HTTP.MaxHeaderSize <= 0 {
		return invalid("http.max_header_size must be positive")
	}
	if c.HTTP.MaxBodySize < 0 {
		return invalid("http.max_body_size must not be negative")
	}
	if p := c.HTTP.WebSocketPath; p != "" && !strings.HasPrefix(p, "/") {
		return invalid("http.websocket_path must start with /")
	}
	for _, r := range c.HTTP.Rewrites {
		if _, _, ok := strings.Cut(r, "="); !ok {
			return invalid("http.rewrites entry needs prefix=dir: " + r)
		}
	}
	return nil
}

func invalid(msg string) error {
	return api.NewError(api.ErrCodeInvalidArgument, msg)
}

// ACLList parses the ACL string. Validate has already checked it.
func (c *Config) ACLList() *acl.List {
	l, err := acl.Parse(c.ACL)
	if err != nil {
		return &acl.List{}
	}
	return l
}

// ShouldAutoReload reports whether the file watcher should run.
func (c *Config) ShouldAutoReload() bool {
	return c.AutoReload == nil || *c.AutoReload
}
