package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"fortio.org/safecast"

	"github.com/luciancaetano/vmhttp/internal/logging"
)

type Config struct {
	Server  ServerConfig   `toml:"server"`
	Session SessionConfig  `toml:"session"`
	Engine  EngineConfig   `toml:"engine"`
	Monitor MonitorConfig  `toml:"monitor"`
	Log     logging.Config `toml:"log"`
}

type ServerConfig struct {
	// Address is the IPv4 literal to bind.
	Address string `toml:"address"`
	Port    int    `toml:"port"`
	Backlog int    `toml:"backlog"`
	// Name is sent in the Server header.
	Name string `toml:"name"`
	// MaxSessions bounds concurrent connections; 0 means unlimited.
	MaxSessions int64 `toml:"max_sessions"`
	// AcceptRate limits accepted connections per second; 0 disables it.
	AcceptRate  float64 `toml:"accept_rate"`
	AcceptBurst int     `toml:"accept_burst"`
}

type SessionConfig struct {
	MaxBodySize   int      `toml:"max_body_size"`
	MaxHeaderSize int      `toml:"max_header_size"`
	ReadTimeout   Duration `toml:"read_timeout"`
	WriteTimeout  Duration `toml:"write_timeout"`
	IdleTimeout   Duration `toml:"idle_timeout"`
	KeepAlive     bool     `toml:"keep_alive"`
	// MaxRequests closes a connection after that many responses; 0 means
	// unlimited.
	MaxRequests int `toml:"max_requests"`
	// RequestsPerSecond limits requests on one connection; 0 disables it.
	RequestsPerSecond float64 `toml:"requests_per_second"`
	Burst             int     `toml:"burst"`
}

type EngineConfig struct {
	ImagesDir   string   `toml:"images_dir"`
	ScriptsDir  string   `toml:"scripts_dir"`
	ExecTimeout Duration `toml:"exec_timeout"`
	MaxImages   int      `toml:"max_images"`
	// ExposeTrail adds diagnostic trails to error responses.
	ExposeTrail bool `toml:"expose_trail"`
}

type MonitorConfig struct {
	Enabled bool   `toml:"enabled"`
	Address string `toml:"address"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Address: "0.0.0.0",
			Port:    8080,
			Backlog: 10,
			Name:    "vmhttp/1.0",
		},
		Session: SessionConfig{
			MaxBodySize:   256 << 10,
			MaxHeaderSize: 16 << 10,
			ReadTimeout:   Duration{30 * time.Second},
			WriteTimeout:  Duration{30 * time.Second},
			IdleTimeout:   Duration{60 * time.Second},
			KeepAlive:     true,
		},
		Engine: EngineConfig{
			ExecTimeout: Duration{5 * time.Second},
			MaxImages:   256,
		},
		Monitor: MonitorConfig{
			Address: "127.0.0.1:9090",
		},
		Log: logging.DefaultConfig(),
	}
}

func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config is nil")
	}

	if ip := net.ParseIP(c.Server.Address); ip == nil || ip.To4() == nil {
		return fmt.Errorf("server.address %q must be an IPv4 literal", c.Server.Address)
	}
	if p, err := safecast.Conv[uint16](c.Server.Port); err != nil || p == 0 {
		return fmt.Errorf("server.port %d must be within 1..65535", c.Server.Port)
	}
	if c.Server.Backlog <= 0 {
		return fmt.Errorf("server.backlog must be > 0")
	}
	if strings.TrimSpace(c.Server.Name) == "" {
		return fmt.Errorf("server.name is required")
	}
	if strings.ContainsAny(c.Server.Name, "\r\n") {
		return fmt.Errorf("server.name must not contain line breaks")
	}
	if c.Server.MaxSessions < 0 {
		return fmt.Errorf("server.max_sessions must be >= 0")
	}
	if c.Server.AcceptRate < 0 || c.Server.AcceptBurst < 0 {
		return fmt.Errorf("server.accept_rate and server.accept_burst must be >= 0")
	}

	if c.Session.MaxBodySize <= 0 {
		return fmt.Errorf("session.max_body_size must be > 0")
	}
	if c.Session.MaxHeaderSize <= 0 {
		return fmt.Errorf("session.max_header_size must be > 0")
	}
	for name, d := range map[string]Duration{
		"session.read_timeout":  c.Session.ReadTimeout,
		"session.write_timeout": c.Session.WriteTimeout,
		"session.idle_timeout":  c.Session.IdleTimeout,
		"engine.exec_timeout":   c.Engine.ExecTimeout,
	} {
		if d.Duration <= 0 {
			return fmt.Errorf("%s must be > 0", name)
		}
	}
	if c.Session.MaxRequests < 0 {
		return fmt.Errorf("session.max_requests must be >= 0")
	}
	if c.Session.RequestsPerSecond < 0 || c.Session.Burst < 0 {
		return fmt.Errorf("session.requests_per_second and session.burst must be >= 0")
	}

	if c.Engine.MaxImages <= 0 {
		return fmt.Errorf("engine.max_images must be > 0")
	}

	if c.Monitor.Enabled {
		if _, _, err := net.SplitHostPort(c.Monitor.Address); err != nil {
			return fmt.Errorf("monitor.address %q: %w", c.Monitor.Address, err)
		}
	}

	if strings.EqualFold(strings.TrimSpace(c.Log.Output), "file") && strings.TrimSpace(c.Log.FilePath) == "" {
		return fmt.Errorf("log.file_path is required when log.output=file")
	}

	return nil
}
