package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	logx "triggerd/pkg/logx"
)

const (
	DefaultAddr              = "127.0.0.1:8787"
	DefaultWSPath            = "/ws"
	DefaultKeepalive         = 12 * time.Second
	DefaultSendQueue         = 64
	DefaultReadLimit         = 64 << 10
	DefaultMsgRate           = 50.0
	DefaultMsgBurst          = 100
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultIdleTimeout       = 60 * time.Second
	DefaultShutdownTimeout   = 10 * time.Second
	DefaultBusyTimeout       = 5 * time.Second
)

// Server is ServerConfig with defaults applied and durations parsed.
type Server struct {
	Addr              string
	WSPath            string
	Token             string
	Keepalive         time.Duration
	SendQueue         int
	ReadLimit         int64
	MsgRate           float64
	MsgBurst          int
	ReadHeaderTimeout time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
}

// Resolve applies defaults to the server section.
func (c ServerConfig) Resolve() (Server, error) {
	s := Server{
		Addr:      strings.TrimSpace(c.Addr),
		WSPath:    strings.TrimSpace(c.WSPath),
		Token:     strings.TrimSpace(c.Token),
		SendQueue: c.SendQueue,
		ReadLimit: c.ReadLimit,
		MsgRate:   c.MsgRate,
		MsgBurst:  c.MsgBurst,
	}
	if s.Addr == "" {
		s.Addr = DefaultAddr
	}
	if _, _, err := net.SplitHostPort(s.Addr); err != nil {
		return Server{}, fmt.Errorf("server.addr: %w", err)
	}
	if s.WSPath == "" {
		s.WSPath = DefaultWSPath
	}
	if !strings.HasPrefix(s.WSPath, "/") {
		return Server{}, fmt.Errorf("server.ws_path: must start with /")
	}
	if strings.HasPrefix(s.WSPath, "/api/") || s.WSPath == "/healthz" {
		return Server{}, fmt.Errorf("server.ws_path: %q collides with the control API", s.WSPath)
	}
	if s.SendQueue < 0 || s.ReadLimit < 0 || s.MsgRate < 0 || s.MsgBurst < 0 {
		return Server{}, errors.New("server: send_queue, read_limit, msg_rate and msg_burst must be >= 0")
	}
	if s.SendQueue == 0 {
		s.SendQueue = DefaultSendQueue
	}
	if s.ReadLimit == 0 {
		s.ReadLimit = DefaultReadLimit
	}
	if s.MsgRate == 0 {
		s.MsgRate = DefaultMsgRate
	}
	if s.MsgBurst == 0 {
		s.MsgBurst = DefaultMsgBurst
	}

	var err error
	if s.Keepalive, err = ParseDurationOrDefault("server.keepalive", c.Keepalive, DefaultKeepalive); err != nil {
		return Server{}, err
	}
	if s.ReadHeaderTimeout, err = ParseDurationOrDefault("server.read_header_timeout", c.ReadHeaderTimeout, DefaultReadHeaderTimeout); err != nil {
		return Server{}, err
	}
	if s.IdleTimeout, err = ParseDurationOrDefault("server.idle_timeout", c.IdleTimeout, DefaultIdleTimeout); err != nil {
		return Server{}, err
	}
	if s.ShutdownTimeout, err = ParseDurationOrDefault("server.shutdown_timeout", c.ShutdownTimeout, DefaultShutdownTimeout); err != nil {
		return Server{}, err
	}
	return s, nil
}

// Validate checks everything that can be checked without constructing
// components. Timer documents under timers.static are checked by the app.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if _, ok := logx.ParseLevel(c.Logging.Level); !ok {
		return fmt.Errorf("logging.level: unknown level %q", c.Logging.Level)
	}
	if _, err := c.Server.Resolve(); err != nil {
		return err
	}
	if tz := strings.TrimSpace(c.Timers.DefaultTimezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("timers.default_timezone: %w", err)
		}
	}
	for key := range c.Timers.Static {
		if strings.TrimSpace(key) == "" {
			return errors.New("timers.static: empty timer key")
		}
	}
	if p := c.Debug.Pprof; p.Enabled && strings.TrimSpace(p.Addr) != "" {
		if _, _, err := net.SplitHostPort(strings.TrimSpace(p.Addr)); err != nil {
			return fmt.Errorf("debug.pprof.addr: %w", err)
		}
	}
	if p := c.Debug.Pprof; p.MutexProfileFraction < 0 || p.BlockProfileRate < 0 {
		return errors.New("debug.pprof: profile rates must be >= 0")
	}
	if s := c.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "none", "file", "sqlite", "badger":
		default:
			return fmt.Errorf("storage.driver: unsupported driver %q", s.Driver)
		}
		if _, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout); err != nil {
			return err
		}
	}
	return nil
}

// LogConfig maps the logging section onto logx.
func (c LoggingConfig) LogConfig() logx.Config {
	return logx.Config{
		Level:   c.Level,
		Console: c.Console,
		File:    logx.FileConfig{Enabled: c.File.Enabled, Path: c.File.Path},
	}
}
