package config

import "encoding/json"

type Config struct {
	Logging LoggingConfig `json:"logging"`
	Server  ServerConfig  `json:"server"`
	Timers  TimersConfig  `json:"timers"`

	// Storage is optional. Nil disables the audit trail.
	Storage *StorageConfig `json:"storage,omitempty"`

	Debug DebugConfig `json:"debug"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// ServerConfig controls the HTTP listener that serves both the WebSocket
// endpoint and the control API.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - addr: "127.0.0.1:8787"
//   - ws_path: "/ws"
//   - keepalive: "12s"
//   - send_queue: 64
//   - read_limit: 65536 bytes
//   - msg_rate: 50 msgs/s, msg_burst: 100
//   - read_header_timeout: "5s", idle_timeout: "60s", shutdown_timeout: "10s"
type ServerConfig struct {
	Addr   string `json:"addr,omitempty"`
	WSPath string `json:"ws_path,omitempty"`

	// Token is an optional bearer token for /api/* (do not log).
	Token string `json:"token,omitempty"`

	Keepalive string `json:"keepalive,omitempty"`
	SendQueue int    `json:"send_queue,omitempty"`
	ReadLimit int64  `json:"read_limit,omitempty"`

	MsgRate  float64 `json:"msg_rate,omitempty"`
	MsgBurst int     `json:"msg_burst,omitempty"`

	ReadHeaderTimeout string `json:"read_header_timeout,omitempty"`
	IdleTimeout       string `json:"idle_timeout,omitempty"`
	ShutdownTimeout   string `json:"shutdown_timeout,omitempty"`
}

// TimersConfig controls the timer engine.
//
// Static timers are started when serve boots and reconciled on reload; each
// value is a timer config document (see the timer package).
type TimersConfig struct {
	DefaultTimezone string                     `json:"default_timezone,omitempty"`
	Static          map[string]json.RawMessage `json:"static,omitempty"`
}

// StorageConfig controls the optional audit store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./triggerd.db", "record_fires": false }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)

	// RecordFires also stores timer.fired entries. Off by default because a
	// 1s interval timer writes 86400 rows a day.
	RecordFires bool `json:"record_fires,omitempty"`
}

type DebugConfig struct {
	Pprof PprofConfig `json:"pprof"`
}

// PprofConfig controls the optional profiling listener. It is separate from
// the main server so it can stay on loopback. Applied live on reload.
//
// Example:
//
//	"debug": { "pprof": { "enabled": true, "addr": "127.0.0.1:6060" } }
type PprofConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`   // default 127.0.0.1:6060
	Prefix        string `json:"prefix,omitempty"` // default /debug/pprof/
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	MutexProfileFraction int `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int `json:"block_profile_rate,omitempty"`
}
