package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// AuditEntry records one lifecycle event. Keep it compact and schema-stable.
type AuditEntry struct {
	At           time.Time `json:"at"`
	Kind         string    `json:"kind"`
	Key          string    `json:"key,omitempty"`
	Mode         string    `json:"mode,omitempty"`
	Conn         string    `json:"conn,omitempty"`
	Subscription string    `json:"subscription,omitempty"`
	Detail       string    `json:"detail,omitempty"`
}

const (
	DefaultRecentLimit = 100
	MaxRecentLimit     = 1000
)

// clampLimit maps a caller-supplied limit into [1, MaxRecentLimit].
func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultRecentLimit
	}
	if limit > MaxRecentLimit {
		return MaxRecentLimit
	}
	return limit
}
