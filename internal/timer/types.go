package timer

import (
	"errors"
	"time"
)

var (
	// ErrTimerNotFound is returned by Subscribe when no instance runs under the key.
	ErrTimerNotFound = errors.New("timer not found")
	// ErrInvalidConfig wraps every config rejection from StartTimer.
	ErrInvalidConfig = errors.New("invalid timer config")
)

type Mode string

const (
	ModeInterval  Mode = "interval"
	ModeScheduled Mode = "scheduled"
	ModeCron      Mode = "cron"
)

type Repeat string

const (
	RepeatOnce    Repeat = "once"
	RepeatDaily   Repeat = "daily"
	RepeatWeekly  Repeat = "weekly"
	RepeatMonthly Repeat = "monthly"
)

// Config is the serialized timer config. Mode selects which of the other
// fields apply; fields belonging to another mode must be left zero.
type Config struct {
	Mode Mode `json:"mode"`

	// interval mode
	Interval  int  `json:"interval,omitempty"` // seconds
	Immediate bool `json:"immediate,omitempty"`
	RunOnce   bool `json:"runOnce,omitempty"`

	// scheduled mode
	ScheduledDateTime string `json:"scheduledDateTime,omitempty"`
	Repeat            Repeat `json:"repeat,omitempty"`

	// cron mode
	Cron string `json:"cron,omitempty"`

	// scheduled and cron modes; IANA name, empty means the registry default
	Timezone string `json:"timezone,omitempty"`
}

// Event is produced once per fire and never mutated afterwards.
type Event struct {
	Key       string `json:"key"`
	Timestamp int64  `json:"timestamp"` // unix milliseconds
	Type      Mode   `json:"type"`
}

// Callback receives events for one subscription.
type Callback func(Event)

// Info describes a running instance.
type Info struct {
	Key             string     `json:"key"`
	Config          Config     `json:"config"`
	SubscriberCount int        `json:"subscriberCount"`
	StartedAt       time.Time  `json:"startedAt"`
	NextFire        *time.Time `json:"nextFire,omitempty"`
	Fires           uint64     `json:"fires"`
}
