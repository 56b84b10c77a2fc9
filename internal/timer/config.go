package timer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser accepts 5 or 6 fields (optional seconds) and descriptors.
var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// maxIntervalSeconds is the longest interval a time.Duration can hold.
const maxIntervalSeconds = math.MaxInt64 / int64(time.Second)

// datetime-local layouts emitted by browsers, interpreted in the timer's zone.
var localLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// ParseConfig strictly decodes a timer config document and validates it.
func ParseConfig(data []byte) (Config, error) {
	var c Config
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&c); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return Config{}, fmt.Errorf("%w: trailing data", ErrInvalidConfig)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate reports the first problem with c. All errors wrap ErrInvalidConfig.
func (c Config) Validate() error {
	_, err := compile(c, time.UTC)
	return err
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}

// plan is a validated config with its time values resolved.
type plan struct {
	mode     Mode
	interval time.Duration
	anchor   time.Time // scheduled
	repeat   Repeat
	loc      *time.Location
	schedule cron.Schedule
}

func compile(c Config, defaultLoc *time.Location) (plan, error) {
	p := plan{mode: c.Mode}
	switch c.Mode {
	case ModeInterval:
		if c.Interval <= 0 {
			return plan{}, invalid("interval: must be a positive number of seconds, got %d", c.Interval)
		}
		if int64(c.Interval) > maxIntervalSeconds {
			return plan{}, invalid("interval: must be at most %d seconds, got %d", maxIntervalSeconds, c.Interval)
		}
		if c.ScheduledDateTime != "" || c.Repeat != "" || c.Cron != "" || c.Timezone != "" {
			return plan{}, invalid("interval mode: scheduledDateTime, repeat, cron and timezone must be empty")
		}
		p.interval = time.Duration(c.Interval) * time.Second
		return p, nil

	case ModeScheduled, ModeCron:
		if c.Interval != 0 || c.Immediate || c.RunOnce {
			return plan{}, invalid("%s mode: interval, immediate and runOnce must be empty", c.Mode)
		}
		loc, err := resolveLocation(c.Timezone, defaultLoc)
		if err != nil {
			return plan{}, err
		}
		p.loc = loc
		if c.Mode == ModeCron {
			return compileCron(c, p)
		}
		return compileScheduled(c, p)

	case "":
		return plan{}, invalid("mode: required")
	default:
		return plan{}, invalid("mode: unknown mode %q", c.Mode)
	}
}

func compileScheduled(c Config, p plan) (plan, error) {
	if c.Cron != "" {
		return plan{}, invalid("scheduled mode: cron must be empty")
	}
	switch c.Repeat {
	case RepeatOnce, RepeatDaily, RepeatWeekly, RepeatMonthly:
		p.repeat = c.Repeat
	case "":
		return plan{}, invalid("repeat: required")
	default:
		return plan{}, invalid("repeat: unknown value %q", c.Repeat)
	}
	at, err := parseDateTime(c.ScheduledDateTime, p.loc)
	if err != nil {
		return plan{}, err
	}
	p.anchor = at.In(p.loc)
	return p, nil
}

func compileCron(c Config, p plan) (plan, error) {
	if c.ScheduledDateTime != "" || c.Repeat != "" {
		return plan{}, invalid("cron mode: scheduledDateTime and repeat must be empty")
	}
	expr := strings.TrimSpace(c.Cron)
	if expr == "" {
		return plan{}, invalid("cron: required")
	}
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return plan{}, invalid("cron: %v", err)
	}
	p.schedule = sched
	return p, nil
}

func resolveLocation(name string, def *time.Location) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		if def == nil {
			return time.UTC, nil
		}
		return def, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, invalid("timezone: %v", err)
	}
	return loc, nil
}

// parseDateTime accepts RFC 3339 or an offset-less local form read in loc.
func parseDateTime(raw string, loc *time.Location) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, invalid("scheduledDateTime: required")
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, invalid("scheduledDateTime: cannot parse %q as an ISO-8601 date-time", raw)
}
