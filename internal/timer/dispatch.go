package timer

import (
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	logx "triggerd/pkg/logx"
)

const panicWarnThrottle = 5 * time.Second

// dispatcher fans one event out to a snapshot of subscribers.
type dispatcher struct {
	log   logx.Logger
	clock Clock

	mu       sync.Mutex
	lastWarn map[string]time.Time
}

// deliver invokes every callback with ev. alive is checked before each call
// so a stop that lands mid fan-out suppresses the remaining deliveries.
// It returns how many callbacks panicked.
func (d *dispatcher) deliver(ev Event, subs []Callback, alive func() bool) (failed int) {
	for _, cb := range subs {
		if !alive() {
			return failed
		}
		if err := d.invoke(cb, ev); err != nil {
			failed++
			d.reportPanic(ev.Key, err)
		}
	}
	return failed
}

func (d *dispatcher) invoke(cb Callback, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscriber panicked: %v\n%s", r, debug.Stack())
		}
	}()
	cb(ev)
	return nil
}

// reportPanic logs at most one warning per key per panicWarnThrottle.
func (d *dispatcher) reportPanic(key string, err error) {
	now := d.clock.Now()
	d.mu.Lock()
	if d.lastWarn == nil {
		d.lastWarn = make(map[string]time.Time)
	}
	last, seen := d.lastWarn[key]
	if seen && now.Sub(last) < panicWarnThrottle {
		d.mu.Unlock()
		d.log.Debug("subscriber callback failed", logx.String("key", key), logx.Err(err))
		return
	}
	d.lastWarn[key] = now
	d.mu.Unlock()

	d.log.Warn("subscriber callback failed", logx.String("key", key), logx.Err(err))
}

func (d *dispatcher) forget(key string) {
	d.mu.Lock()
	delete(d.lastWarn, key)
	d.mu.Unlock()
}
