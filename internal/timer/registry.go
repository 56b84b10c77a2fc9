package timer

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"triggerd/internal/eventbus"
	logx "triggerd/pkg/logx"
)

// Registry owns the running timer instances, at most one per key.
//
// All registry state is guarded by mu. Subscriber callbacks run outside the
// lock on the clock's goroutine; the next fire of an instance is armed only
// after the current fan-out returns, so events for one key never overlap or
// reorder.
type Registry struct {
	mu     sync.Mutex
	timers map[string]*instance

	clock Clock
	log   logx.Logger
	bus   eventbus.Bus
	loc   *time.Location
	d     *dispatcher
}

type instance struct {
	key  string
	cfg  Config
	plan plan

	startedAt time.Time
	expected  time.Time // interval mode: the drift-corrected time of the next regular fire
	next      time.Time // zero when nothing is armed
	kick      bool      // the armed fire is the immediate one
	handle    Stopper
	armSeq    uint64
	stopped   atomic.Bool

	subs   []subscriber
	subSeq uint64
	fires  uint64
}

type subscriber struct {
	id uint64
	cb Callback
}

type Option func(*Registry)

func WithClock(c Clock) Option { return func(r *Registry) { r.clock = c } }

func WithLogger(log logx.Logger) Option { return func(r *Registry) { r.log = log } }

func WithBus(b eventbus.Bus) Option { return func(r *Registry) { r.bus = b } }

// WithLocation sets the zone used for scheduled and cron timers that name no
// timezone, and for offset-less scheduledDateTime values. Default UTC.
func WithLocation(loc *time.Location) Option { return func(r *Registry) { r.loc = loc } }

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		timers: map[string]*instance{},
		clock:  RealClock{},
		log:    logx.Nop(),
		bus:    eventbus.Nop(),
		loc:    time.UTC,
	}
	for _, o := range opts {
		o(r)
	}
	if r.loc == nil {
		r.loc = time.UTC
	}
	r.log = r.log.With(logx.String("comp", "timer"))
	r.d = &dispatcher{log: r.log, clock: r.clock}
	return r
}

// StartTimer replaces any instance under key with a new one running cfg.
// Config errors are returned before the old instance is touched.
func (r *Registry) StartTimer(key string, cfg Config) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return invalid("key: required")
	}
	p, err := compile(cfg, r.loc)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if old := r.timers[key]; old != nil {
		r.stopLocked(old, "superseded")
	}
	now := r.clock.Now()
	inst := &instance{key: key, cfg: cfg, plan: p, startedAt: now}
	r.timers[key] = inst
	r.publish(eventbus.TimerStarted, inst, "")

	switch p.mode {
	case ModeInterval:
		inst.expected = now.Add(p.interval)
		if cfg.Immediate {
			inst.kick = true
			r.armLocked(inst, now, now)
		} else {
			r.armLocked(inst, inst.expected, now)
		}
	case ModeScheduled, ModeCron:
		from := now
		if p.mode == ModeScheduled {
			// A scheduledDateTime of exactly now is due now, not one period later.
			from = now.Add(-time.Nanosecond)
		}
		next, ok := r.nextLocked(inst, from)
		if !ok {
			r.log.Warn("timer will never fire", logx.String("key", key), logx.String("mode", string(p.mode)),
				logx.String("scheduledDateTime", cfg.ScheduledDateTime), logx.String("cron", cfg.Cron))
			r.publish(eventbus.TimerExpired, inst, "no future occurrence")
			return nil
		}
		r.armLocked(inst, next, now)
	}

	r.log.Debug("timer started", logx.String("key", key), logx.String("mode", string(p.mode)), logx.Time("next", inst.next))
	return nil
}

// StopTimer cancels the pending fire and removes the instance. Unknown keys
// are ignored.
func (r *Registry) StopTimer(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if inst := r.timers[key]; inst != nil {
		r.stopLocked(inst, "stopped")
	}
}

// StopAll stops every instance.
func (r *Registry) StopAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, inst := range r.timers {
		r.stopLocked(inst, "shutdown")
	}
}

// Subscribe adds cb to the instance under key. The returned function removes
// it and is safe to call more than once.
func (r *Registry) Subscribe(key string, cb Callback) (func(), error) {
	if cb == nil {
		return nil, errors.New("timer: nil callback")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	inst := r.timers[key]
	if inst == nil {
		return nil, fmt.Errorf("%w: %q (start the timer before subscribing)", ErrTimerNotFound, key)
	}
	inst.subSeq++
	id := inst.subSeq
	inst.subs = append(inst.subs, subscriber{id: id, cb: cb})

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			for i, s := range inst.subs {
				if s.id == id {
					inst.subs = append(inst.subs[:i:i], inst.subs[i+1:]...)
					return
				}
			}
		})
	}, nil
}

// ActiveTimers returns the running keys, sorted.
func (r *Registry) ActiveTimers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.timers))
	for k := range r.timers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (r *Registry) TimerInfo(key string) (Info, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst := r.timers[key]
	if inst == nil {
		return Info{}, false
	}
	return inst.info(), true
}

// Timers returns Info for every running instance, sorted by key.
func (r *Registry) Timers() []Info {
	r.mu.Lock()
	out := make([]Info, 0, len(r.timers))
	for _, inst := range r.timers {
		out = append(out, inst.info())
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func (inst *instance) info() Info {
	in := Info{
		Key:             inst.key,
		Config:          inst.cfg,
		SubscriberCount: len(inst.subs),
		StartedAt:       inst.startedAt,
		Fires:           inst.fires,
	}
	if !inst.next.IsZero() {
		next := inst.next
		in.NextFire = &next
	}
	return in
}

func (r *Registry) armLocked(inst *instance, at, now time.Time) {
	inst.armSeq++
	seq := inst.armSeq
	inst.next = at
	inst.handle = r.clock.AfterFunc(at.Sub(now), func() { r.fire(inst, seq) })
}

func (r *Registry) stopLocked(inst *instance, reason string) {
	inst.stopped.Store(true)
	if inst.handle != nil {
		inst.handle.Stop()
		inst.handle = nil
	}
	inst.next = time.Time{}
	if r.timers[inst.key] == inst {
		delete(r.timers, inst.key)
	}
	if reason != "superseded" {
		r.d.forget(inst.key)
	}
	r.publish(eventbus.TimerStopped, inst, reason)
	r.log.Debug("timer stopped", logx.String("key", inst.key), logx.String("reason", reason), logx.Uint64("fires", inst.fires))
}

// fire runs on the clock's goroutine. seq identifies the arming; a fire whose
// instance was stopped, replaced or re-armed since is dropped.
func (r *Registry) fire(inst *instance, seq uint64) {
	r.mu.Lock()
	if inst.stopped.Load() || inst.armSeq != seq || r.timers[inst.key] != inst {
		r.mu.Unlock()
		return
	}
	now := r.clock.Now()
	kick := inst.kick
	inst.kick = false
	inst.handle = nil
	inst.next = time.Time{}
	inst.fires++
	ev := Event{Key: inst.key, Timestamp: now.UnixMilli(), Type: inst.plan.mode}
	subs := make([]Callback, len(inst.subs))
	for i, s := range inst.subs {
		subs[i] = s.cb
	}
	r.mu.Unlock()

	r.d.deliver(ev, subs, func() bool { return !inst.stopped.Load() })

	r.mu.Lock()
	defer r.mu.Unlock()
	if inst.stopped.Load() || inst.armSeq != seq {
		return
	}
	r.publish(eventbus.TimerFired, inst, "")
	r.rescheduleLocked(inst, kick)
}

func (r *Registry) rescheduleLocked(inst *instance, kick bool) {
	now := r.clock.Now()
	switch inst.plan.mode {
	case ModeInterval:
		if inst.cfg.RunOnce {
			r.stopLocked(inst, "runOnce")
			return
		}
		if !kick {
			// Advance by exactly one period regardless of when this fire ran.
			inst.expected = inst.expected.Add(inst.plan.interval)
		}
		at := inst.expected
		if at.Before(now) {
			at = now
		}
		r.armLocked(inst, at, now)
	case ModeScheduled, ModeCron:
		if inst.plan.mode == ModeScheduled && inst.plan.repeat == RepeatOnce {
			// Done; stays registered until stopped or restarted.
			return
		}
		if next, ok := r.nextLocked(inst, now); ok {
			r.armLocked(inst, next, now)
		}
	}
}

// nextLocked computes the next calendar or cron occurrence after now.
func (r *Registry) nextLocked(inst *instance, now time.Time) (time.Time, bool) {
	p := inst.plan
	if p.mode == ModeCron {
		next := p.schedule.Next(now.In(p.loc))
		return next, !next.IsZero()
	}
	return nextCalendar(p.anchor, p.repeat, now)
}

func (r *Registry) publish(typ string, inst *instance, detail string) {
	f := eventbus.Fields{"key": inst.key, "mode": string(inst.plan.mode)}
	if detail != "" {
		f["detail"] = detail
	}
	r.bus.Publish(eventbus.Event{Type: typ, Time: r.clock.Now(), Data: f})
}
