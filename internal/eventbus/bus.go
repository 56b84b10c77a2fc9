package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Lifecycle event types published by triggerd components.
const (
	TimerStarted = "timer.started"
	TimerStopped = "timer.stopped"
	TimerFired   = "timer.fired"
	TimerExpired = "timer.expired"

	SubscriptionOpened = "subscription.opened"
	SubscriptionClosed = "subscription.closed"

	ConnectionOpened = "connection.opened"
	ConnectionClosed = "connection.closed"
)

// Event is a small in-memory signal used to decouple the timer engine and the
// transport from observers such as the audit recorder.
//
// Publish never blocks. Subscribers get a buffered channel and lose events
// when they fall behind; Dropped reports how many.
type Event struct {
	Type string
	Time time.Time
	Data Fields
}

// Fields is the payload of an Event. Keys used by triggerd: key, mode, conn,
// subscription, detail.
type Fields map[string]string

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
	Dropped() uint64
}

// New returns an in-memory fan-out bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

// Nop discards everything. Handy for components constructed without a bus.
func Nop() Bus { return nopBus{} }

type memBus struct {
	mu      sync.RWMutex
	subs    map[uint64]chan Event
	seq     atomic.Uint64
	dropped atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	// Hold the read lock during the sends so unsubscribe cannot close a channel
	// under us; every send is non-blocking so the lock is held briefly.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
	return ch, unsub
}

func (b *memBus) Dropped() uint64 { return b.dropped.Load() }

type nopBus struct{}

func (nopBus) Publish(Event) {}
func (nopBus) Subscribe(int) (<-chan Event, func()) {
	ch := make(chan Event)
	close(ch)
	return ch, func() {}
}
func (nopBus) Dropped() uint64 { return 0 }
