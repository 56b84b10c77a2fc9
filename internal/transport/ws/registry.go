package ws

import (
	"errors"
	"sync"
)

var (
	errConnClosed = errors.New("connection closed")
	errDuplicate  = errors.New("duplicate subscription id")
)

// Registry tracks which connection holds which subscription and, across all
// connections, which connections receive each event-type:key pair.
//
// Every recorded unsubscribe handle is handed back exactly once, by Remove
// or by RemoveConn. Index entries are deleted as soon as no connection holds
// the pair.
type Registry struct {
	mu     sync.Mutex
	conns  map[string]map[string]entry // conn id -> subscription id -> entry
	active map[string]map[string]int   // event-type:key -> conn id -> subscriptions
}

type entry struct {
	composite   string
	unsubscribe func()
}

// Removed is a subscription taken out of the registry. The caller must
// invoke Unsubscribe.
type Removed struct {
	ID          string
	Composite   string
	Unsubscribe func()
}

func NewRegistry() *Registry {
	return &Registry{
		conns:  map[string]map[string]entry{},
		active: map[string]map[string]int{},
	}
}

// Composite is the index key for an event type and key.
func Composite(eventType, key string) string { return eventType + ":" + key }

func (r *Registry) AddConn(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[connID]; !ok {
		r.conns[connID] = map[string]entry{}
	}
}

func (r *Registry) Has(connID, subID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.conns[connID][subID]
	return ok
}

// Add records a subscription. It fails if the connection is gone or the id
// is already in use on it; the caller still owns unsubscribe in that case.
func (r *Registry) Add(connID, subID, composite string, unsubscribe func()) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	subs, ok := r.conns[connID]
	if !ok {
		return errConnClosed
	}
	if _, dup := subs[subID]; dup {
		return errDuplicate
	}
	subs[subID] = entry{composite: composite, unsubscribe: unsubscribe}

	set := r.active[composite]
	if set == nil {
		set = map[string]int{}
		r.active[composite] = set
	}
	set[connID]++
	return nil
}

// Remove takes one subscription out. ok is false if it was not recorded.
func (r *Registry) Remove(connID, subID string) (Removed, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[connID][subID]
	if !ok {
		return Removed{}, false
	}
	delete(r.conns[connID], subID)
	r.releaseLocked(e.composite, connID)
	return Removed{ID: subID, Composite: e.composite, Unsubscribe: e.unsubscribe}, true
}

// RemoveConn forgets the connection and returns its remaining subscriptions.
func (r *Registry) RemoveConn(connID string) []Removed {
	r.mu.Lock()
	defer r.mu.Unlock()
	subs, ok := r.conns[connID]
	if !ok {
		return nil
	}
	delete(r.conns, connID)
	out := make([]Removed, 0, len(subs))
	for id, e := range subs {
		r.releaseLocked(e.composite, connID)
		out = append(out, Removed{ID: id, Composite: e.composite, Unsubscribe: e.unsubscribe})
	}
	return out
}

func (r *Registry) releaseLocked(composite, connID string) {
	set := r.active[composite]
	if set == nil {
		return
	}
	if set[connID] <= 1 {
		delete(set, connID)
	} else {
		set[connID]--
	}
	if len(set) == 0 {
		delete(r.active, composite)
	}
}

// Snapshot maps each active event-type:key to its number of connections.
func (r *Registry) Snapshot() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int, len(r.active))
	for k, set := range r.active {
		out[k] = len(set)
	}
	return out
}

func (r *Registry) ConnCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// Subscriptions returns how many subscriptions connID holds.
func (r *Registry) Subscriptions(connID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns[connID])
}
