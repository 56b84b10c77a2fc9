package app

import (
	"context"
	"time"

	"triggerd/internal/eventbus"
	"triggerd/internal/storage"
	logx "triggerd/pkg/logx"
)

const (
	auditWriteTimeout = 2 * time.Second
	auditWarnEvery    = 30 * time.Second
)

// recorder drains lifecycle events into the audit store and the debug log.
// It returns when the bus subscription is closed.
type recorder struct {
	events      <-chan eventbus.Event
	store       storage.Store
	recordFires bool
	log         logx.Logger

	lastWarn time.Time
	failed   uint64
}

func (r *recorder) run(context.Context) error {
	for e := range r.events {
		// Fires are frequent; keep them at trace.
		if e.Type == eventbus.TimerFired {
			r.log.Trace("event", logx.String("type", e.Type), logx.String("key", e.Data["key"]))
		} else {
			r.log.Debug("event", logx.String("type", e.Type), logx.Any("data", e.Data))
		}
		if r.store == nil || (e.Type == eventbus.TimerFired && !r.recordFires) {
			continue
		}
		r.append(e)
	}
	return nil
}

func (r *recorder) append(e eventbus.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), auditWriteTimeout)
	defer cancel()
	err := r.store.AppendAudit(ctx, auditEntry(e))
	if err == nil {
		return
	}
	r.failed++
	if now := time.Now(); now.Sub(r.lastWarn) >= auditWarnEvery {
		r.lastWarn = now
		r.log.Warn("audit append failed", logx.Uint64("failed", r.failed), logx.Err(err))
	}
}

func auditEntry(e eventbus.Event) storage.AuditEntry {
	return storage.AuditEntry{
		At:           e.Time,
		Kind:         e.Type,
		Key:          e.Data["key"],
		Mode:         e.Data["mode"],
		Conn:         e.Data["conn"],
		Subscription: e.Data["subscription"],
		Detail:       e.Data["detail"],
	}
}
