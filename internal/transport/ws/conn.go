package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"triggerd/internal/eventbus"
	logx "triggerd/pkg/logx"
)

const rateWarnEvery = 5 * time.Second

// conn is one client connection. readLoop owns protocol handling and close
// cleanup; writeLoop is the only goroutine writing data frames.
type conn struct {
	id      string
	srv     *Server
	ws      *websocket.Conn
	log     logx.Logger
	limiter *rate.Limiter

	send chan []byte
	quit chan struct{}

	closing atomic.Bool
	dropped atomic.Uint64

	deadlineMu sync.Mutex
	stopping   bool

	rateDropped  uint64
	lastRateWarn time.Time
}

func newConn(s *Server, wsConn *websocket.Conn, id string, lim *rate.Limiter) *conn {
	return &conn{
		id:      id,
		srv:     s,
		ws:      wsConn,
		log:     s.log.With(logx.String("conn", id)),
		limiter: lim,
		send:    make(chan []byte, s.set.SendQueue),
		quit:    make(chan struct{}),
	}
}

func (c *conn) readLoop() {
	defer c.cleanup()

	c.ws.SetReadLimit(c.srv.set.ReadLimit)
	c.extendDeadline()
	c.ws.SetPongHandler(func(string) error {
		c.extendDeadline()
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				c.log.Debug("read failed", logx.Err(err))
			}
			return
		}
		c.extendDeadline()

		if !c.limiter.Allow() {
			c.rateLimited()
			continue
		}
		c.handle(data)
	}
}

// extendDeadline drops peers that stay silent for two keepalive periods.
func (c *conn) extendDeadline() {
	c.deadlineMu.Lock()
	defer c.deadlineMu.Unlock()
	if c.stopping {
		return
	}
	_ = c.ws.SetReadDeadline(time.Now().Add(2 * c.srv.set.Keepalive))
}

func (c *conn) shutdown() {
	c.deadlineMu.Lock()
	defer c.deadlineMu.Unlock()
	c.stopping = true
	_ = c.ws.SetReadDeadline(time.Now())
}

func (c *conn) rateLimited() {
	c.rateDropped++
	now := time.Now()
	if now.Sub(c.lastRateWarn) < rateWarnEvery {
		return
	}
	c.lastRateWarn = now
	c.log.Warn("inbound rate exceeded; dropping messages", logx.Uint64("dropped", c.rateDropped))
}

func (c *conn) handle(data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.log.Debug("ignoring unparseable frame", logx.Err(err))
		return
	}

	switch msg.Type {
	case MsgInit, MsgConnectionInit:
		c.reply(ackFor(msg.Type), nil, nil)
	case MsgSubscribe:
		c.subscribe(msg)
	case MsgComplete:
		c.complete(msg.ID)
	case MsgPing:
		c.reply(MsgPong, nil, nil)
	case MsgPong:
	default:
		c.log.Debug("ignoring unknown message type", logx.String("type", msg.Type))
	}
}

func (c *conn) subscribe(msg Message) {
	if len(msg.ID) == 0 {
		c.replyError(nil, "subscribe requires an id")
		return
	}
	subID := string(msg.ID)

	eventType, key, err := parseSubscribe(msg.Payload)
	if err != nil {
		c.replyError(msg.ID, err.Error())
		return
	}
	f := c.srv.factory(eventType)
	if f == nil {
		c.replyError(msg.ID, fmt.Sprintf("unknown event type %q", eventType))
		return
	}
	if c.srv.reg.Has(c.id, subID) {
		c.replyError(msg.ID, fmt.Sprintf("subscriber for %s already exists", subID))
		return
	}

	id := append(json.RawMessage(nil), msg.ID...)
	sub := &subscription{}
	detach, err := f(key, func(data any) {
		sub.send(func() { c.deliver(id, eventType, data) })
	})
	if err != nil {
		c.replyError(msg.ID, err.Error())
		return
	}
	unsubscribe := func() {
		sub.stop()
		detach()
	}

	composite := Composite(eventType, key)
	if err := c.srv.reg.Add(c.id, subID, composite, unsubscribe); err != nil {
		unsubscribe()
		if errors.Is(err, errDuplicate) {
			c.replyError(msg.ID, fmt.Sprintf("subscriber for %s already exists", subID))
		}
		return
	}

	c.log.Debug("subscribed", logx.String("subscription", subID), logx.String("target", composite))
	c.srv.bus.Publish(eventbus.Event{Type: eventbus.SubscriptionOpened, Data: eventbus.Fields{
		"conn": c.id, "subscription": subID, "key": key, "mode": eventType,
	}})
}

// subscription gates deliveries for one subscribe. A fan-out may still hold
// the callback after unsubscribe; once stop returns no further next frame
// for the id is queued, so a client can reuse the id safely.
type subscription struct {
	mu   sync.Mutex
	done bool
}

func (s *subscription) send(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.done {
		fn()
	}
}

func (s *subscription) stop() {
	s.mu.Lock()
	s.done = true
	s.mu.Unlock()
}

func (c *conn) complete(id json.RawMessage) {
	if len(id) == 0 {
		return
	}
	rm, ok := c.srv.reg.Remove(c.id, string(id))
	if !ok {
		return
	}
	rm.Unsubscribe()
	c.log.Debug("unsubscribed", logx.String("subscription", rm.ID), logx.String("target", rm.Composite))
	c.publishClosed(rm, "complete")
}

func (c *conn) deliver(id json.RawMessage, eventType string, data any) {
	if c.closing.Load() {
		return
	}
	b, err := encode(MsgNext, id, nextPayload(eventType, data))
	if err != nil {
		c.log.Warn("encode event failed", logx.Err(err))
		return
	}
	c.enqueue(b)
}

func (c *conn) reply(typ string, id json.RawMessage, payload any) {
	b, err := encode(typ, id, payload)
	if err != nil {
		c.log.Warn("encode reply failed", logx.String("type", typ), logx.Err(err))
		return
	}
	c.enqueue(b)
}

func (c *conn) replyError(id json.RawMessage, msg string) {
	c.reply(MsgError, id, errorPayload(msg))
}

// enqueue never blocks; a full queue means a slow peer and the frame is lost.
func (c *conn) enqueue(b []byte) {
	select {
	case c.send <- b:
	default:
		if n := c.dropped.Add(1); n == 1 || n%100 == 0 {
			c.log.Warn("send queue full; dropping frames", logx.Uint64("dropped", n))
		}
	}
}

// cleanup runs once, on the reader goroutine, after the read side ends.
func (c *conn) cleanup() {
	c.closing.Store(true)

	removed := c.srv.reg.RemoveConn(c.id)
	for _, rm := range removed {
		rm.Unsubscribe()
		c.publishClosed(rm, "disconnect")
	}
	for _, rm := range removed {
		if b, err := encode(MsgComplete, json.RawMessage(rm.ID), nil); err == nil {
			c.enqueue(b)
		}
	}
	close(c.quit)

	c.log.Debug("connection closed", logx.Int("subscriptions", len(removed)), logx.Uint64("dropped", c.dropped.Load()))
	c.srv.bus.Publish(eventbus.Event{Type: eventbus.ConnectionClosed, Data: eventbus.Fields{"conn": c.id}})
}

func (c *conn) publishClosed(rm Removed, why string) {
	c.srv.bus.Publish(eventbus.Event{Type: eventbus.SubscriptionClosed, Data: eventbus.Fields{
		"conn": c.id, "subscription": rm.ID, "detail": rm.Composite + " " + why,
	}})
}

func (c *conn) writeLoop() {
	ticker := time.NewTicker(c.srv.set.Keepalive)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case b := <-c.send:
			if err := c.write(b); err != nil {
				c.log.Debug("write failed", logx.Err(err))
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.log.Debug("ping failed", logx.Err(err))
				return
			}
		case <-c.quit:
			c.flush()
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			return
		}
	}
}

func (c *conn) write(b []byte) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, b)
}

// flush writes whatever is still queued, stopping at the first error.
func (c *conn) flush() {
	for {
		select {
		case b := <-c.send:
			if err := c.write(b); err != nil {
				return
			}
		default:
			return
		}
	}
}
