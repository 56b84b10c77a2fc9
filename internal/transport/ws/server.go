package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"triggerd/internal/eventbus"
	logx "triggerd/pkg/logx"
)

// Subprotocol is echoed when the client offers it.
const Subprotocol = "graphql-transport-ws"

const writeWait = 10 * time.Second

// Factory attaches a subscriber for key. deliver may be called from any
// goroutine until the returned unsubscribe runs.
type Factory func(key string, deliver func(data any)) (unsubscribe func(), err error)

type Settings struct {
	Keepalive time.Duration
	SendQueue int
	ReadLimit int64
	MsgRate   float64
	MsgBurst  int
}

func (s Settings) withDefaults() Settings {
	if s.Keepalive <= 0 {
		s.Keepalive = 12 * time.Second
	}
	if s.SendQueue <= 0 {
		s.SendQueue = 64
	}
	if s.ReadLimit <= 0 {
		s.ReadLimit = 64 << 10
	}
	if s.MsgRate <= 0 {
		s.MsgRate = 50
	}
	if s.MsgBurst <= 0 {
		s.MsgBurst = 100
	}
	return s
}

// Server terminates WebSocket connections and runs the subscription protocol
// on each of them.
type Server struct {
	log logx.Logger
	bus eventbus.Bus
	reg *Registry

	set      Settings
	upgrader websocket.Upgrader

	mu        sync.RWMutex
	factories map[string]Factory
	limit     rate.Limit
	burst     int

	connsMu sync.Mutex
	conns   map[string]*conn
	closed  bool
	wg      sync.WaitGroup
}

type Option func(*Server)

func WithLogger(log logx.Logger) Option { return func(s *Server) { s.log = log } }

func WithBus(b eventbus.Bus) Option { return func(s *Server) { s.bus = b } }

func NewServer(set Settings, opts ...Option) *Server {
	set = set.withDefaults()
	s := &Server{
		log:       logx.Nop(),
		bus:       eventbus.Nop(),
		reg:       NewRegistry(),
		set:       set,
		factories: map[string]Factory{},
		limit:     rate.Limit(set.MsgRate),
		burst:     set.MsgBurst,
		conns:     map[string]*conn{},
	}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With(logx.String("comp", "ws"))
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		Subprotocols:    []string{Subprotocol, "graphql-ws"},
		// Browser clients of the workflow editor are served from other origins;
		// access control belongs to the request layer in front of this server.
		CheckOrigin: func(*http.Request) bool { return true },
	}
	return s
}

// Register binds an event type to the factory that creates its subscribers.
// Registering the same type again replaces the factory for new subscriptions.
func (s *Server) Register(eventType string, f Factory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.factories[eventType] = f
}

func (s *Server) factory(eventType string) Factory {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.factories[eventType]
}

func (s *Server) Registry() *Registry { return s.reg }

// SetRate changes the inbound message limit of new and open connections.
func (s *Server) SetRate(perSec float64, burst int) {
	if perSec <= 0 || burst <= 0 {
		return
	}
	s.mu.Lock()
	s.limit = rate.Limit(perSec)
	s.burst = burst
	s.mu.Unlock()

	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	for _, c := range s.conns {
		c.limiter.SetLimit(rate.Limit(perSec))
		c.limiter.SetBurst(burst)
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.connsMu.Lock()
	closed := s.closed
	s.connsMu.Unlock()
	if closed {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		s.log.Debug("upgrade failed", logx.String("remote", r.RemoteAddr), logx.Err(err))
		return
	}

	s.mu.RLock()
	lim := rate.NewLimiter(s.limit, s.burst)
	s.mu.RUnlock()

	c := newConn(s, wsConn, uuid.NewString(), lim)

	s.connsMu.Lock()
	if s.closed {
		s.connsMu.Unlock()
		_ = wsConn.Close()
		return
	}
	s.conns[c.id] = c
	s.wg.Add(2)
	s.connsMu.Unlock()

	s.reg.AddConn(c.id)
	s.log.Debug("connection opened", logx.String("conn", c.id), logx.String("remote", r.RemoteAddr), logx.String("subprotocol", wsConn.Subprotocol()))
	s.bus.Publish(eventbus.Event{Type: eventbus.ConnectionOpened, Data: eventbus.Fields{"conn": c.id, "detail": r.RemoteAddr}})

	go func() {
		defer s.wg.Done()
		c.writeLoop()
	}()
	go func() {
		defer s.wg.Done()
		c.readLoop()
		s.connsMu.Lock()
		delete(s.conns, c.id)
		s.connsMu.Unlock()
	}()
}

// Shutdown stops accepting connections and closes the open ones, running the
// normal close cleanup for each. It waits until every connection goroutine
// has exited or ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	s.connsMu.Lock()
	s.closed = true
	open := make([]*conn, 0, len(s.conns))
	for _, c := range s.conns {
		open = append(open, c)
	}
	s.connsMu.Unlock()

	for _, c := range open {
		c.shutdown()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		for _, c := range open {
			_ = c.ws.Close()
		}
		return ctx.Err()
	}
}
