// Package api is triggerd's HTTP control plane: timer management and
// read-only introspection over JSON, served with gin.
package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"

	"triggerd/internal/storage"
	"triggerd/internal/timer"
	logx "triggerd/pkg/logx"
)

// Timers is the part of the timer registry the API drives.
type Timers interface {
	StartTimer(key string, cfg timer.Config) error
	StopTimer(key string)
	Timers() []timer.Info
	TimerInfo(key string) (timer.Info, bool)
}

// Subscriptions exposes the active-subscription index.
type Subscriptions interface {
	Snapshot() map[string]int
	ConnCount() int
}

type AuditReader interface {
	RecentAudit(ctx context.Context, limit int) ([]storage.AuditEntry, error)
}

const maxBodySize = 64 << 10

type Server struct {
	timers Timers
	subs   Subscriptions
	audit  AuditReader
	log    logx.Logger

	token  atomic.Pointer[string]
	router *gin.Engine
}

type Option func(*Server)

func WithLogger(log logx.Logger) Option { return func(s *Server) { s.log = log } }

// WithAudit enables GET /api/audit.
func WithAudit(a AuditReader) Option { return func(s *Server) { s.audit = a } }

// WithToken guards /api/* with a bearer token. Empty disables the check.
func WithToken(token string) Option { return func(s *Server) { s.SetToken(token) } }

func New(timers Timers, subs Subscriptions, opts ...Option) *Server {
	s := &Server{timers: timers, subs: subs, log: logx.Nop()}
	s.SetToken("")
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With(logx.String("comp", "api"))

	router := gin.New()
	router.Use(s.recovery(), s.accessLog())

	router.GET("/healthz", s.handleHealth)

	api := router.Group("/api", s.auth())
	{
		api.GET("/timers", s.handleListTimers)
		api.GET("/timers/:key", s.handleGetTimer)
		api.PUT("/timers/:key", s.handleStartTimer)
		api.DELETE("/timers/:key", s.handleStopTimer)
		api.GET("/subscriptions", s.handleSubscriptions)
		api.GET("/audit", s.handleAudit)
	}

	s.router = router
	return s
}

// Mount serves h at path, outside the /api token check.
func (s *Server) Mount(path string, h http.Handler) {
	s.router.GET(path, gin.WrapH(h))
}

// SetToken swaps the bearer token; safe while serving.
func (s *Server) SetToken(token string) {
	token = strings.TrimSpace(token)
	s.token.Store(&token)
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) auth() gin.HandlerFunc {
	return func(c *gin.Context) {
		want := *s.token.Load()
		if want == "" {
			c.Next()
			return
		}
		got, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(got)), []byte(want)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

func (s *Server) recovery() gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(nil, func(c *gin.Context, rec any) {
		s.log.Error("handler panic", logx.String("path", c.Request.URL.Path), logx.Any("panic", rec))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	})
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if !s.log.Enabled(logx.LevelDebug) {
			return
		}
		s.log.Debug("request",
			logx.String("method", c.Request.Method),
			logx.String("path", c.Request.URL.Path),
			logx.Int("status", c.Writer.Status()),
			logx.Duration("took", time.Since(start)),
		)
	}
}
