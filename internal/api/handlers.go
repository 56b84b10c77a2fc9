package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"triggerd/internal/storage"
	"triggerd/internal/timer"
	logx "triggerd/pkg/logx"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

func (s *Server) handleListTimers(c *gin.Context) {
	infos := s.timers.Timers()
	if infos == nil {
		infos = []timer.Info{}
	}
	c.JSON(http.StatusOK, infos)
}

func (s *Server) handleGetTimer(c *gin.Context) {
	info, ok := s.timers.TimerInfo(c.Param("key"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "timer not found"})
		return
	}
	c.JSON(http.StatusOK, info)
}

func (s *Server) handleStartTimer(c *gin.Context) {
	key := c.Param("key")

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodySize))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "read body: " + err.Error()})
		return
	}
	cfg, err := timer.ParseConfig(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.timers.StartTimer(key, cfg); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, timer.ErrInvalidConfig) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	s.log.Info("timer started via api", logx.String("key", key), logx.String("mode", string(cfg.Mode)))
	c.Status(http.StatusNoContent)
}

func (s *Server) handleStopTimer(c *gin.Context) {
	s.timers.StopTimer(c.Param("key"))
	c.Status(http.StatusNoContent)
}

func (s *Server) handleSubscriptions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"connections":   s.subs.ConnCount(),
		"subscriptions": s.subs.Snapshot(),
	})
}

func (s *Server) handleAudit(c *gin.Context) {
	if s.audit == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "audit storage disabled"})
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}

	entries, err := s.audit.RecentAudit(c.Request.Context(), limit)
	if err != nil {
		s.log.Warn("audit read failed", logx.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if entries == nil {
		entries = []storage.AuditEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}
