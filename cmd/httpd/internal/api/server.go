package api

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hasirciogluhq/xstatic/cmd/httpd/internal/core"
	"github.com/hasirciogluhq/xstatic/cmd/httpd/internal/logger"
)

// StatsProvider is implemented by *core.Server.
type StatsProvider interface {
	Stats() core.Stats
}

type HealthServer struct {
	server  *http.Server
	stats   StatsProvider
	ready   atomic.Bool
	started time.Time
}

// StatusResponse is the body of /status.
type StatusResponse struct {
	Ready         bool       `json:"ready"`
	UptimeSeconds int64      `json:"uptime_seconds"`
	Connections   core.Stats `json:"connections"`
}

func NewHealthServer(addr string, stats StatsProvider) *HealthServer {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	hs := &HealthServer{
		server: &http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		},
		stats:   stats,
		started: time.Now(),
	}

	// Default to not ready until explicitly set
	hs.ready.Store(false)

	router.GET("/health", hs.handleHealth)
	router.GET("/ready", hs.handleReady)
	router.GET("/status", hs.handleStatus)

	return hs
}

// Handler exposes the router, mainly for tests.
func (s *HealthServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HealthServer) Start() {
	go func() {
		logger.Info("Health server listening", "addr", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Health server error", "error", err)
		}
	}()
}

func (s *HealthServer) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *HealthServer) SetReady(ready bool) {
	s.ready.Store(ready)
}

func (s *HealthServer) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *HealthServer) handleReady(c *gin.Context) {
	if s.ready.Load() {
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
		return
	}
	c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready"})
}

func (s *HealthServer) handleStatus(c *gin.Context) {
	resp := StatusResponse{
		Ready:         s.ready.Load(),
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
	}
	if s.stats != nil {
		resp.Connections = s.stats.Stats()
	}
	c.JSON(http.StatusOK, resp)
}
