// Package api is the HTTP surface of the gateway: the OpenAI-compatible
// chat endpoints plus the operational reporting endpoints.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pborenstein/apantli/internal/buildinfo"
	"github.com/pborenstein/apantli/internal/config"
	"github.com/pborenstein/apantli/internal/executor"
	"github.com/pborenstein/apantli/internal/ledger"
	log "github.com/pborenstein/apantli/internal/logging"
	"github.com/pborenstein/apantli/internal/metrics"
	"github.com/pborenstein/apantli/internal/provider"
	"github.com/pborenstein/apantli/internal/stats"
)

// Server wires the request pipeline to HTTP routes.
type Server struct {
	store  *config.Store
	exec   *executor.Executor
	ledger *ledger.Ledger
	stats  *stats.Service

	started time.Time
}

// NewServer assembles the server from its collaborators.
func NewServer(store *config.Store, exec *executor.Executor, led *ledger.Ledger) *Server {
	return &Server{
		store:   store,
		exec:    exec,
		ledger:  led,
		stats:   stats.NewService(led.Backend()),
		started: time.Now(),
	}
}

// Router builds the gin engine with all routes and middleware.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(log.GinLogger(), log.GinRecovery(), corsMiddleware())

	r.POST("/v1/chat/completions", s.handleChat)
	r.POST("/chat/completions", s.handleChat)

	r.GET("/health", s.handleHealth)
	r.GET("/models", s.handleModels)
	r.GET("/requests", s.handleRequests)
	r.GET("/stats", s.handleStats)
	r.GET("/stats/daily", s.handleStatsDaily)
	r.GET("/stats/hourly", s.handleStatsHourly)
	r.GET("/stats/date-range", s.handleStatsDateRange)
	r.DELETE("/errors", s.handleClearErrors)

	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("api: listening on %s (version %s)", addr, buildinfo.Version)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warnf("api: graceful shutdown incomplete: %v", err)
		return srv.Close()
	}
	return nil
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	snap := s.store.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"version":        buildinfo.Version,
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
		"models":         snap.Len(),
		"totals":         s.ledger.Counters(),
		"breakers":       s.exec.BreakerStates(),
	})
}

func (s *Server) handleModels(c *gin.Context) {
	snap := s.store.Snapshot()
	data := make([]gin.H, 0, snap.Len())
	for _, alias := range snap.Aliases() {
		prof, ok := snap.Profile(alias)
		if !ok {
			continue
		}
		data = append(data, gin.H{
			"id":       alias,
			"object":   "model",
			"owned_by": provider.Infer(prof.Model),
			"model":    prof.Model,
		})
	}
	c.JSON(http.StatusOK, gin.H{"object": "list", "data": data})
}
