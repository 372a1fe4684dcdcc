// Package api exposes the engine's operations over HTTP alongside the
// primary TCP protocol, plus health, stats and Prometheus metrics.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"kbserve/src/internal/embed"
	"kbserve/src/internal/kb"
	"kbserve/src/internal/observability"

	"github.com/gin-gonic/gin"
)

type Server struct {
	KB       *kb.Engine
	Embedder embed.Embedder
	Engine   *gin.Engine

	key string
}

func NewServer(engine *kb.Engine, embedder embed.Embedder, key string) *Server {
	e := gin.Default()
	s := &Server{
		KB:       engine,
		Embedder: embedder,
		Engine:   e,
		key:      key,
	}
	s.Engine.Use(s.authMiddleware())
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.Engine.GET("/health", s.handleHealth)
	s.Engine.GET("/metrics", gin.WrapH(observability.MetricsHandler()))

	v1 := s.Engine.Group("/api/v1")
	{
		v1.POST("/memories", s.handleAdd)
		v1.GET("/memories/:id", s.handleExists)
		v1.PUT("/memories/:id", s.handleUpdate)
		v1.DELETE("/memories/:id", s.handleRemove)
		v1.POST("/search", s.handleSearch)
		v1.PUT("/preferences/:key", s.handleSetPreference)
		v1.GET("/preferences/:key", s.handleGetPreference)
		v1.GET("/stats", s.handleStats)
	}
}

func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.key == "" {
			c.Next()
			return
		}
		// Health and metrics stay open for probes and scrapers
		if c.Request.URL.Path == "/health" || c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}
		if c.GetHeader("X-Server-Key") != s.key {
			slog.Warn("unauthorized http request", "path", c.Request.URL.Path, "remote", c.ClientIP())
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or missing server key"})
			return
		}
		c.Next()
	}
}

func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	go func() {
		slog.Info("http api listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("http api ListenAndServe error", "error", err)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down http api")

	ctxShut, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(ctxShut)
}
