// Package server exposes liveness, the last cycle summary and Prometheus
// metrics over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

type Server struct {
	addr   string
	engine *gin.Engine
	logger *zap.Logger
}

// New builds the router. metrics may be nil, in which case /metrics is not
// registered.
func New(addr string, status *Status, metrics http.Handler, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	engine.GET("/status", func(c *gin.Context) {
		cycles, last := status.Snapshot()
		body := gin.H{
			"uptime_seconds": int64(status.Uptime().Seconds()),
			"cycles":         cycles,
			"last_cycle":     last,
		}
		if rt := status.Runtime(); rt != nil {
			body["runtime"] = rt
		}
		c.JSON(http.StatusOK, body)
	})
	if metrics != nil {
		engine.GET("/metrics", gin.WrapH(metrics))
	}

	return &Server{
		addr:   addr,
		engine: engine,
		logger: logger.With(zap.String("component", "status_server")),
	}
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is cancelled
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Status server listening", zap.String("addr", s.addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}
