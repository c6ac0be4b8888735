package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ducminhle1904/virtual-autotrader/internal/engine"
	"github.com/ducminhle1904/virtual-autotrader/internal/logger"
	"github.com/ducminhle1904/virtual-autotrader/internal/monitoring"
)

// NewRouter builds the control API around eng
func NewRouter(eng *engine.Engine, health *monitoring.HealthChecker, log *logger.Logger) *gin.Engine {
	if log == nil {
		log = logger.NewNop()
	}
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(log))

	h := &Handler{Engine: eng, Log: log}
	h.Register(r)

	r.GET("/metrics", gin.WrapH(monitoring.MetricsHandler()))
	if health != nil {
		r.GET("/health", gin.WrapH(health))
	}
	return r
}

func requestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("%s %s -> %d (%s)", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}

// Server runs the router on addr until the context ends
type Server struct {
	srv *http.Server
	log *logger.Logger
}

func NewServer(addr string, handler http.Handler, log *logger.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		log: log,
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("🌐 Control API listening on %s", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(shutdownCtx)
}
