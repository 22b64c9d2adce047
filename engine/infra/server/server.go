// Package server exposes the HTTP API: document management, querying and
// health.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/askdocs/askdocs/engine/document"
	"github.com/askdocs/askdocs/engine/knowledge/answer"
	"github.com/askdocs/askdocs/engine/knowledge/retriever"
	"github.com/askdocs/askdocs/pkg/logger"
)

// Config holds HTTP server settings.
type Config struct {
	Host            string
	Port            int
	CORSEnabled     bool
	ShutdownTimeout time.Duration
}

// Deps are the services the HTTP handlers delegate to.
type Deps struct {
	Manager     *document.Manager
	Retriever   *retriever.Service
	Synthesizer *answer.Synthesizer
}

// Server is the HTTP front end.
type Server struct {
	cfg  Config
	deps Deps
	log  logger.Logger
	http *http.Server
}

// New constructs the server and its router.
func New(cfg Config, deps Deps, log logger.Logger) (*Server, error) {
	if deps.Manager == nil || deps.Retriever == nil || deps.Synthesizer == nil {
		return nil, errors.New("server requires manager, retriever and synthesizer")
	}
	if log == nil {
		log = logger.NewLogger(logger.DefaultConfig())
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	s := &Server{cfg: cfg, deps: deps, log: log}
	s.http = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           s.buildRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

func (s *Server) buildRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(s.requestLogger(), gin.Recovery())
	if s.cfg.CORSEnabled {
		router.Use(corsMiddleware())
	}
	api := router.Group("/api")
	{
		api.GET("/health", s.handleHealth)
		api.GET("/documents", s.handleListDocuments)
		api.GET("/documents/:filename", s.handleGetDocument)
		api.DELETE("/documents/:filename", s.handleDeleteDocument)
		api.POST("/upload", s.handleUpload)
		api.POST("/query", s.handleQuery)
	}
	return router
}

// Run serves requests until the context is canceled or an interrupt
// arrives, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return <-errCh
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		reqLog := s.log.With("method", c.Request.Method, "path", c.Request.URL.Path)
		c.Request = c.Request.WithContext(logger.ContextWithLogger(c.Request.Context(), reqLog))
		c.Next()
		reqLog.Info("request handled",
			"status", c.Writer.Status(),
			"duration", time.Since(start).String(),
		)
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
