// Package server exposes the exchange handler over HTTP with health and metrics endpoints.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lightninginspiration/supabridge"
)

// Options defines the configuration options for a Server.
type Options struct {
	Addr            string
	ExchangePaths   []string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	// Gatherer serves /metrics. Defaults to prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer

	// Logger receives access logs and lifecycle events. Defaults to a no-op logger.
	Logger *zap.Logger
}

// Server is the HTTP front of the bridge.
type Server struct {
	engine *gin.Engine
	opts   Options
}

// New creates a Server routing every configured exchange path to exchange.
func New(exchange http.Handler, optFns ...func(o *Options)) *Server {
	opts := Options{
		Addr:            ":8080",
		ExchangePaths:   []string{"/exchange"},
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    10 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		Gatherer:        prometheus.DefaultGatherer,
		Logger:          zap.NewNop(),
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	gin.SetMode(gin.ReleaseMode)

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(accessLog(opts.Logger))
	engine.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    supabridge.CORSAllowMethods,
		AllowHeaders:    supabridge.CORSAllowHeaders,
		MaxAge:          24 * time.Hour,
	}))

	// The exchange handler answers every method itself, including 405s.
	for _, path := range opts.ExchangePaths {
		engine.Any(path, gin.WrapH(exchange))
	}

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))

	engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, supabridge.ErrorResponse{Error: "Not found"})
	})

	return &Server{engine: engine, opts: opts}
}

// Handler returns the routed engine.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run listens on the configured address and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.opts.Addr, err)
	}

	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.engine,
		ReadTimeout:       s.opts.ReadTimeout,
		ReadHeaderTimeout: s.opts.ReadTimeout,
		WriteTimeout:      s.opts.WriteTimeout,
		MaxHeaderBytes:    1 << 20,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.opts.Logger.Info("starting http server", zap.String("addr", ln.Addr().String()))

		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.ShutdownTimeout)
		defer cancel()

		s.opts.Logger.Info("shutting down http server")

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down http server: %w", err)
		}

		return nil
	})

	return g.Wait()
}

// accessLog logs one line per request. Authorization headers and bodies are never logged.
func accessLog(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "not_found"
		}

		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
