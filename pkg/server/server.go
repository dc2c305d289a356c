// Package server exposes the image store over HTTP.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/wuxler/imgvault/pkg/backend"
	"github.com/wuxler/imgvault/pkg/derivative"
	"github.com/wuxler/imgvault/pkg/ingest"
	"github.com/wuxler/imgvault/pkg/util/xio"
	"github.com/wuxler/imgvault/pkg/xlog"
)

// DefaultMaxUploadSize bounds uploads when Options.MaxUploadSize is not set.
const DefaultMaxUploadSize = 20 * xio.MiB

// Options configures a Server.
type Options struct {
	// MaxUploadSize is the largest accepted request body of an upload.
	MaxUploadSize int64
	// ShutdownTimeout bounds the graceful shutdown of Run.
	ShutdownTimeout time.Duration
}

// Server serves uploads, metadata and derivatives.
type Server struct {
	pipeline *ingest.Pipeline
	adapter  backend.Adapter
	cache    *derivative.Cache
	opts     Options
}

// New returns a Server storing through pipeline and serving derivatives from
// cache.
func New(pipeline *ingest.Pipeline, cache *derivative.Cache, opts Options) *Server {
	if opts.MaxUploadSize <= 0 {
		opts.MaxUploadSize = DefaultMaxUploadSize
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 5 * time.Second //nolint:mnd // default grace period
	}
	return &Server{pipeline: pipeline, adapter: pipeline.Adapter(), cache: cache, opts: opts}
}

// Handler returns the gin engine with all routes.
func (s *Server) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(LoggingMiddleware())
	router.Use(gin.CustomRecovery(HandlePanics()))

	router.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	images := router.Group("/images")
	{
		images.POST("", s.upload)
		images.GET("", s.list)
		images.GET("/:id", s.metadata)
		images.DELETE("/:id", s.delete)
	}

	router.GET("/:size/:g1/:g2/:file", s.derivative)
	router.HEAD("/:size/:g1/:g2/:file", s.derivative)
	return router
}

// Run listens on address until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, address string) error {
	srv := &http.Server{
		Addr:              address,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second, //nolint:mnd // slowloris guard
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	xlog.C(ctx).Infof("server listening on %s", address)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		xlog.C(ctx).Error("server shutdown failed", "error", err)
		return err
	}
	xlog.C(ctx).Info("server stopped")
	return nil
}
