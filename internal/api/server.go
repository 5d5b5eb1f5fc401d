// Package api provides the HTTP surface of the Chimera query service.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/darshan-rambhia/chimera/internal/cache"
	"github.com/darshan-rambhia/chimera/internal/catalog"
	"github.com/darshan-rambhia/chimera/internal/engine"
	"github.com/darshan-rambhia/chimera/internal/store"

	_ "github.com/darshan-rambhia/chimera/docs/swagger"
)

// Options tune the HTTP server.
type Options struct {
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	// RateLimit may be nil.
	RateLimit *RateLimiter
}

// Server is the HTTP server for Chimera.
type Server struct {
	engine   *engine.Engine
	catalogs *catalog.Catalog
	store    *store.Store
	cache    *cache.Cache
	mux      *http.ServeMux
	server   *http.Server
}

// NewServer creates a new HTTP server.
func NewServer(addr string, e *engine.Engine, cat *catalog.Catalog, s *store.Store, c *cache.Cache, opts Options) *Server {
	srv := &Server{
		engine:   e,
		catalogs: cat,
		store:    s,
		cache:    c,
		mux:      http.NewServeMux(),
	}

	srv.registerRoutes()

	srv.server = &http.Server{
		Addr: addr,
		Handler: SecurityHeadersMiddleware(RecoveryMiddleware(LoggingMiddleware(
			RequestIDMiddleware(opts.RateLimit.Middleware(srv.mux)),
		))),
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
		IdleTimeout:  opts.IdleTimeout,
	}

	return srv
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler { return s.server.Handler }

// Run starts the HTTP server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	slog.Info("HTTP server starting", "addr", s.server.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		slog.Info("HTTP server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) registerRoutes() {
	// Query engine
	s.mux.HandleFunc("POST /api/srvprop/{$}", s.handleSrvProp)

	// Introspection
	s.mux.HandleFunc("GET /api/modelfieldscontent/{index}/{$}", s.handleFieldsContent)
	s.mux.HandleFunc("GET /api/modelfieldsmapping/{index}/{$}", s.handleFieldsMapping)

	// Annotations
	s.mux.HandleFunc("GET /api/annotations/{server_id}/{$}", s.handleGetAnnotation)
	s.mux.HandleFunc("POST /api/annotations/{server_id}/{$}", s.handlePostAnnotation)

	// Health check
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)

	// Swagger UI
	s.mux.Handle("GET /swagger/", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))
}
