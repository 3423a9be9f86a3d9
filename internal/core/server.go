// Package core provides the admin HTTP chassis: a chi router with the
// cross-cutting middleware (panic recovery, request ids, logging, admin key
// checks) applied before requests reach the handlers.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"habitly/internal/config"
)

// RouteRegistrar mounts a handler group on the /v1 router. Registrars are
// supplied by main to keep core free of handler imports.
type RouteRegistrar func(r chi.Router)

// Server holds the router and its dependencies.
type Server struct {
	Config       *config.Config
	Logger       *slog.Logger
	Validator    *Validator
	HealthProbes []HealthProbe

	V1RouteRegistrars []RouteRegistrar

	router *chi.Mux
	http   *http.Server
}

// NewServer prepares a Server. Routes are mounted by MountRoutes after the
// caller has registered probes and route registrars.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}
	return &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(),
		router:    chi.NewRouter(),
	}, nil
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// ListenAndServe serves on the configured port until ctx is cancelled, then
// drains in-flight requests.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.http = &http.Server{
		Addr:              ":" + s.Config.Server.Port,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.Logger.Info("admin http server listening", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	timeout := s.Config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	s.Logger.Info("server shutdown initiated")
	if err := s.http.Shutdown(ctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.Logger.Info("server shutdown complete")
	return nil
}
