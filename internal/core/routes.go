package core

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"habitly/internal/types"
)

const defaultRequestTimeout = 30 * time.Second

// defaultRedactedHeaders are masked in request logs.
var defaultRedactedHeaders = []string{
	"Authorization",
	"Cookie",
	AdminKeyHeader,
}

// MountRoutes registers the middleware chain, /health and the /v1 group.
func (s *Server) MountRoutes() {
	s.router.Use(s.Recoverer)
	s.router.Use(ContextTimeoutMiddleware(s.requestTimeout()))
	s.router.Use(RequestIDMiddleware)
	s.router.Use(SecurityHeadersMiddleware)
	s.router.Use(RequestLogger(s.Logger, defaultRedactedHeaders))

	s.router.Get("/health", s.HandleHealth)

	s.router.Route("/v1", func(r chi.Router) {
		r.Use(AdminKeyMiddleware(s.adminKey()))
		for _, registrar := range s.V1RouteRegistrars {
			registrar(r)
		}
	})

	s.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		Error(w, r, types.NewAppError(types.ErrCodeNotFoundRoute, "route not found", nil))
	})
}

func (s *Server) requestTimeout() time.Duration {
	if s.Config != nil && s.Config.Server.RequestTimeout > 0 {
		return s.Config.Server.RequestTimeout
	}
	return defaultRequestTimeout
}

func (s *Server) adminKey() types.SecretString {
	if s.Config == nil {
		return ""
	}
	return s.Config.Server.AdminAPIKey
}

// ContextTimeoutMiddleware sets a deadline on the request context.
func ContextTimeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestIDMiddleware propagates X-Request-Id or generates a new id, stores
// it in the context and echoes it on the response.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-Id")
		if requestID == "" {
			requestID = generateRequestID()
		}
		w.Header().Set("X-Request-Id", requestID)
		next.ServeHTTP(w, r.WithContext(types.WithRequestID(r.Context(), requestID)))
	})
}

func generateRequestID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "fallback-" + hex.EncodeToString([]byte(time.Now().String()))
	}
	return hex.EncodeToString(b)
}
