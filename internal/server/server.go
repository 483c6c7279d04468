package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type Server struct {
	Router *chi.Mux
	Port   int
	logger *slog.Logger
	http   *http.Server
}

// New creates a router with request IDs, request logging, a per-request
// timeout, panic recovery and OpenTelemetry instrumentation.
func New(port int, requestTimeout time.Duration, logger *slog.Logger) *Server {
	if requestTimeout <= 0 {
		requestTimeout = 60 * time.Second
	}
	r := chi.NewRouter()

	// Apply middleware in order
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(TimeoutMiddleware(requestTimeout))
	r.Use(middleware.Recoverer)

	// Wrap with OpenTelemetry HTTP instrumentation
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "revops-pipeline")
	})

	return &Server{
		Router: r,
		Port:   port,
		logger: logger,
		http: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Serve serves on an existing listener. Tests use it with port 0.
func (s *Server) Serve(l net.Listener) error {
	s.logger.Info("starting server", slog.String("addr", l.Addr().String()))
	if err := s.http.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
