// Package adminserver runs the small ops HTTP surface the router and
// shard processes expose alongside their TCP control/query ports: a liveness
// check and a Prometheus scrape endpoint. It is wholly independent of
// the sharding control protocol (spec.md §6's external interfaces
// never mention HTTP; this is ambient operability, not a core
// component).
package adminserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server is a minimal HTTP server exposing /healthz and /metrics.
type Server struct {
	server *http.Server
	logger *zap.Logger
}

// HealthFunc reports whether the owning role is currently healthy.
type HealthFunc func() error

// New builds an admin server bound to addr. healthy is polled on every
// /healthz request; a nil healthy always reports ok.
func New(logger *zap.Logger, addr string, healthy HealthFunc) *Server {
	if healthy == nil {
		healthy = func() error { return nil }
	}

	router := mux.NewRouter()
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := healthy(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintf(w, "unhealthy: %v", err)
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	}).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	return &Server{
		server: &http.Server{
			Addr:         addr,
			Handler:      router,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// Start runs the server in the foreground until it is shut down.
func (s *Server) Start() error {
	s.logger.Info("starting admin server", zap.String("address", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("adminserver: serve: %w", err)
	}
	return nil
}

// StartAsync runs Start on its own goroutine, logging a fatal error if
// the server exits unexpectedly.
func (s *Server) StartAsync() {
	go func() {
		if err := s.Start(); err != nil {
			s.logger.Fatal("admin server failed", zap.Error(err))
		}
	}()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down admin server")
	return s.server.Shutdown(ctx)
}
