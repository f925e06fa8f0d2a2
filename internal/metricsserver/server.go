// Package metricsserver wires a prometheus.Collector into a small chi
// router exposing /metrics and /healthz, the same router/middleware stack
// shape the rest of this module's HTTP surface uses.
package metricsserver

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server is an HTTP server exposing Prometheus metrics and a liveness
// endpoint on its own listen address, independent of any domain traffic.
type Server struct {
	httpSrv *http.Server
	log     *slog.Logger
}

// New builds a Server registering collector with its own prometheus.Registry,
// so metrics from this process never collide with the default global one.
func New(addr string, collector prometheus.Collector, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collector)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	return &Server{
		httpSrv: &http.Server{
			Addr:         addr,
			Handler:      r,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  30 * time.Second,
		},
		log: log.With("subsystem", "metricsserver"),
	}
}

// Serve starts the listener and blocks; it returns nil on a clean Shutdown.
func (s *Server) Serve() error {
	s.log.Info("metrics server listening", "addr", s.httpSrv.Addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server within ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}
