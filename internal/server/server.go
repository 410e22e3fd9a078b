package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"parking-allocator/internal/logging"
	"parking-allocator/internal/parking"
)

type Server struct {
	httpServer *http.Server
	handler    *Handler
	registry   *prometheus.Registry
}

func NewServer(port, serviceName string, engine *parking.InstrumentedEngine) *Server {
	handler := NewHandler(engine, serviceName)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		NewOccupancyCollector(engine.Engine),
	)
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "HTTP requests by method, route and status code.",
	}, []string{"method", "route", "code"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency by method and route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})
	registry.MustRegister(requests, latency)

	r := chi.NewRouter()

	r.Use(RecoveryMiddleware)
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware)
	r.Use(TracingMiddleware)
	r.Use(MetricsMiddleware(requests, latency))
	r.Use(CORSMiddleware)

	r.NotFound(handler.NotFound)
	r.Get("/health", handler.HealthCheck)
	r.Get("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}).ServeHTTP)

	r.Route("/api/parking-lot", func(r chi.Router) {
		r.Use(CallerMiddleware)

		r.Get("/lots", handler.ListLots)
		r.Route("/lots/{lotID}", func(r chi.Router) {
			r.Get("/status", handler.GetStatus)
			r.Get("/available", handler.ListAvailable)
			r.Post("/park", handler.ParkVehicle)
			r.Post("/close-all", handler.CloseAll)
			r.Post("/slots", handler.AddSlot)
			r.Delete("/slots/{number}", handler.RemoveSlot)
		})

		r.Get("/sessions", handler.ListSessions)
		r.Get("/sessions/{sessionID}", handler.GetSession)
		r.Post("/sessions/{sessionID}/exit", handler.ExitSession)
		r.Get("/find/{plate}", handler.FindVehicle)

		r.Get("/revenue", handler.GetRevenue)
		r.Post("/reconcile", handler.Reconcile)
	})

	httpServer := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: httpServer,
		handler:    handler,
		registry:   registry,
	}
}

func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) Start() error {
	logging.Info(context.Background(), "starting HTTP server", slog.String("addr", s.httpServer.Addr))
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	logging.Info(ctx, "shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) GetAddress() string {
	return fmt.Sprintf("http://localhost%s", s.httpServer.Addr)
}
