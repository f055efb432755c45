package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sagarrgarg/material-price-control/internal/domain"
)

// Server is the HTTP API server.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	handler    *Handler
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, handler *Handler) *Server {
	router := chi.NewRouter()

	// Middleware stack, outermost first
	router.Use(RecoverMiddleware)
	router.Use(CORSMiddleware)
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware)

	s := &Server{
		router:  router,
		handler: handler,
		httpServer: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler:      router,
			ReadTimeout:  time.Duration(cfg.ReadTimeout) * time.Second,
			WriteTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
		},
	}

	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.router.Get("/health", s.handler.Health)
	s.router.Get("/ready", s.handler.Ready)
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Route("/v1", func(r chi.Router) {
		// Transaction guard
		r.Post("/check", s.handler.CheckTransaction)

		// Valuation rules
		r.Route("/rules", func(r chi.Router) {
			r.Get("/", s.handler.ListRules)
			r.Post("/", s.handler.SaveRule)
			r.Get("/{id}", s.handler.GetRule)
			r.Put("/{id}", s.handler.SaveRule)
			r.Delete("/{id}", s.handler.DisableRule)
		})

		// Settings
		r.Get("/settings", s.handler.GetSettings)
		r.Put("/settings", s.handler.SaveSettings)

		// Anomaly log
		r.Route("/anomalies", func(r chi.Router) {
			r.Get("/recent", s.handler.RecentAnomalies)
			r.Get("/top-items", s.handler.TopAnomalyItems)
			r.Patch("/{id}", s.handler.UpdateAnomalyStatus)
		})

		// Dashboard
		r.Get("/dashboard", s.handler.Dashboard)

		// Item rate history and statistics
		r.Route("/items", func(r chi.Router) {
			r.Post("/", s.handler.SaveItem)
			r.Get("/{code}/statistics", s.handler.ItemStatistics)
			r.Get("/{code}/chart", s.handler.ItemChart)
		})

		// Reference data and ledger ingestion
		r.Post("/suppliers", s.handler.SaveSupplier)
		r.Post("/ledger", s.handler.IngestLedger)

		// Historical scan
		r.Post("/scan", s.handler.RunScan)
	})
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	slog.Info("starting api server", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("shutting down api server")
	return s.httpServer.Shutdown(ctx)
}

// Router returns the underlying chi router, useful for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}
