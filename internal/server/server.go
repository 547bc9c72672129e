// Package server exposes the REST and WebSocket surface over the
// coordinator. Handlers are thin: validation, delegation, JSON.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/daehwan-kim/stockpilot/internal/coordinator"
	"github.com/daehwan-kim/stockpilot/internal/database"
	"github.com/daehwan-kim/stockpilot/internal/notify"
	"github.com/daehwan-kim/stockpilot/internal/store"
)

// Config holds server wiring.
type Config struct {
	Port      int
	DevMode   bool
	Coord     *coordinator.Coordinator
	Store     *store.Store
	Hub       *notify.Hub
	Databases []*database.DB
	Log       zerolog.Logger
}

// Server is the HTTP front end.
type Server struct {
	router    *chi.Mux
	server    *http.Server
	coord     *coordinator.Coordinator
	store     *store.Store
	hub       *notify.Hub
	databases []*database.DB
	log       zerolog.Logger
}

// New builds the router and handlers.
func New(cfg Config) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		coord:     cfg.Coord,
		store:     cfg.Store,
		hub:       cfg.Hub,
		databases: cfg.Databases,
		log:       cfg.Log.With().Str("component", "server").Logger(),
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))
	if cfg.DevMode {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"*"},
		}))
	}

	s.routes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	s.router.Route("/api", func(r chi.Router) {
		r.Post("/analysis", s.handleStartAnalysis)
		r.Get("/analysis/{id}", s.handleGetAnalysis)
		r.Post("/analysis/{id}/approve", s.handleApprove)
		r.Post("/analysis/{id}/reject", s.handleReject)
		r.Post("/analysis/{id}/cancel", s.handleCancel)

		r.Post("/alerts/{id}/action", s.handleAlertAction)
		r.Get("/alerts", s.handleListAlerts)

		r.Get("/state", s.handleState)
		r.Post("/state/pause", s.handlePause)
		r.Post("/state/resume", s.handleResume)

		r.Get("/positions", s.handlePositions)
		r.Get("/trades", s.handleTrades)
		r.Get("/watchlist", s.handleWatchlist)
		r.Get("/sessions", s.handleSessions)

		r.Get("/health", s.handleHealth)
		r.Get("/ws", s.handleWebSocket)
	})
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("HTTP server listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}
