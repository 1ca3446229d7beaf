// Package api exposes the tracker and the rolled-up statistics over a JSON
// REST surface authenticated by identity-provider bearer tokens.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/goodtune/studytrack/internal/stats"
	"github.com/goodtune/studytrack/internal/storage"
	"github.com/goodtune/studytrack/internal/tracker"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// Config holds the API server configuration.
type Config struct {
	ListenAddr   string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// PingInterval is the heartbeat cadence advertised to clients
	PingInterval time.Duration
}

// Server represents the API HTTP server.
type Server struct {
	config    Config
	tracker   *tracker.Tracker
	store     storage.Store
	auth      *Authenticator
	locations *stats.LocationCache
	server    *http.Server
	router    *mux.Router
	listener  net.Listener
	logger    zerolog.Logger
}

// NewServer creates a new API server.
func NewServer(cfg Config, tr *tracker.Tracker, store storage.Store, auth *Authenticator, locations *stats.LocationCache, logger zerolog.Logger) *Server {
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 15 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 15 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
	if cfg.PingInterval == 0 {
		cfg.PingInterval = 10 * time.Second
	}

	s := &Server{
		config:    cfg,
		tracker:   tr,
		store:     store,
		auth:      auth,
		locations: locations,
		router:    mux.NewRouter(),
		logger:    logger.With().Str("component", "api").Logger(),
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Use(LoggingMiddleware(s.logger))

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	authRouter := s.router.PathPrefix("/").Subrouter()
	authRouter.Use(IdentityMiddleware(s.auth))

	sessions := NewSessionHandler(s.tracker, s.logger)
	authRouter.HandleFunc("/sessions", sessions.Create).Methods("POST")
	authRouter.HandleFunc("/sessions/{id}", sessions.Get).Methods("GET")
	authRouter.HandleFunc("/sessions/{id}/intervals", sessions.CreateInterval).Methods("POST")
	authRouter.HandleFunc("/sessions/{id}/close", sessions.Close).Methods("POST")
	authRouter.HandleFunc("/sessions/{id}/abandon", sessions.Abandon).Methods("POST")

	intervals := NewIntervalHandler(s.tracker, s.logger)
	authRouter.HandleFunc("/intervals/{id}", intervals.Get).Methods("GET")
	authRouter.HandleFunc("/intervals/{id}/start", intervals.Start).Methods("POST")
	authRouter.HandleFunc("/intervals/{id}/pause", intervals.Pause).Methods("POST")
	authRouter.HandleFunc("/intervals/{id}/resume", intervals.Resume).Methods("POST")
	authRouter.HandleFunc("/intervals/{id}/ping", intervals.Ping).Methods("POST")
	authRouter.HandleFunc("/intervals/{id}/complete", intervals.Complete).Methods("POST")

	statsHandler := NewStatsHandler(s.store.Stats(), s.locations, s.tracker.Clock(), s.logger)
	for _, g := range storage.Granularities {
		authRouter.HandleFunc("/stats/"+string(g), statsHandler.Bucket(g)).Methods("GET")
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// SetListener sets a pre-created listener (for systemd socket activation).
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the API server.
func (s *Server) Start() error {
	go func() {
		var err error
		if s.listener != nil {
			s.logger.Info().Str("addr", s.listener.Addr().String()).Msg("Starting API server (socket-activated)")
			err = s.server.Serve(s.listener)
		} else {
			s.logger.Info().Str("addr", s.config.ListenAddr).Msg("Starting API server")
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("API server error")
		}
	}()

	return nil
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping API server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("api server shutdown: %w", err)
	}

	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":                "ok",
		"time":                  s.tracker.Clock().Now().UTC().Format(time.RFC3339),
		"ping_interval_seconds": int64(s.config.PingInterval / time.Second),
	})
}
