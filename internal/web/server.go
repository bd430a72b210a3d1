package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/kozaktomas/face-enroll/internal/config"
	"github.com/kozaktomas/face-enroll/internal/web/handlers"
	"github.com/kozaktomas/face-enroll/internal/web/middleware"
)

// Server represents the web server
type Server struct {
	config     *config.ServerConfig
	router     *chi.Mux
	httpServer *http.Server
	engine     handlers.Engine
	adaptive   handlers.AdaptiveToggle
	limiter    *middleware.RateLimiter
	log        *logrus.Logger
}

// NewServer creates a new web server
func NewServer(cfg *config.ServerConfig, engine handlers.Engine, adaptive handlers.AdaptiveToggle, log *logrus.Logger) *Server {
	r := chi.NewRouter()

	s := &Server{
		config:   cfg,
		router:   r,
		engine:   engine,
		adaptive: adaptive,
		log:      log,
	}
	if cfg.RecognizeRPS > 0 {
		s.limiter = middleware.NewRateLimiter(cfg.RecognizeRPS, cfg.RecognizeBurst, log)
	}

	// Set up middleware stack
	r.Use(middleware.TraceID)
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.RequestLogger(&chiMiddleware.DefaultLogFormatter{Logger: log, NoColor: true}))
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(2 * time.Minute))
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	r.Use(middleware.SecurityHeaders())

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute, // batch enrollment runs the detector per image
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.WithField("addr", s.httpServer.Addr).Info("starting web server")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down web server")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

// Router returns the chi router for testing
func (s *Server) Router() *chi.Mux {
	return s.router
}
