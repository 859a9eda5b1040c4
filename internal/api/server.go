package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/gmsas95/medtrack/internal/config"
	"github.com/gmsas95/medtrack/internal/cron"
	"github.com/gmsas95/medtrack/internal/medication"
)

// Version is reported by /api/health
var Version = "0.1.0"

// HealthChecker reports whether the backing store is reachable
type HealthChecker interface {
	Ping() error
	Driver() string
}

// Sweeper runs the background repair sweep on demand
type Sweeper interface {
	RunOnce(ctx context.Context) (*cron.SweepResult, error)
}

// Server handles HTTP API and WebSocket
type Server struct {
	app          *fiber.App
	config       *config.Config
	service      *medication.Service
	health       HealthChecker
	sweeper      Sweeper
	limiter      *clientLimiter
	logger       *zap.Logger
	feedInterval time.Duration
}

// New creates a new API server
func New(cfg *config.Config, service *medication.Service, health HealthChecker, logger *zap.Logger) *Server {
	s := &Server{
		config:       cfg,
		service:      service,
		health:       health,
		logger:       logger,
		feedInterval: 30 * time.Second,
	}

	if cfg.Server.RateLimitRPS > 0 {
		s.limiter = newClientLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst, 10*time.Minute)
	}

	s.app = fiber.New(fiber.Config{
		ReadTimeout:           time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:          time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:           120 * time.Second,
		ErrorHandler:          s.errorHandler,
		DisableStartupMessage: true,
	})

	s.setupRoutes()
	return s
}

// SetSweeper enables POST /api/sweep
func (s *Server) SetSweeper(sw Sweeper) {
	s.sweeper = sw
}

// App exposes the fiber app, mainly for tests
func (s *Server) App() *fiber.App {
	return s.app
}

// Start starts the server
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", zap.String("addr", s.config.ListenAddr()))
	return s.app.Listen(s.config.ListenAddr())
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.app.ShutdownWithContext(ctx)
}
