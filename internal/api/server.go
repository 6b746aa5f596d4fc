package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/traceloom-io/traceloom/internal/config"
	"github.com/traceloom-io/traceloom/internal/database"
	"github.com/traceloom-io/traceloom/internal/observability"
	"github.com/traceloom-io/traceloom/internal/search"
)

// Server represents the HTTP server
type Server struct {
	app     *fiber.App
	config  *config.Config
	db      *database.Connection
	search  *SearchHandler
	metrics *observability.Metrics
}

// NewServer creates a new HTTP server around the search executor.
func NewServer(cfg *config.Config, db *database.Connection, executor *search.Executor, traceCache search.Cache, metrics *observability.Metrics) *Server {
	app := fiber.New(fiber.Config{
		ServerHeader:          "Traceloom",
		AppName:               "Traceloom v1.0.0",
		BodyLimit:             cfg.Server.BodyLimit,
		ReadTimeout:           cfg.Server.ReadTimeout,
		WriteTimeout:          cfg.Server.WriteTimeout,
		IdleTimeout:           cfg.Server.IdleTimeout,
		DisableStartupMessage: !cfg.Debug,
	})

	app.Use(recover.New())
	app.Use(requestid.New(requestid.Config{
		Generator: uuid.NewString,
	}))
	app.Use(compress.New())
	app.Use(metrics.Middleware())

	s := &Server{
		app:     app,
		config:  cfg,
		db:      db,
		metrics: metrics,
		search: NewSearchHandler(executor, db, traceCache, SearchHandlerConfig{
			TraceCacheTTL:  cfg.Search.TraceCacheTTL,
			CacheOpTimeout: cfg.Search.CacheOpTimeout,
		}),
	}

	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.app.Get("/health", s.handleHealth)
	s.app.Get("/metrics", s.metrics.Handler())

	v1 := s.app.Group("/api/v1")
	v1.Post("/traces/search", s.search.Search)
	v1.Get("/traces/:trace_id", s.search.GetTraceByID)
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 5*time.Second)
	defer cancel()

	if err := s.db.Health(ctx); err != nil {
		log.Error().Err(err).Msg("Health check failed")
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "unhealthy",
		})
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

// App exposes the underlying Fiber app (used by handler tests).
func (s *Server) App() *fiber.App {
	return s.app
}

// Start begins listening on the configured address.
func (s *Server) Start() error {
	return s.app.Listen(s.config.Server.Address)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}
