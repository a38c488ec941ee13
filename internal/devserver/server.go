// Package devserver is a development REST API serving profiles, posts and follow
// relationships in the shape the sync client expects.
package devserver

import (
	"context"
	"errors"
	"net"
	"time"

	"feedsync/internal/config"
	"feedsync/internal/models"
	"feedsync/internal/observability"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

// Server holds all dependencies and provides handlers
type Server struct {
	config         *config.Config
	db             *gorm.DB
	repo           Repository
	app            *fiber.App
	promMiddleware *fiberprometheus.FiberPrometheus
	pageSize       int
}

// New creates a server around an open database. Every server gets its own metrics
// registry, so several can run in one process.
func New(cfg *config.Config, db *gorm.DB) *Server {
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 10
	}

	s := &Server{
		config:   cfg,
		db:       db,
		repo:     NewRepository(db),
		pageSize: pageSize,
		promMiddleware: fiberprometheus.NewWithRegistry(prometheus.NewRegistry(),
			"feedsync-devserver", "feedsync", "http", nil),
	}

	app := fiber.New(fiber.Config{
		AppName:               "feedsync dev API",
		DisableStartupMessage: true,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			var fe *fiber.Error
			if errors.As(err, &fe) {
				return c.Status(fe.Code).JSON(models.ErrorResponse{Error: fe.Message})
			}
			observability.GlobalLogger.ErrorContext(c.UserContext(), "unhandled request error",
				"error", err.Error())
			return respondWithError(c, models.NewInternalError(err))
		},
	})
	s.app = app

	s.SetupMiddleware(app)
	s.SetupRoutes(app)
	return s
}

// SetupMiddleware configures middleware for the Fiber app
func (s *Server) SetupMiddleware(app *fiber.App) {
	// Panic recovery
	app.Use(recover.New())

	// Request ID for tracing
	app.Use(requestid.New())

	app.Use(ContextMiddleware())
	app.Use(TracingMiddleware())
	app.Use(s.promMiddleware.Middleware)

	// Resolves the optional bearer token before logging so the viewer is logged.
	app.Use(s.Viewer())
	app.Use(StructuredLogger())
}

// SetupRoutes configures all routes for the application
func (s *Server) SetupRoutes(app *fiber.App) {
	app.Get("/health", s.HealthCheck)
	s.promMiddleware.RegisterAt(app, "/metrics")

	api := app.Group("/api")

	profiles := api.Group("/profiles")
	profiles.Get("/", s.GetProfiles)
	profiles.Get("/:id", s.GetProfile)

	api.Get("/posts", s.GetPosts)

	followers := api.Group("/followers", s.AuthRequired())
	followers.Post("/", s.CreateFollower)
	followers.Delete("/:id", s.DeleteFollower)
}

// HealthCheck handles readiness probe requests
func (s *Server) HealthCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	dbStatus := "healthy"
	sqlDB, err := s.db.DB()
	if err != nil {
		dbStatus = "unhealthy"
	} else if err := sqlDB.PingContext(ctx); err != nil {
		dbStatus = "unhealthy"
	}

	status := fiber.StatusOK
	if dbStatus != "healthy" {
		status = fiber.StatusServiceUnavailable
	}
	return c.Status(status).JSON(fiber.Map{
		"status": dbStatus,
		"checks": fiber.Map{
			"database": dbStatus,
		},
		"time": time.Now(),
	})
}

// App exposes the fiber app, mainly for app.Test in tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Start listens on the configured port and blocks.
func (s *Server) Start() error {
	observability.GlobalLogger.Info("Server starting", "port", s.config.Port)
	return s.app.Listen(":" + s.config.Port)
}

// Serve serves on an existing listener and blocks.
func (s *Server) Serve(ln net.Listener) error {
	return s.app.Listener(ln)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.app.ShutdownWithContext(ctx); err != nil {
		observability.GlobalLogger.Error("error shutting down HTTP server", "error", err.Error())
		return err
	}
	return nil
}
