// Package rest provides the coordinator's REST API used by worker agents.
package rest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	fiberrecover "github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"yqhp/test-scheduler/internal/coordinator"
	"yqhp/test-scheduler/pkg/logger"
	"yqhp/test-scheduler/pkg/types"
)

// Server represents the coordinator REST API server.
type Server struct {
	app       *fiber.App
	scheduler coordinator.Scheduler
	config    *Config
	log       *zap.Logger
}

// Config holds the configuration for the REST API server.
type Config struct {
	// Address is the address to listen on (e.g., ":8787").
	Address string

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout time.Duration

	// WriteTimeout is the maximum duration before timing out writes of the response.
	WriteTimeout time.Duration

	// MaxAssignmentWait caps how long an assignment request may wait.
	MaxAssignmentWait time.Duration

	// HeartbeatInterval is suggested to workers at registration.
	HeartbeatInterval time.Duration

	// EnableRequestLog logs every HTTP request.
	EnableRequestLog bool
}

// DefaultConfig returns a default server configuration.
func DefaultConfig() *Config {
	return &Config{
		Address:           ":8787",
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		MaxAssignmentWait: 30 * time.Second,
		HeartbeatInterval: 10 * time.Second,
		EnableRequestLog:  false,
	}
}

// NewServer creates a new REST API server.
func NewServer(scheduler coordinator.Scheduler, config *Config, log *zap.Logger) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if log == nil {
		log = logger.L()
	}

	app := fiber.New(fiber.Config{
		ReadTimeout:           config.ReadTimeout,
		WriteTimeout:          config.WriteTimeout,
		ErrorHandler:          customErrorHandler,
		AppName:               "Test Scheduler Coordinator",
		JSONEncoder:           sonic.Marshal,
		JSONDecoder:           sonic.Unmarshal,
		DisableStartupMessage: true,
	})

	server := &Server{
		app:       app,
		scheduler: scheduler,
		config:    config,
		log:       log.Named("rest"),
	}

	server.setupMiddleware()
	server.setupRoutes()

	return server
}

// setupMiddleware configures middleware for the server.
func (s *Server) setupMiddleware() {
	s.app.Use(fiberrecover.New(fiberrecover.Config{
		EnableStackTrace: true,
	}))

	if s.config.EnableRequestLog {
		s.app.Use(fiberlogger.New(fiberlogger.Config{
			Format:     "${time} | ${status} | ${latency} | ${method} ${path}\n",
			TimeFormat: "2006-01-02 15:04:05",
		}))
	}
}

// setupRoutes configures the API routes.
func (s *Server) setupRoutes() {
	s.app.Get("/health", s.healthCheck)

	api := s.app.Group("/api/v1")
	api.Get("/health", s.healthCheck)
	api.Get("/status", s.getStatus)
	api.Get("/events", s.streamEvents)

	// Worker 通信路由
	api.Get("/workers", s.listWorkers)
	api.Post("/workers", s.registerWorker)
	api.Put("/workers/:id/capacity", s.reportCapacity)
	api.Get("/workers/:id/assignment", s.nextAssignment)
	api.Post("/workers/:id/completions", s.reportCompletion)
	api.Post("/workers/:id/heartbeat", s.heartbeat)
	api.Delete("/workers/:id", s.disconnectWorker)
}

// Start starts the REST API server.
func (s *Server) Start() error {
	return s.app.Listen(s.config.Address)
}

// StartWithContext starts the server and shuts it down when ctx ends.
func (s *Server) StartWithContext(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		errCh <- s.app.Listen(s.config.Address)
	}()

	select {
	case <-ctx.Done():
		return s.ShutdownWithTimeout(5 * time.Second)
	case err := <-errCh:
		return err
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// ShutdownWithTimeout gracefully shuts down the server with a timeout.
func (s *Server) ShutdownWithTimeout(timeout time.Duration) error {
	return s.app.ShutdownWithTimeout(timeout)
}

// App returns the underlying Fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// customErrorHandler handles errors returned by handlers.
func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
		message = fe.Message
	}

	return c.Status(code).JSON(types.ErrorResponse{
		Error:   fmt.Sprintf("error_%d", code),
		Message: message,
	})
}

// writeSchedulerError maps scheduler errors to HTTP responses.
func writeSchedulerError(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	code := "internal_error"

	var inconsistency *coordinator.AssignmentInconsistencyError
	switch {
	case errors.As(err, &inconsistency):
		status, code = fiber.StatusConflict, "assignment_inconsistency"
	case errors.Is(err, coordinator.ErrUnknownWorker):
		status, code = fiber.StatusNotFound, "unknown_worker"
	case errors.Is(err, coordinator.ErrUnknownScope):
		status, code = fiber.StatusNotFound, "unknown_scope"
	case errors.Is(err, coordinator.ErrWorkerExists):
		status, code = fiber.StatusConflict, "worker_exists"
	case errors.Is(err, coordinator.ErrInvalidSlots):
		status, code = fiber.StatusBadRequest, "invalid_slots"
	case errors.Is(err, coordinator.ErrNoMoreWork):
		status, code = fiber.StatusGone, "no_more_work"
	case errors.Is(err, coordinator.ErrCancelled):
		status, code = fiber.StatusGone, "cancelled"
	}

	return c.Status(status).JSON(types.ErrorResponse{
		Error:   code,
		Message: err.Error(),
	})
}

func badRequest(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(types.ErrorResponse{
		Error:   "invalid_request",
		Message: message,
	})
}
