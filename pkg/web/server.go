// Package web serves the operator API and the live status websocket.
package web

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-catlaser/internal/log"
	"github.com/teslashibe/go-catlaser/pkg/autopilot"
	"github.com/teslashibe/go-catlaser/pkg/calibration"
	"github.com/teslashibe/go-catlaser/pkg/detection"
	"github.com/teslashibe/go-catlaser/pkg/hub"
	"github.com/teslashibe/go-catlaser/pkg/wobble"
)

// Config holds the HTTP settings.
type Config struct {
	Port           string        `yaml:"port"`
	StatusInterval time.Duration `yaml:"status_interval"`
	StaticDir      string        `yaml:"static_dir"` // Served at / when set
}

// DefaultConfig returns the default web settings.
func DefaultConfig() Config {
	return Config{
		Port:           "8080",
		StatusInterval: 100 * time.Millisecond,
	}
}

// Deps are the components the API drives. Mock, Frames and Wobble are
// optional; their routes answer 404 when nil.
type Deps struct {
	Pilot  *autopilot.AutoPilot
	Mapper *calibration.Mapper
	Mock   *detection.MockDetector
	Frames *detection.FrameDetector
	Wobble *wobble.Engine
}

// Server is the operator web server
type Server struct {
	app    *fiber.App
	cfg    Config
	deps   Deps
	logger *slog.Logger

	// Status snapshots fan out through the hub; handlers never write to
	// sockets directly.
	statusHub *hub.Hub
}

// NewServer builds the fiber app and its routes.
func NewServer(cfg Config, deps Deps) *Server {
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = DefaultConfig().StatusInterval
	}
	s := &Server{
		cfg:       cfg,
		deps:      deps,
		logger:    log.Component("web"),
		statusHub: hub.New("status"),
	}

	app := fiber.New(fiber.Config{
		AppName:               "catlaser",
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})

	// CORS for local development
	app.Use(cors.New())

	if cfg.StaticDir != "" {
		app.Static("/", cfg.StaticDir)
	}

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Post("/mode", s.handleMode)
	api.Post("/move", s.handleMove)
	api.Post("/pose", s.handlePose)
	api.Post("/laser/toggle", s.handleToggleLaser)
	api.Get("/limits", s.handleGetLimits)
	api.Post("/limits", s.handleSetLimits)

	api.Get("/calibration", s.handleGetCalibration)
	api.Post("/calibration/samples", s.handleAddSample)
	api.Post("/calibration/fit", s.handleFit)
	api.Delete("/calibration", s.handleClearCalibration)
	api.Get("/calibration/plot.png", s.handlePlot)

	api.Post("/detections/mock", s.handleSetMock)
	api.Delete("/detections/mock", s.handleClearMock)
	api.Post("/frame", s.handleFrame)

	api.Post("/wobble", s.handleStartWobble)
	api.Delete("/wobble", s.handleStopWobble)

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/status", websocket.New(s.handleStatusWS))

	s.app = app
	return s
}

// App exposes the fiber app for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Run starts the hub, the status broadcaster and the listener, and blocks
// until ctx is cancelled or the listener fails.
func (s *Server) Run(ctx context.Context) error {
	go s.statusHub.Run(ctx)
	go s.broadcastStatus(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("web server listening", "addr", ":"+s.cfg.Port)
		errCh <- s.app.Listen(":" + s.cfg.Port)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.app.ShutdownWithContext(shutdownCtx); err != nil {
			return err
		}
		return nil
	case err := <-errCh:
		return err
	}
}

// broadcastStatus pushes a status snapshot every StatusInterval while
// anyone is listening.
func (s *Server) broadcastStatus(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.StatusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.statusHub.ClientCount() == 0 {
				continue
			}
			if err := s.statusHub.BroadcastJSON(s.deps.Pilot.Status()); err != nil {
				s.logger.Error("status encode failed", "error", err)
			}
		}
	}
}

func (s *Server) handleStatusWS(c *websocket.Conn) {
	client := hub.NewClient(s.statusHub, c)
	if client == nil {
		c.Close()
		return
	}
	client.Run()
}

// handleError renders every error as {"error": ...}.
func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	if code >= fiber.StatusInternalServerError {
		s.logger.Error("request failed", "method", c.Method(), "path", c.Path(), "error", err)
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}
