// Package status serves the operator endpoint: health, counters and the sync live flag
package status

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/Xorboo/TeemoBot/internal/poller"
	"github.com/Xorboo/TeemoBot/internal/storage"
)

// StoreStats is implemented by storage.Store
type StoreStats interface {
	Stats() storage.Stats
}

// SyncControl is implemented by poller.Poller
type SyncControl interface {
	Stats() poller.Stats
	SetLive(live bool)
}

// Server is the status HTTP server
type Server struct {
	app   *fiber.App
	store StoreStats
	sync  SyncControl
}

// New builds the status app. sync may be nil when background sync is disabled.
func New(store StoreStats, sync SyncControl) *Server {
	s := &Server{
		app: fiber.New(fiber.Config{
			AppName:               "teemobot-status",
			DisableStartupMessage: true,
		}),
		store: store,
		sync:  sync,
	}

	s.app.Get("/health", s.handleHealth)
	s.app.Get("/status", s.handleStatus)
	s.app.Post("/sync/live", s.handleSetLive)
	return s
}

// App exposes the fiber app for tests
func (s *Server) App() *fiber.App {
	return s.app
}

// Start listens in the background
func (s *Server) Start(addr string) {
	go func() {
		slog.Info("Status endpoint listening", "addr", addr)
		if err := s.app.Listen(addr); err != nil {
			slog.Error("Status endpoint stopped", "error", err)
		}
	}()
}

// Shutdown stops the server
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *Server) handleStatus(c *fiber.Ctx) error {
	resp := fiber.Map{"store": s.store.Stats()}
	if s.sync != nil {
		resp["sync"] = s.sync.Stats()
	}
	return c.JSON(resp)
}

type liveRequest struct {
	Live *bool `json:"live"`
}

func (s *Server) handleSetLive(c *fiber.Ctx) error {
	if s.sync == nil {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "background sync is disabled"})
	}

	var req liveRequest
	if err := c.BodyParser(&req); err != nil || req.Live == nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "expected {\"live\": true|false}"})
	}

	s.sync.SetLive(*req.Live)
	return c.JSON(s.sync.Stats())
}
