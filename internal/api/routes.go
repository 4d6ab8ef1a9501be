package api

import (
	"github.com/gofiber/fiber/v2"
)

// SetupRoutes registers the plotter HTTP control surface under /plotter.
func SetupRoutes(app *fiber.App, s *Service) {
	group := app.Group("/plotter")

	group.Post("/gcode", s.handleGCode)
	group.Get("/status", s.handleStatus)
	group.Post("/pause", s.handlePause)
	group.Post("/stop", s.handleStop)
	group.Post("/tiling", s.handleTiling)
	group.Post("/tiling/switch", s.handleTilingSwitch)
	group.Post("/play", s.handlePlay)
	group.Post("/test", s.handleTest)
}
