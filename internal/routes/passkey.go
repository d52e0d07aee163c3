package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/keygate/keygate/internal/passkey"
)

// RegisterPasskeyRoutes wires the single dispatch endpoint. OPTIONS preflight
// is answered by the CORS middleware.
func RegisterPasskeyRoutes(app *fiber.App, h *passkey.Handler) {
	app.Post("/", h.Dispatch)
}
