package activecard

import (
	"strings"

	"backend-spinlog/internal/stream"

	"github.com/gofiber/fiber/v2"
)

type ScanRequest struct {
	CardID string `json:"cardId"`
}

func RegisterRoutes(r fiber.Router, registry *Registry, hub *stream.Hub) {
	r.Post("/", func(c *fiber.Ctx) error {
		var req ScanRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid payload")
		}
		if strings.TrimSpace(req.CardID) == "" {
			return fiber.NewError(fiber.StatusBadRequest, "cardId is required")
		}

		entry := registry.Set(c.Context(), strings.TrimSpace(req.CardID))
		if hub != nil {
			hub.Broadcast(stream.Event{
				Type:   stream.EventCardScanned,
				CardID: entry.CardID,
				At:     entry.ScannedAt,
			})
		}
		return c.JSON(fiber.Map{
			"message":   "Card scanned",
			"cardId":    entry.CardID,
			"scanId":    entry.ScanID,
			"scannedAt": entry.ScannedAt,
		})
	})

	r.Get("/active", func(c *fiber.Ctx) error {
		entry, ok := registry.Get(c.Context())
		if !ok {
			return fiber.NewError(fiber.StatusNotFound, "no active card")
		}
		return c.JSON(entry)
	})

	r.Delete("/active", func(c *fiber.Ctx) error {
		registry.Clear(c.Context())
		return c.JSON(fiber.Map{"message": "Active card cleared"})
	})
}
