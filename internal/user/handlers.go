package user

import (
	"backend-spinlog/internal/shared/fault"

	"github.com/gofiber/fiber/v2"
)

func RegisterRoutes(r fiber.Router, svc *Service, adminOnly fiber.Handler) {
	r.Post("/", adminOnly, func(c *fiber.Ctx) error {
		var req CreateRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid payload")
		}
		u, err := svc.Create(c.UserContext(), req)
		if err != nil {
			return fiber.NewError(fault.StatusCode(err), err.Error())
		}
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{
			"message": "User created successfully",
			"user":    u,
		})
	})

	r.Get("/:cardId", func(c *fiber.Ctx) error {
		u, err := svc.FindByCard(c.UserContext(), c.Params("cardId"))
		if err != nil {
			return fiber.NewError(fault.StatusCode(err), err.Error())
		}
		return c.JSON(u)
	})

	r.Patch("/:cardId/weight", adminOnly, func(c *fiber.Ctx) error {
		var req UpdateWeightRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid payload")
		}
		u, err := svc.UpdateWeight(c.UserContext(), c.Params("cardId"), req.Weight)
		if err != nil {
			return fiber.NewError(fault.StatusCode(err), err.Error())
		}
		return c.JSON(fiber.Map{
			"message":   "Weight updated successfully",
			"newWeight": u.Weight,
		})
	})
}
