package session

import (
	"errors"

	"backend-spinlog/internal/shared/fault"

	"github.com/gofiber/fiber/v2"
)

func RegisterRoutes(r fiber.Router, svc *Service) {
	r.Post("/start", func(c *fiber.Ctx) error {
		var req StartRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid payload")
		}

		res, err := svc.Start(c.UserContext(), req.CardID)
		if err != nil {
			var fe *fault.Error
			if errors.As(err, &fe) && fe.Kind == fault.KindSessionAlreadyOpen {
				return c.Status(fiber.StatusConflict).JSON(fiber.Map{
					"message":   fe.Message,
					"sessionId": fe.Meta["sessionId"],
					"startTime": fe.Meta["startTime"],
				})
			}
			return fiber.NewError(fault.StatusCode(err), err.Error())
		}
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{
			"message":   "Session started",
			"sessionId": res.SessionID,
			"startTime": res.StartTime,
		})
	})

	r.Post("/end", func(c *fiber.Ctx) error {
		var req EndRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid payload")
		}
		if req.CardID == "" || req.TickCount == nil {
			return fiber.NewError(fiber.StatusBadRequest, "cardId and tickCount are required")
		}

		res, err := svc.End(c.UserContext(), req.CardID, *req.TickCount)
		if err != nil {
			return fiber.NewError(fault.StatusCode(err), err.Error())
		}
		return c.JSON(fiber.Map{
			"message":   "Session ended",
			"sessionId": res.SessionID,
			"tickCount": res.TickCount,
			"distance":  res.Distance,
			"calories":  res.Calories,
			"avgSpeed":  res.AvgSpeed,
			"startTime": res.StartTime,
			"endTime":   res.EndTime,
		})
	})

	r.Post("/check", func(c *fiber.Ctx) error {
		var req CheckRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid payload")
		}
		exists, err := svc.CheckUser(c.UserContext(), req.CardID)
		if err != nil {
			return fiber.NewError(fault.StatusCode(err), err.Error())
		}
		return c.JSON(fiber.Map{"userExists": exists})
	})

	r.Get("/active/latest", func(c *fiber.Ctx) error {
		res, err := svc.LatestActive(c.UserContext())
		if err != nil {
			return fiber.NewError(fault.StatusCode(err), err.Error())
		}
		return c.JSON(res)
	})

	r.Get("/history/:cardId", func(c *fiber.Ctx) error {
		res, err := svc.History(c.UserContext(), c.Params("cardId"))
		if err != nil {
			return fiber.NewError(fault.StatusCode(err), err.Error())
		}
		return c.JSON(res)
	})

	r.Get("/latest/:cardId", func(c *fiber.Ctx) error {
		sess, err := svc.LatestCompleted(c.UserContext(), c.Params("cardId"))
		if err != nil {
			return fiber.NewError(fault.StatusCode(err), err.Error())
		}
		return c.JSON(sess)
	})
}
