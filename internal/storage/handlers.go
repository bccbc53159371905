package storage

import (
	"backend-formcoach/internal/auth"

	"github.com/gofiber/fiber/v2"
)

func RegisterRoutes(r fiber.Router, svc *Service, authMiddleware fiber.Handler) {
	r.Get("/history", authMiddleware, func(c *fiber.Ctx) error {
		athleteID := auth.AthleteID(c)
		if athleteID == "" {
			athleteID = c.Query("athlete_id")
		}
		if athleteID == "" {
			return fiber.NewError(fiber.StatusBadRequest, "athlete_id required")
		}
		sessions, err := svc.History(c.Context(), athleteID, c.QueryInt("limit", defaultHistoryLimit))
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(fiber.Map{"sessions": sessions})
	})
}
