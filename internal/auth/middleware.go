package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// LocalAthleteID is the fiber locals key holding the authenticated athlete.
const LocalAthleteID = "athlete_id"

// JWTMiddleware validates bearer tokens and stores the athlete id in locals. Websocket
// clients that cannot set headers may pass the token as ?token=. An empty secret
// disables authentication.
func JWTMiddleware(secret string) fiber.Handler {
	if secret == "" {
		return func(c *fiber.Ctx) error { return c.Next() }
	}
	return func(c *fiber.Ctx) error {
		token := bearerFromHeader(c.Get("Authorization"))
		if token == "" {
			token = c.Query("token")
		}
		if token == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "missing bearer token")
		}

		claims, err := parseToken(secret, token)
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, err.Error())
		}

		c.Locals(LocalAthleteID, claims.AthleteID)
		return c.Next()
	}
}

// AthleteID returns the authenticated athlete, or "" when auth is disabled.
func AthleteID(c *fiber.Ctx) string {
	id, _ := c.Locals(LocalAthleteID).(string)
	return id
}

func bearerFromHeader(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}
