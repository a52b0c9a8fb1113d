package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/MartinHagen/SubEngine/internal/pkg/env"
)

// APIKeyAuthMiddleware guards the engine API with a shared service key from
// SUBENGINE_API_KEY. Callers are schedulers and internal tooling, not end
// users. With no key configured the guard is disabled, which is the local
// development mode.
func APIKeyAuthMiddleware() fiber.Handler {
	configured := strings.TrimSpace(env.GetEnv("SUBENGINE_API_KEY", ""))
	if configured == "" {
		log.Warn("[Middleware] SUBENGINE_API_KEY is not set, API authentication is disabled")
		return func(c *fiber.Ctx) error {
			return c.Next()
		}
	}

	return func(c *fiber.Ctx) error {
		apiKey := extractAPIKeyFromHeader(c)
		if apiKey == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing API key"})
		}
		if subtle.ConstantTimeCompare([]byte(apiKey), []byte(configured)) != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Invalid API key"})
		}
		return c.Next()
	}
}

func extractAPIKeyFromHeader(c *fiber.Ctx) string {
	apiKey := strings.TrimSpace(c.Get("X-API-Key"))
	if apiKey != "" {
		return apiKey
	}
	auth := strings.TrimSpace(c.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}
