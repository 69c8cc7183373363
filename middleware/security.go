package middleware

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/yourusername/ember/services"
)

// IPBanGate terminates every request from a banned IP with 403 before
// any handler runs. The blocked attempt is logged by the guard.
func IPBanGate(guard *services.BruteForceGuard) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if decision := guard.CheckIPBan(c); decision != nil {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": decision.Message,
			})
		}
		return c.Next()
	}
}

// SessionGuard validates session integrity after the platform's own
// token check (run it behind Protected). An invalidated session forces
// re-authentication.
func SessionGuard(monitor *services.SessionMonitor) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := GetUserID(c)
		if userID == uuid.Nil {
			return c.Next()
		}
		if !monitor.Validate(c, userID, GetToken(c)) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Session invalidated, please log in again",
			})
		}
		return c.Next()
	}
}

// RateLimit throttles the named action, keyed by the authenticated user
// (when present) and the resolved client IP.
func RateLimit(limiter *services.RateLimiter, resolver *services.ClientIPResolver, action string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		identity := resolver.Resolve(c)
		userID := ""
		if uid := GetUserID(c); uid != uuid.Nil {
			userID = uid.String()
		}

		result := limiter.Apply(c.UserContext(), action, userID, identity)
		if !result.Allowed {
			retryAfter := int(result.RetryAfter.Seconds())
			c.Set("Retry-After", strconv.Itoa(retryAfter))
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":       result.Message,
				"retry_after": retryAfter,
			})
		}
		return c.Next()
	}
}
