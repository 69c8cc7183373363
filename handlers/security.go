package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/yourusername/ember/middleware"
	"github.com/yourusername/ember/models"
	"github.com/yourusername/ember/services"
)

// SecurityHandler is the admin-only surface over the login-defense
// subsystem: bans, stats, event logs, and throttle rules.
type SecurityHandler struct {
	userRepo models.UserRepositoryInterface
	guard    *services.BruteForceGuard
	limiter  *services.RateLimiter
	events   *services.EventSink
}

func NewSecurityHandler(userRepo models.UserRepositoryInterface, guard *services.BruteForceGuard, limiter *services.RateLimiter, events *services.EventSink) *SecurityHandler {
	return &SecurityHandler{userRepo: userRepo, guard: guard, limiter: limiter, events: events}
}

func (h *SecurityHandler) isAdmin(c *fiber.Ctx) bool {
	userID := middleware.GetUserID(c)
	if userID == uuid.Nil {
		return false
	}
	user, err := h.userRepo.GetByID(userID)
	if err != nil {
		return false
	}
	return user.IsAdmin
}

func (h *SecurityHandler) requireAdmin(c *fiber.Ctx) error {
	if !h.isAdmin(c) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Admin access required"})
	}
	return nil
}

func (h *SecurityHandler) ListBans(c *fiber.Ctx) error {
	if err := h.requireAdmin(c); err != nil {
		return err
	}
	bans, err := h.guard.ActiveBans()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to list bans"})
	}
	return c.JSON(fiber.Map{"bans": bans})
}

func (h *SecurityHandler) CreateBan(c *fiber.Ctx) error {
	if err := h.requireAdmin(c); err != nil {
		return err
	}
	type req struct {
		IP              string `json:"ip"`
		Reason          string `json:"reason"`
		DurationSeconds int64  `json:"duration_seconds"`
	}
	var r req
	if err := c.BodyParser(&r); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	duration := time.Duration(r.DurationSeconds) * time.Second
	if err := h.guard.ManualBan(c.UserContext(), r.IP, r.Reason, duration); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *SecurityHandler) DeleteBan(c *fiber.Ctx) error {
	if err := h.requireAdmin(c); err != nil {
		return err
	}
	if err := h.guard.ManualUnban(c.UserContext(), c.Params("ip")); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *SecurityHandler) Stats(c *fiber.Ctx) error {
	if err := h.requireAdmin(c); err != nil {
		return err
	}
	return c.JSON(h.guard.SecurityStats(c.UserContext()))
}

func (h *SecurityHandler) Events(c *fiber.Ctx) error {
	if err := h.requireAdmin(c); err != nil {
		return err
	}
	ctx := c.UserContext()
	return c.JSON(fiber.Map{
		"events":  h.events.Events(ctx),
		"blocked": h.events.BlockedAttempts(ctx),
		"logins":  h.events.LoginAttempts(ctx),
	})
}

func (h *SecurityHandler) GetRules(c *fiber.Ctx) error {
	if err := h.requireAdmin(c); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"rules": h.limiter.Rules()})
}

func (h *SecurityHandler) UpdateRule(c *fiber.Ctx) error {
	if err := h.requireAdmin(c); err != nil {
		return err
	}
	var rule services.RateLimitRule
	if err := c.BodyParser(&rule); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if rule.Limit <= 0 || rule.Window <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Limit and window must be positive"})
	}
	h.limiter.UpdateRule(c.Params("action"), rule)
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *SecurityHandler) ClearRateLimit(c *fiber.Ctx) error {
	if err := h.requireAdmin(c); err != nil {
		return err
	}
	action := c.Params("action")
	identity := c.Query("identity")
	if identity == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Identity required"})
	}
	if err := h.limiter.ClearRateLimit(c.UserContext(), action, c.Query("user_id"), identity); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to clear rate limit"})
	}
	return c.SendStatus(fiber.StatusNoContent)
}
