package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/yourusername/ember/middleware"
	"github.com/yourusername/ember/models"
)

// ActionsHandler backs the rate-limited application routes. The actual
// messaging/search/media features live elsewhere; these handlers exist
// so every configured throttle action has a live endpoint.
type ActionsHandler struct {
	userRepo models.UserRepositoryInterface
}

func NewActionsHandler(userRepo models.UserRepositoryInterface) *ActionsHandler {
	return &ActionsHandler{userRepo: userRepo}
}

func (h *ActionsHandler) SendMessage(c *fiber.Ctx) error {
	type req struct {
		To   string `json:"to"`
		Body string `json:"body"`
	}
	var r req
	if err := c.BodyParser(&r); err != nil || r.To == "" || r.Body == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Recipient and body required"})
	}
	if _, err := h.userRepo.GetByUsername(r.To); err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Recipient not found"})
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "queued"})
}

func (h *ActionsHandler) Search(c *fiber.Ctx) error {
	query := c.Query("q")
	if query == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Query required"})
	}
	return c.JSON(fiber.Map{"query": query, "results": []fiber.Map{}})
}

func (h *ActionsHandler) ViewProfile(c *fiber.Ctx) error {
	user, err := h.userRepo.GetByUsername(c.Params("username"))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Profile not found"})
	}
	return c.JSON(fiber.Map{"user": user.ToResponse()})
}

func (h *ActionsHandler) LikeProfile(c *fiber.Ctx) error {
	if _, err := h.userRepo.GetByUsername(c.Params("username")); err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Profile not found"})
	}
	return c.Status(fiber.StatusNoContent).Send(nil)
}

func (h *ActionsHandler) UpdateProfile(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)
	if userID == uuid.Nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
	}
	return c.JSON(fiber.Map{"status": "updated"})
}

func (h *ActionsHandler) UploadPhoto(c *fiber.Ctx) error {
	if _, err := c.FormFile("photo"); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Photo file required"})
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "processing"})
}
