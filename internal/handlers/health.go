package handlers

import "github.com/gofiber/fiber/v2"

// HealthHandler reports liveness. It answers healthy as soon as the process
// is serving, including while the model is still loading; readiness shows
// up as 503 ERR_MODEL_NOT_READY on /transcribe.
type HealthHandler struct {
	model string
}

func NewHealthHandler(model string) *HealthHandler {
	return &HealthHandler{model: model}
}

func (h *HealthHandler) Handle(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status": "healthy",
		"model":  h.model,
	})
}
