package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"rentalchat/internal/usecase"
)

// ConnectionTester checks connectivity to an external dependency.
type ConnectionTester interface {
	TestConnection(ctx context.Context) error
}

type HealthHandler struct {
	firebaseAuth ConnectionTester
	registry     *usecase.SessionRegistry
}

func NewHealthHandler(firebaseAuth ConnectionTester, registry *usecase.SessionRegistry) *HealthHandler {
	return &HealthHandler{
		firebaseAuth: firebaseAuth,
		registry:     registry,
	}
}

func (h *HealthHandler) CheckHealth(c echo.Context) error {
	body := map[string]interface{}{
		"status": "Server is running",
		"time":   time.Now().Format(time.RFC3339),
	}
	if h.registry != nil {
		body["chat_sessions"] = h.registry.Count()
	}
	return c.JSON(http.StatusOK, body)
}

func (h *HealthHandler) CheckFirebaseHealth(c echo.Context) error {
	if h.firebaseAuth == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"status": "Firebase Auth not configured",
		})
	}

	err := h.firebaseAuth.TestConnection(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"status": "Firebase Auth connection failed",
			"error":  err.Error(),
		})
	}

	return c.JSON(http.StatusOK, map[string]string{
		"status": "Firebase Auth connected successfully",
	})
}
