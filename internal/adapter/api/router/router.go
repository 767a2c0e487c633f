package router

import (
	"github.com/labstack/echo/v4"

	"rentalchat/internal/adapter/api/handler"
	"rentalchat/internal/adapter/api/middleware"
	"rentalchat/internal/infrastructure/ratelimit"
)

func Setup(e *echo.Echo, authMiddleware *middleware.AuthMiddleware, limiter *ratelimit.RateLimiter) {
	SetupHealthRouter(e)
	SetupChatRouter(e, handler.GetChatHandler(), authMiddleware, limiter)
	SetupWebSocketRouter(e, handler.GetWebSocketHandler())
}
