package router

import (
	"github.com/labstack/echo/v4"

	"rentalchat/internal/adapter/api/handler"
	"rentalchat/internal/adapter/api/middleware"
	"rentalchat/internal/infrastructure/ratelimit"
)

// SetupChatRouter sets up the conversation and window routes. Every request
// carries the X-Session-ID and X-Tab-ID headers of the calling tab.
func SetupChatRouter(e *echo.Echo, chatHandler *handler.ChatHandler, authMiddleware *middleware.AuthMiddleware, limiter *ratelimit.RateLimiter) {
	conversationGroup := e.Group("/v1/conversations")
	conversationGroup.Use(authMiddleware.Authenticate)
	conversationGroup.Use(middleware.RateLimitMiddleware(limiter))

	conversationGroup.GET("", chatHandler.ListConversations)
	conversationGroup.POST("/:peerId/open", chatHandler.OpenConversation)

	windowGroup := e.Group("/v1/windows")
	windowGroup.Use(authMiddleware.Authenticate)
	windowGroup.Use(middleware.RateLimitMiddleware(limiter))

	windowGroup.GET("", chatHandler.ListWindows)
	windowGroup.POST("/:peerId/minimize", chatHandler.ToggleMinimize)
	windowGroup.DELETE("/:peerId", chatHandler.CloseWindow)
	windowGroup.GET("/:peerId/messages", chatHandler.GetThread)
	windowGroup.PUT("/:peerId/draft", chatHandler.SetDraft)
	windowGroup.POST("/:peerId/send", chatHandler.SendMessage)
}
