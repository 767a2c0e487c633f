package handler

import (
	"rentalchat/internal/adapter/api/middleware"
	ws "rentalchat/internal/infrastructure/websocket"
	"rentalchat/internal/usecase"
)

var (
	chatHandler      *ChatHandler
	healthHandler    *HealthHandler
	webSocketHandler *WebSocketHandler
)

func Setup(
	registry *usecase.SessionRegistry,
	wsManager *ws.Manager,
	authMiddleware *middleware.AuthMiddleware,
	firebaseAuth ConnectionTester,
	allowedOrigins []string,
) {
	chatHandler = NewChatHandler(registry)
	healthHandler = NewHealthHandler(firebaseAuth, registry)
	webSocketHandler = NewWebSocketHandler(wsManager, authMiddleware, registry, allowedOrigins)
}

func GetChatHandler() *ChatHandler {
	return chatHandler
}

func GetHealthHandler() *HealthHandler {
	return healthHandler
}

func GetWebSocketHandler() *WebSocketHandler {
	return webSocketHandler
}
