package router

import (
	"github.com/labstack/echo/v4"

	"rentalchat/internal/adapter/api/handler"
)

// SetupWebSocketRouter sets up the chat socket. The handler authenticates
// from the token query parameter.
func SetupWebSocketRouter(e *echo.Echo, wsHandler *handler.WebSocketHandler) {
	e.GET("/ws", wsHandler.HandleWebSocket)
}
