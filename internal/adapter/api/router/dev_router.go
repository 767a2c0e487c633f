package router

import (
	"rentalchat/internal/adapter/api/handler"

	"github.com/labstack/echo/v4"
)

func SetupDevRouter(e *echo.Echo, devTokenHandler *handler.DevTokenHandler, development bool) {
	if !development || devTokenHandler == nil {
		return
	}

	e.GET("/_dev/token/:uid", devTokenHandler.GenerateUserToken)
	e.POST("/_dev/users", devTokenHandler.CreateUser)
}
