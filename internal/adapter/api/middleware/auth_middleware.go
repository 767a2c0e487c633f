package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"rentalchat/internal/infrastructure/firebase"
)

type AuthMiddleware struct {
	verifier firebase.TokenVerifier
}

func NewAuthMiddleware(verifier firebase.TokenVerifier) *AuthMiddleware {
	return &AuthMiddleware{
		verifier: verifier,
	}
}

func (m *AuthMiddleware) Authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		// Get the Authorization header
		authHeader := c.Request().Header.Get("Authorization")
		if authHeader == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "Authorization header is required")
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			return echo.NewHTTPError(http.StatusUnauthorized, "Invalid authorization format")
		}

		uid, err := m.verifier.VerifyToken(c.Request().Context(), parts[1])
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "Invalid or expired token")
		}

		// Add the user ID to the context
		c.Set("uid", uid)

		return next(c)
	}
}

// GetUIDFromToken verifies a token passed outside the Authorization
// header, as browsers cannot set headers on a websocket handshake.
func (m *AuthMiddleware) GetUIDFromToken(ctx context.Context, token string) (string, error) {
	return m.verifier.VerifyToken(ctx, token)
}
