package middleware

import (
	"log"
	"math"
	"strconv"

	"github.com/labstack/echo/v4"

	"rentalchat/internal/infrastructure/ratelimit"
	"rentalchat/pkg/errors"
	"rentalchat/pkg/response"
)

// RateLimitMiddleware limits requests per authenticated user, or per client
// IP before authentication.
func RateLimitMiddleware(limiter *ratelimit.RateLimiter) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key, ok := c.Get("uid").(string)
			if !ok || key == "" {
				key = "ip:" + c.RealIP()
			}

			if allowed, wait := limiter.Allow(key, ratelimit.ActionAPIRequest); !allowed {
				log.Printf("RATE LIMIT: Blocked request from %s (retry in %v)", key, wait)
				c.Response().Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
				return response.Error(c, errors.TooManyRequests("Rate limit exceeded", nil))
			}

			return next(c)
		}
	}
}
