package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"

	"rentalchat/internal/infrastructure/firebase"
	"rentalchat/internal/infrastructure/ratelimit"
)

func echoUID(c echo.Context) error {
	uid, _ := c.Get("uid").(string)
	return c.String(http.StatusOK, uid)
}

func TestAuthenticate(t *testing.T) {
	m := NewAuthMiddleware(firebase.DevTokenVerifier{})
	e := echo.New()
	e.GET("/me", echoUID, m.Authenticate)

	tests := []struct {
		name   string
		header string
		status int
		body   string
	}{
		{"missing header", "", http.StatusUnauthorized, ""},
		{"wrong scheme", "Basic " + firebase.DevToken("alice"), http.StatusUnauthorized, ""},
		{"invalid token", "Bearer not-a-token", http.StatusUnauthorized, ""},
		{"valid token", "Bearer " + firebase.DevToken("alice"), http.StatusOK, "alice"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set(echo.HeaderAuthorization, tt.header)
			}
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			if tt.body != "" {
				assert.Equal(t, tt.body, rec.Body.String())
			}
		})
	}
}

func TestRateLimitPerUser(t *testing.T) {
	limiter := ratelimit.NewRateLimiter(10)
	e := echo.New()
	e.GET("/ping", echoUID, NewAuthMiddleware(firebase.DevTokenVerifier{}).Authenticate, RateLimitMiddleware(limiter))

	call := func(uid string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+firebase.DevToken(uid))
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec
	}

	for i := 0; i < 120; i++ {
		if rec := call("alice"); rec.Code != http.StatusOK {
			t.Fatalf("request %d was limited", i)
		}
	}

	rec := call("alice")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, call("bob").Code)
}
