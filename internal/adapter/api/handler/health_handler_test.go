package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
)

type stubConnection struct {
	err error
}

func (s stubConnection) TestConnection(ctx context.Context) error {
	return s.err
}

func TestHealthCheck(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	h := NewHealthHandler(nil, nil)

	if assert.NoError(t, h.CheckHealth(c)) {
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "Server is running")
	}
}

func TestFirebaseHealth(t *testing.T) {
	tests := []struct {
		name   string
		auth   ConnectionTester
		status int
	}{
		{"not configured", nil, http.StatusServiceUnavailable},
		{"connected", stubConnection{}, http.StatusOK},
		{"failing", stubConnection{err: errors.New("dial tcp: timeout")}, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/firebase-health", nil)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			h := NewHealthHandler(tt.auth, nil)

			assert.NoError(t, h.CheckFirebaseHealth(c))
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}
