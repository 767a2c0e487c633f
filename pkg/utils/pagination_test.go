package utils

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
)

func params(query string) PaginationParams {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/v1/conversations?"+query, nil)
	return GetPaginationParams(e.NewContext(req, httptest.NewRecorder()))
}

func TestGetPaginationParams(t *testing.T) {
	assert.Equal(t, PaginationParams{Page: 1, PageSize: DefaultPageSize}, params(""))
	assert.Equal(t, PaginationParams{Page: 3, PageSize: 5, Offset: 10}, params("page=3&page_size=5"))
	assert.Equal(t, PaginationParams{Page: 1, PageSize: DefaultPageSize}, params("page=-2&page_size=500"))
}

func TestBounds(t *testing.T) {
	p := PaginationParams{Page: 2, PageSize: 5, Offset: 5}

	start, end := p.Bounds(12)
	assert.Equal(t, 5, start)
	assert.Equal(t, 10, end)

	start, end = p.Bounds(7)
	assert.Equal(t, 5, start)
	assert.Equal(t, 7, end)

	start, end = p.Bounds(3)
	assert.Equal(t, 3, start)
	assert.Equal(t, 3, end)
}
