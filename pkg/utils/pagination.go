package utils

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// PaginationParams selects one page of an already ordered list.
type PaginationParams struct {
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
	Offset   int `json:"-"`
}

// GetPaginationParams reads page and page_size from the query. Missing or
// out of range values fall back to the first page of DefaultPageSize.
func GetPaginationParams(c echo.Context) PaginationParams {
	page, _ := strconv.Atoi(c.QueryParam("page"))
	pageSize, _ := strconv.Atoi(c.QueryParam("page_size"))

	if page <= 0 {
		page = 1
	}

	if pageSize <= 0 || pageSize > MaxPageSize {
		pageSize = DefaultPageSize
	}

	return PaginationParams{
		Page:     page,
		PageSize: pageSize,
		Offset:   (page - 1) * pageSize,
	}
}

// Bounds returns the [start, end) slice bounds of the page in a list of
// total items. A page past the end is empty.
func (p PaginationParams) Bounds(total int) (int, int) {
	if p.Offset >= total {
		return total, total
	}
	end := p.Offset + p.PageSize
	if end > total {
		end = total
	}
	return p.Offset, end
}
