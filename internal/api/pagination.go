package api

import (
	"net/http"
	"strconv"
)

const (
	defaultPage    = 1
	defaultPerPage = 50
	maxPerPage     = 200
)

// PaginationParams holds parsed pagination query parameters.
type PaginationParams struct {
	Page    int
	PerPage int
}

// ParsePagination reads page and per_page from the query string.
// Defaults are page=1, per_page=50; per_page is capped at 200.
func ParsePagination(r *http.Request) PaginationParams {
	p := PaginationParams{Page: defaultPage, PerPage: defaultPerPage}

	q := r.URL.Query()
	if n, ok := positiveInt(q.Get("page")); ok {
		p.Page = n
	}
	if n, ok := positiveInt(q.Get("per_page")); ok {
		p.PerPage = min(n, maxPerPage)
	}
	return p
}

func positiveInt(v string) (int, bool) {
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// Offset returns the index of the first item on the current page.
func (p PaginationParams) Offset() int {
	return (p.Page - 1) * p.PerPage
}

// TotalPages calculates the number of pages needed for total items.
func (p PaginationParams) TotalPages(total int64) int {
	if p.PerPage <= 0 {
		return 0
	}
	per := int64(p.PerPage)
	return int((total + per - 1) / per)
}

// Paginate cuts the current page out of items, which the stores already
// return in display order.
func Paginate[T any](items []T, p PaginationParams) PaginatedResponse {
	total := int64(len(items))
	start := min(p.Offset(), len(items))
	end := min(start+p.PerPage, len(items))

	page := items[start:end]
	if page == nil {
		page = []T{}
	}

	return PaginatedResponse{
		Data: page,
		Pagination: PaginationMeta{
			Page:       p.Page,
			PerPage:    p.PerPage,
			Total:      total,
			TotalPages: p.TotalPages(total),
		},
	}
}
