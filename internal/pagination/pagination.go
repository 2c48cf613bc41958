// Package pagination holds the page/limit arithmetic shared by list endpoints.
package pagination

const (
	DefaultPage  = 1
	DefaultLimit = 20
	MaxLimit     = 100
)

// Meta is returned alongside a page of results.
type Meta struct {
	Page       int  `json:"page"`
	Limit      int  `json:"limit"`
	Total      int  `json:"total"`
	TotalPages int  `json:"totalPages"`
	HasNext    bool `json:"hasNext"`
	HasPrev    bool `json:"hasPrev"`
}

// Normalize fills defaults and clamps limit to MaxLimit.
func Normalize(page, limit int) (int, int) {
	if page < 1 {
		page = DefaultPage
	}
	if limit < 1 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	return page, limit
}

// Window returns the [start, end) slice bounds for page and the page metadata.
// page and limit must already be normalized.
func Window(page, limit, total int) (start, end int, meta Meta) {
	totalPages := (total + limit - 1) / limit
	start = min((page-1)*limit, total)
	end = min(start+limit, total)
	return start, end, Meta{
		Page:       page,
		Limit:      limit,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
		HasPrev:    page > 1,
	}
}
