package catalog

import (
	"sort"
	"strings"

	"github.com/imrishuroy/textile-storefront/internal/pagination"
)

// Sort keys accepted by Query.SortBy.
const (
	SortByName      = "name"
	SortByPrice     = "price"
	SortByCategory  = "category"
	SortByCreatedAt = "createdAt"
	SortByStock     = "stock"
)

// Query filters, sorts and paginates the catalog.
type Query struct {
	Search    string
	Category  string
	MinPrice  *float64
	MaxPrice  *float64
	SortBy    string
	SortOrder string
	Page      int
	Limit     int
}

// Page is one page of a catalog listing.
type Page struct {
	Products   []Product       `json:"products"`
	Pagination pagination.Meta `json:"pagination"`
}

// Normalize clamps paging values and fills defaults.
func (q Query) Normalize() Query {
	q.Page, q.Limit = pagination.Normalize(q.Page, q.Limit)
	switch q.SortBy {
	case SortByName, SortByPrice, SortByCategory, SortByCreatedAt, SortByStock:
	default:
		q.SortBy = SortByCreatedAt
	}
	if q.SortOrder != "asc" {
		q.SortOrder = "desc"
	}
	if strings.EqualFold(q.Category, "all") {
		q.Category = ""
	}
	q.Search = strings.TrimSpace(q.Search)
	return q
}

// Apply runs the query over products without modifying the input slice.
func (q Query) Apply(products []Product) Page {
	q = q.Normalize()

	matched := make([]Product, 0, len(products))
	needle := strings.ToLower(q.Search)
	for _, p := range products {
		if q.Category != "" && p.Category != q.Category {
			continue
		}
		if q.MinPrice != nil && p.Price < *q.MinPrice {
			continue
		}
		if q.MaxPrice != nil && p.Price > *q.MaxPrice {
			continue
		}
		if needle != "" &&
			!strings.Contains(strings.ToLower(p.Name), needle) &&
			!strings.Contains(strings.ToLower(p.Description), needle) &&
			!strings.Contains(strings.ToLower(p.Category), needle) {
			continue
		}
		matched = append(matched, p)
	}

	less := lessFunc(q.SortBy)
	sort.SliceStable(matched, func(i, j int) bool {
		if q.SortOrder == "asc" {
			return less(matched[i], matched[j])
		}
		return less(matched[j], matched[i])
	})

	start, end, meta := pagination.Window(q.Page, q.Limit, len(matched))
	return Page{Products: matched[start:end], Pagination: meta}
}

func lessFunc(sortBy string) func(a, b Product) bool {
	switch sortBy {
	case SortByName:
		return func(a, b Product) bool { return strings.ToLower(a.Name) < strings.ToLower(b.Name) }
	case SortByPrice:
		return func(a, b Product) bool { return a.Price < b.Price }
	case SortByCategory:
		return func(a, b Product) bool { return a.Category < b.Category }
	case SortByStock:
		return func(a, b Product) bool { return a.Stock < b.Stock }
	default:
		return func(a, b Product) bool { return a.CreatedAt.Before(b.CreatedAt) }
	}
}

func categories(products []Product) []string {
	seen := map[string]struct{}{}
	out := []string{}
	for _, p := range products {
		if p.Category == "" {
			continue
		}
		if _, ok := seen[p.Category]; ok {
			continue
		}
		seen[p.Category] = struct{}{}
		out = append(out, p.Category)
	}
	sort.Strings(out)
	return out
}
