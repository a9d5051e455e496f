package deadbolt

import (
	"github.com/aussiebroadwan/deadbolt/pkg/serialx"
)

// Page is one page of a paginated listing.
type Page[T any] struct {
	Items       []T `json:"items"`
	CurrentPage int `json:"currentPage"`
	PerPage     int `json:"perPage"`
	Total       int `json:"total"`

	// More is the service's own has-more flag, when it sends one.
	More *bool `json:"hasMore,omitempty"`
}

// HasMore reports whether later pages exist. The service's flag wins; without
// it the answer is derived from the total.
func (p *Page[T]) HasMore() bool {
	if p == nil {
		return false
	}
	if p.More != nil {
		return *p.More
	}
	if p.PerPage <= 0 {
		return false
	}
	return (p.CurrentPage+1)*p.PerPage < p.Total
}

// Next returns the index of the following page and whether there is one.
func (p *Page[T]) Next() (int, bool) {
	if !p.HasMore() {
		return 0, false
	}
	return p.CurrentPage + 1, true
}

// Len is the number of items on this page.
func (p *Page[T]) Len() int {
	if p == nil {
		return 0
	}
	return len(p.Items)
}

// decodePage builds a page whose items are decoded with item. An absent
// payload is an empty page rather than nil.
func decodePage[T any](payload any, item serialx.Mapping) (*Page[T], error) {
	page, err := serialx.Decode[Page[T]](payload, serialx.Mapping{
		"items": serialx.List[T](item),
	})
	if err != nil {
		return nil, err
	}
	if page == nil {
		page = &Page[T]{}
	}
	if page.Items == nil {
		page.Items = []T{}
	}
	return page, nil
}
