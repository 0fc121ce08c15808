package util

import (
	"fmt"
	"strings"
)

const (
	DefaultPerPage = 25
	MaxPerPage     = 500
)

// ListFilter holds the filtering, ordering and paging of a list request
type ListFilter struct {
	Filters []QueryFilter
	Order   []OrderClause
	Page    int
	PerPage int
}

// Fields is the set of column names a list endpoint accepts.
type Fields []string

func (f Fields) contains(field string) bool {
	for _, name := range f {
		if name == field {
			return true
		}
	}
	return false
}

func (f Fields) String() string {
	return strings.Join(f, ", ")
}

// NewListFilter parses the raw query and order parameters and checks every
// field against its allow list. Page and per-page are clamped to sane values.
func NewListFilter(query, order string, page, perPage int, queryFields, orderFields Fields) (ListFilter, error) {
	filter := ListFilter{Page: page, PerPage: perPage}
	filter.normalizePaging()

	filters, err := ParseQueryString(query)
	if err != nil {
		return filter, err
	}
	for _, f := range filters {
		if !queryFields.contains(f.Field) {
			return filter, fmt.Errorf("invalid query field: %s (valid fields: %s)", f.Field, queryFields)
		}
	}

	orders, err := ParseOrderString(order)
	if err != nil {
		return filter, err
	}
	for _, o := range orders {
		if !orderFields.contains(o.Field) {
			return filter, fmt.Errorf("invalid order field: %s (valid fields: %s)", o.Field, orderFields)
		}
	}

	filter.Filters = filters
	filter.Order = orders
	return filter, nil
}

func (f *ListFilter) normalizePaging() {
	if f.Page < 1 {
		f.Page = 1
	}
	switch {
	case f.PerPage < 1:
		f.PerPage = DefaultPerPage
	case f.PerPage > MaxPerPage:
		f.PerPage = MaxPerPage
	}
}
