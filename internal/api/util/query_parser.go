package util

import (
	"fmt"
	"strings"
)

type QueryOperator string

const (
	OpEq        QueryOperator = "eq"
	OpNe        QueryOperator = "ne"
	OpGt        QueryOperator = "gt"
	OpGte       QueryOperator = "gte"
	OpLt        QueryOperator = "lt"
	OpLte       QueryOperator = "lte"
	OpIn        QueryOperator = "in"
	OpNin       QueryOperator = "nin"
	OpLike      QueryOperator = "like"
	OpIsNull    QueryOperator = "isnull"
	OpIsNotNull QueryOperator = "isnotnull"
)

// Operators that take no value
var unaryOperators = map[QueryOperator]bool{
	OpIsNull:    true,
	OpIsNotNull: true,
}

var binaryOperators = map[QueryOperator]bool{
	OpEq:   true,
	OpNe:   true,
	OpGt:   true,
	OpGte:  true,
	OpLt:   true,
	OpLte:  true,
	OpIn:   true,
	OpNin:  true,
	OpLike: true,
}

const (
	termSeparator  = ","
	partSeparator  = "|"
	valueSeparator = ";"
)

// QueryFilter is one condition. Value is a string, or a []string for in/nin.
type QueryFilter struct {
	Field    string
	Operator QueryOperator
	Value    interface{}
}

type OrderDirection string

const (
	OrderAsc  OrderDirection = "asc"
	OrderDesc OrderDirection = "desc"
)

type OrderClause struct {
	Field     string
	Direction OrderDirection
}

// ParseQueryString parses comma separated conditions of the form
// field|value, field|isnull, field|isnotnull or field|op|value. The values
// of in and nin are separated by semicolons: status|in|available;error.
func ParseQueryString(queryStr string) ([]QueryFilter, error) {
	var filters []QueryFilter
	for _, term := range splitTerms(queryStr) {
		parts := strings.SplitN(term, partSeparator, 3)
		if len(parts) < 2 || parts[0] == "" {
			return nil, fmt.Errorf("invalid query format: %s (expected field|value or field|operator|value)", term)
		}
		field := parts[0]

		if len(parts) == 2 {
			op := QueryOperator(strings.ToLower(parts[1]))
			if unaryOperators[op] {
				filters = append(filters, QueryFilter{Field: field, Operator: op})
			} else {
				filters = append(filters, QueryFilter{Field: field, Operator: OpEq, Value: parts[1]})
			}
			continue
		}

		op := QueryOperator(strings.ToLower(parts[1]))
		if !binaryOperators[op] {
			return nil, fmt.Errorf("invalid operator: %s", parts[1])
		}
		filter := QueryFilter{Field: field, Operator: op, Value: parts[2]}
		if op == OpIn || op == OpNin {
			values := strings.Split(parts[2], valueSeparator)
			if len(values) == 1 && values[0] == "" {
				return nil, fmt.Errorf("operator %s needs at least one value", op)
			}
			filter.Value = values
		}
		filters = append(filters, filter)
	}
	return filters, nil
}

// ParseOrderString parses comma separated field|asc or field|desc clauses.
func ParseOrderString(orderStr string) ([]OrderClause, error) {
	var orders []OrderClause
	for _, term := range splitTerms(orderStr) {
		field, dir, ok := strings.Cut(term, partSeparator)
		if !ok || field == "" || strings.Contains(dir, partSeparator) {
			return nil, fmt.Errorf("invalid order format: %s (expected field|direction)", term)
		}
		direction := OrderDirection(strings.ToLower(dir))
		if direction != OrderAsc && direction != OrderDesc {
			return nil, fmt.Errorf("invalid order direction: %s (expected asc or desc)", dir)
		}
		orders = append(orders, OrderClause{Field: field, Direction: direction})
	}
	return orders, nil
}

func splitTerms(s string) []string {
	var terms []string
	for _, term := range strings.Split(s, termSeparator) {
		if term = strings.TrimSpace(term); term != "" {
			terms = append(terms, term)
		}
	}
	return terms
}
