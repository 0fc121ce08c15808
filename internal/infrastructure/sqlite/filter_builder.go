package sqlite

import (
	"fmt"
	"strings"
	"time"

	"github.com/martijn/vmvault/internal/api/util"
)

var datetimeFields = map[string]bool{
	"start_time":  true,
	"end_time":    true,
	"created_at":  true,
	"updated_at":  true,
	"finished_at": true,
}

var datetimeInputLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// normalizeDateTime rewrites user supplied datetimes to "2006-01-02 15:04:05".
// The driver stores "2006-01-02 15:04:05.999999999+00:00", and the space
// separated form compares correctly against it as a string.
func normalizeDateTime(value string) string {
	for _, layout := range datetimeInputLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC().Format("2006-01-02 15:04:05")
		}
	}
	return value
}

func listPlaceholders(values []string) (string, []interface{}) {
	placeholders := make([]string, len(values))
	args := make([]interface{}, len(values))
	for i, v := range values {
		placeholders[i] = "?"
		args[i] = v
	}
	return strings.Join(placeholders, ", "), args
}

// BuildFilterClause builds a SQL WHERE clause from a QueryFilter. Field names
// are expected to be validated against an allow list by the caller.
func BuildFilterClause(f util.QueryFilter) (string, []interface{}) {
	value := f.Value
	if datetimeFields[f.Field] {
		if s, ok := value.(string); ok {
			value = normalizeDateTime(s)
		}
	}

	switch f.Operator {
	case util.OpEq:
		return fmt.Sprintf("%s = ?", f.Field), []interface{}{value}
	case util.OpNe:
		return fmt.Sprintf("%s != ?", f.Field), []interface{}{value}
	case util.OpGt:
		return fmt.Sprintf("%s > ?", f.Field), []interface{}{value}
	case util.OpGte:
		return fmt.Sprintf("%s >= ?", f.Field), []interface{}{value}
	case util.OpLt:
		return fmt.Sprintf("%s < ?", f.Field), []interface{}{value}
	case util.OpLte:
		return fmt.Sprintf("%s <= ?", f.Field), []interface{}{value}
	case util.OpLike:
		return fmt.Sprintf("%s LIKE ?", f.Field), []interface{}{"%" + fmt.Sprint(value) + "%"}
	case util.OpIsNull:
		return fmt.Sprintf("%s IS NULL", f.Field), nil
	case util.OpIsNotNull:
		return fmt.Sprintf("%s IS NOT NULL", f.Field), nil
	case util.OpIn, util.OpNin:
		values, ok := f.Value.([]string)
		if !ok || len(values) == 0 {
			return "", nil
		}
		placeholders, args := listPlaceholders(values)
		op := "IN"
		if f.Operator == util.OpNin {
			op = "NOT IN"
		}
		return fmt.Sprintf("%s %s (%s)", f.Field, op, placeholders), args
	default:
		return "", nil
	}
}

// ApplyFilters appends every filter as an AND clause
func ApplyFilters(query string, args []interface{}, filters []util.QueryFilter) (string, []interface{}) {
	for _, f := range filters {
		clause, filterArgs := BuildFilterClause(f)
		if clause != "" {
			query += " AND " + clause
			args = append(args, filterArgs...)
		}
	}
	return query, args
}

func ApplyOrdering(query string, orders []util.OrderClause, defaultOrder string) string {
	if len(orders) == 0 {
		return query + " ORDER BY " + defaultOrder
	}
	clauses := make([]string, 0, len(orders))
	for _, o := range orders {
		direction := "ASC"
		if o.Direction == util.OrderDesc {
			direction = "DESC"
		}
		clauses = append(clauses, fmt.Sprintf("%s %s", o.Field, direction))
	}
	return query + " ORDER BY " + strings.Join(clauses, ", ")
}

func ApplyPagination(query string, args []interface{}, page, perPage int) (string, []interface{}) {
	if perPage > 0 {
		query += " LIMIT ?"
		args = append(args, perPage)

		if page > 1 {
			query += " OFFSET ?"
			args = append(args, (page-1)*perPage)
		}
	}
	return query, args
}
