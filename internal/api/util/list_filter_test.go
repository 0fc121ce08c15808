package util

import (
	"reflect"
	"testing"
)

func TestParseQueryString(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		want    []QueryFilter
		wantErr bool
	}{
		{name: "empty", query: ""},
		{
			name:  "implicit equality",
			query: "status|available",
			want:  []QueryFilter{{Field: "status", Operator: OpEq, Value: "available"}},
		},
		{
			name:  "null checks",
			query: "end_time|isnull, finished_at|ISNOTNULL",
			want: []QueryFilter{
				{Field: "end_time", Operator: OpIsNull},
				{Field: "finished_at", Operator: OpIsNotNull},
			},
		},
		{
			name:  "explicit operator keeps pipes in value",
			query: "name|like|web|db",
			want:  []QueryFilter{{Field: "name", Operator: OpLike, Value: "web|db"}},
		},
		{
			name:  "in list next to another term",
			query: "status|in|available;error,type|full",
			want: []QueryFilter{
				{Field: "status", Operator: OpIn, Value: []string{"available", "error"}},
				{Field: "type", Operator: OpEq, Value: "full"},
			},
		},
		{name: "unknown operator", query: "status|about|x", wantErr: true},
		{name: "missing value", query: "status", wantErr: true},
		{name: "empty in list", query: "status|in|", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseQueryString(tt.query)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseQueryString(%q) error = %v, wantErr %v", tt.query, err, tt.wantErr)
			}
			if !tt.wantErr && !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseQueryString(%q) = %#v, want %#v", tt.query, got, tt.want)
			}
		})
	}
}

func TestParseOrderString(t *testing.T) {
	got, err := ParseOrderString("created_at|DESC,name|asc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []OrderClause{{Field: "created_at", Direction: OrderDesc}, {Field: "name", Direction: OrderAsc}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %#v, want %#v", got, want)
	}

	for _, bad := range []string{"created_at", "created_at|sideways", "a|asc|b"} {
		if _, err := ParseOrderString(bad); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}

func TestNewListFilter(t *testing.T) {
	fields := Fields{"status", "created_at"}

	f, err := NewListFilter("status|available", "created_at|asc", 0, 0, fields, fields)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Page != 1 || f.PerPage != DefaultPerPage {
		t.Errorf("expected default paging, got page %d per_page %d", f.Page, f.PerPage)
	}
	if len(f.Filters) != 1 || len(f.Order) != 1 {
		t.Errorf("expected one filter and one order, got %+v", f)
	}

	f, _ = NewListFilter("", "", 3, 10000, fields, fields)
	if f.Page != 3 || f.PerPage != MaxPerPage {
		t.Errorf("expected per_page clamped to %d, got %d", MaxPerPage, f.PerPage)
	}

	if _, err := NewListFilter("owner|bob", "", 1, 10, fields, fields); err == nil {
		t.Error("expected error for unknown query field")
	}
	if _, err := NewListFilter("", "size|asc", 1, 10, fields, fields); err == nil {
		t.Error("expected error for unknown order field")
	}
}
